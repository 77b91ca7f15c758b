// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "personabot"

// Turn outcomes.
const (
	TurnReplied  = "replied"
	TurnCapped   = "capped"
	TurnOffer    = "offer"
	TurnDropped  = "dropped"
	TurnError    = "error"
	TurnSilent   = "silent"
	TurnFallback = "fallback"
)

var (
	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Conversation turns handled, by outcome.",
	}, []string{"outcome"})

	FallbackTiers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fallback_tier_total",
		Help:      "Canned fallback replies served, by tier.",
	}, []string{"tier"})

	BroadcastDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_deliveries_total",
		Help:      "Broadcast delivery attempts, by outcome.",
	}, []string{"outcome"})

	IdentityActivations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "identity_activations_total",
		Help:      "Identity activations, by result (online, offline, failed).",
	}, []string{"result"})

	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payments_total",
		Help:      "Successful payments processed, by payload kind.",
	}, []string{"kind"})

	GenerationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Latency of text generation calls, by provider.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"provider"})
)
