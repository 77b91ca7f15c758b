// Package fallback implements the escalating canned replies served when
// text generation comes back empty for a sender.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/edgard/personabot/internal/counter"
	"github.com/edgard/personabot/internal/metrics"
)

// DefaultTTL is how long a sender's tier survives without another miss.
const DefaultTTL = 3600 * time.Second

// Replies holds the persona-flavored text for each tier.
type Replies struct {
	Distracted string
	Busy       string
	Leaving    string
}

// Engine maps consecutive generation misses to a tier and its reply.
type Engine struct {
	counter counter.Store
	ttl     time.Duration
	replies Replies
	logger  *slog.Logger
}

// New creates an Engine. A zero ttl selects DefaultTTL.
func New(store counter.Store, ttl time.Duration, replies Replies, logger *slog.Logger) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		counter: store,
		ttl:     ttl,
		replies: replies,
		logger:  logger.With("component", "fallback"),
	}
}

// Key returns the counter key for a sender.
func Key(senderID int64) string {
	return fmt.Sprintf("fail_tier:%d", senderID)
}

// Resolve records one more miss for senderID and returns the reply for the
// resulting tier. A counter store failure degrades to tier 1.
func (e *Engine) Resolve(ctx context.Context, senderID int64) (string, int) {
	tier, err := e.counter.Incr(ctx, Key(senderID), e.ttl)
	if err != nil {
		e.logger.WarnContext(ctx, "Fail tier counter unavailable, using tier 1", "user_id", senderID, "error", err)
		tier = 1
	}
	e.logger.InfoContext(ctx, "Generation miss, serving fallback", "user_id", senderID, "tier", tier)
	metrics.FallbackTiers.WithLabelValues(strconv.FormatInt(min(tier, 3), 10)).Inc()
	return e.Reply(int(tier)), int(tier)
}

// Reply returns the canned text for tier.
func (e *Engine) Reply(tier int) string {
	switch {
	case tier <= 1:
		return e.replies.Distracted
	case tier == 2:
		return e.replies.Busy
	default:
		return e.replies.Leaving
	}
}

// Reset clears the escalation after a successful generation.
func (e *Engine) Reset(ctx context.Context, senderID int64) {
	if err := e.counter.Delete(ctx, Key(senderID)); err != nil {
		e.logger.WarnContext(ctx, "Failed to reset fail tier", "user_id", senderID, "error", err)
	}
}
