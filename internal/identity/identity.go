// Package identity owns the single live Telegram bot identity and swaps it
// at runtime when the active persona changes.
//
// The current handle is published through an atomic pointer. Readers call
// Current once per operation and must tolerate nil; they never close the
// handle. Activations are serialized and always tear the old handle down
// before the new one is built, so two credentials never receive updates at
// the same time.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/metrics"
)

// ErrNoCredential is returned when neither the persona nor the process
// configuration provides a Telegram token.
var ErrNoCredential = errors.New("no telegram token for persona")

// Sender is the outbound surface of a live identity. *bot.Bot satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendInvoice(ctx context.Context, params *bot.SendInvoiceParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
	SendVideo(ctx context.Context, params *bot.SendVideoParams) (*models.Message, error)
	AnswerPreCheckoutQuery(ctx context.Context, params *bot.AnswerPreCheckoutQueryParams) (bool, error)
}

// Handle is one constructed identity bound to a persona and a credential.
type Handle struct {
	Persona database.Persona
	Sender  Sender
	// Inbound receives webhook deliveries. It is nil in polling mode.
	Inbound http.Handler

	closeFn   func(ctx context.Context) error
	closeOnce sync.Once
}

// NewHandle assembles a handle. closeFn deregisters the inbound route and
// stops update workers; it may be nil.
func NewHandle(persona database.Persona, sender Sender, inbound http.Handler, closeFn func(ctx context.Context) error) *Handle {
	return &Handle{Persona: persona, Sender: sender, Inbound: inbound, closeFn: closeFn}
}

// Close deregisters the inbound route and stops the update loop. It is safe
// to call more than once. Only the Manager closes handles it published.
func (h *Handle) Close(ctx context.Context) error {
	var err error
	h.closeOnce.Do(func() {
		if h.closeFn != nil {
			err = h.closeFn(ctx)
		}
	})
	return err
}

// Factory builds handles. Open must register the inbound route before
// returning, and the returned handle must already be receiving updates.
type Factory interface {
	Open(ctx context.Context, persona database.Persona, token string) (*Handle, error)
}

// Source yields the live handle, or nil when the bot is offline. *Manager
// implements it.
type Source interface {
	Current() *Handle
}

// PersonaSource yields the persona that should be live.
type PersonaSource interface {
	GetActivePersona(ctx context.Context) (*database.Persona, error)
}

// Manager serializes activations and publishes the live handle.
type Manager struct {
	source       PersonaSource
	factory      Factory
	defaultToken string
	logger       *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[Handle]
}

// NewManager creates a manager with no live identity.
func NewManager(source PersonaSource, factory Factory, defaultToken string, logger *slog.Logger) *Manager {
	return &Manager{
		source:       source,
		factory:      factory,
		defaultToken: defaultToken,
		logger:       logger.With("component", "identity_manager"),
	}
}

// Current returns the live handle or nil.
func (m *Manager) Current() *Handle {
	return m.current.Load()
}

// Activate brings the live identity in line with the stored active persona.
// A failed persona read keeps the current handle. A failed construction
// leaves no identity live until the next call.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	persona, err := m.source.GetActivePersona(ctx)
	if err != nil {
		metrics.IdentityActivations.WithLabelValues("failed").Inc()
		m.logger.ErrorContext(ctx, "Failed to read active persona, keeping current identity", "error", err)
		return fmt.Errorf("failed to read active persona: %w", err)
	}

	m.retire(ctx)

	if persona == nil {
		metrics.IdentityActivations.WithLabelValues("offline").Inc()
		m.logger.InfoContext(ctx, "No active persona, bot is offline")
		return nil
	}

	token := persona.TelegramToken
	if token == "" {
		token = m.defaultToken
	}
	if token == "" {
		metrics.IdentityActivations.WithLabelValues("failed").Inc()
		m.logger.ErrorContext(ctx, "Persona has no telegram token and no default is configured", "persona", persona.Name)
		return ErrNoCredential
	}

	h, err := m.factory.Open(ctx, *persona, token)
	if err != nil {
		metrics.IdentityActivations.WithLabelValues("failed").Inc()
		m.logger.ErrorContext(ctx, "Failed to construct bot identity", "persona", persona.Name, "error", err)
		return fmt.Errorf("failed to open identity for persona %q: %w", persona.Name, err)
	}

	m.current.Store(h)
	metrics.IdentityActivations.WithLabelValues("online").Inc()
	m.logger.InfoContext(ctx, "Bot identity online", "persona", persona.Name, "persona_id", persona.ID)
	return nil
}

// retire unpublishes the live handle and tears it down. Errors are logged only.
func (m *Manager) retire(ctx context.Context) {
	old := m.current.Swap(nil)
	if old == nil {
		return
	}
	if err := old.Close(ctx); err != nil {
		m.logger.WarnContext(ctx, "Error tearing down previous identity", "persona", old.Persona.Name, "error", err)
		return
	}
	m.logger.InfoContext(ctx, "Previous identity torn down", "persona", old.Persona.Name)
}

// Shutdown tears down the live handle and leaves the manager offline.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retire(ctx)
}

// ServeHTTP forwards webhook deliveries to the live handle. Deliveries that
// arrive while no identity is live are acknowledged and dropped so Telegram
// does not keep retrying them.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h := m.Current()
	if h == nil || h.Inbound == nil {
		m.logger.Debug("Webhook delivery dropped, no live identity")
		w.WriteHeader(http.StatusOK)
		return
	}
	h.Inbound.ServeHTTP(w, r)
}
