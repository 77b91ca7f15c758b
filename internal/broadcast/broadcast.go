// Package broadcast fans a campaign out to many users in the background,
// paced by a rate limiter and recorded one log row per recipient.
package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	tgbot "github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/metrics"
	"github.com/edgard/personabot/internal/payments"
)

// maxErrorLen bounds the error text stored per failed delivery.
const maxErrorLen = 512

// ErrEmptyCampaign is returned for a campaign with neither text nor media.
var ErrEmptyCampaign = errors.New("campaign needs text or media")

// Campaign is what an operator asks to send. Explicit UserIDs take
// precedence over Audience.
type Campaign struct {
	Text     string  `json:"text"`
	MediaID  int64   `json:"media_id,omitempty"`
	Audience string  `json:"audience"`
	UserIDs  []int64 `json:"user_ids,omitempty"`
}

// Engine launches campaigns and tracks their runs.
type Engine struct {
	store       database.Store
	identity    identity.Source
	invoices    payments.Invoices
	interval    time.Duration
	sendTimeout time.Duration
	logger      *slog.Logger

	// runs derive from ctx, never from the request that launched them.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine. Its runs live until Shutdown.
func New(store database.Store, ident identity.Source, cfg config.BroadcastConfig, chat config.ChatConfig, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	interval := cfg.SendInterval
	if interval <= 0 {
		interval = config.DefaultSendInterval
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = config.DefaultSendTimeout
	}
	return &Engine{
		store:       store,
		identity:    ident,
		invoices:    payments.NewInvoices(chat),
		interval:    interval,
		sendTimeout: sendTimeout,
		logger:      logger.With("component", "broadcast"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Launch validates the campaign, snapshots its recipients, stores it as
// processing and starts the run. It returns as soon as the run is scheduled.
func (e *Engine) Launch(ctx context.Context, c Campaign) (int64, error) {
	if c.Text == "" && c.MediaID == 0 {
		return 0, ErrEmptyCampaign
	}
	if c.MediaID != 0 {
		if _, err := e.store.GetMedia(ctx, c.MediaID); err != nil {
			return 0, fmt.Errorf("campaign media: %w", err)
		}
	}

	recipients, err := e.recipients(ctx, c)
	if err != nil {
		return 0, err
	}

	b := &database.Broadcast{
		Text:        c.Text,
		MediaID:     sql.NullInt64{Int64: c.MediaID, Valid: c.MediaID != 0},
		TargetCount: len(recipients),
	}
	if err := e.store.CreateBroadcast(ctx, b); err != nil {
		return 0, err
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(b.ID, recipients)
	}()

	e.logger.InfoContext(ctx, "Broadcast launched", "broadcast_id", b.ID, "recipients", len(recipients), "audience", c.Audience)
	return b.ID, nil
}

func (e *Engine) recipients(ctx context.Context, c Campaign) ([]int64, error) {
	if len(c.UserIDs) == 0 {
		return e.store.ListUserIDs(ctx, c.Audience)
	}
	seen := make(map[int64]struct{}, len(c.UserIDs))
	ids := make([]int64, 0, len(c.UserIDs))
	for _, id := range c.UserIDs {
		if _, dup := seen[id]; dup || id == 0 {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// run delivers campaign id to every recipient. The identity is resolved
// once; a persona swap mid-run does not switch senders.
func (e *Engine) run(id int64, recipients []int64) {
	ctx := e.ctx
	log := e.logger.With("broadcast_id", id)

	h := e.identity.Current()
	if h == nil {
		log.ErrorContext(ctx, "No live identity, broadcast aborted and left processing")
		return
	}

	b, err := e.store.GetBroadcast(ctx, id)
	if err != nil {
		log.ErrorContext(ctx, "Failed to load broadcast, aborting", "error", err)
		return
	}
	var media *database.MediaContent
	if b.MediaID.Valid {
		if media, err = e.store.GetMedia(ctx, b.MediaID.Int64); err != nil {
			log.ErrorContext(ctx, "Failed to load broadcast media, aborting", "error", err)
			return
		}
	}

	limiter := rate.NewLimiter(rate.Every(e.interval), 1)
	start := time.Now()
	var sent, failed int

	for _, userID := range recipients {
		if err := limiter.Wait(ctx); err != nil {
			log.WarnContext(ctx, "Broadcast interrupted, left processing", "sent", sent, "failed", failed, "error", err)
			return
		}

		entry := &database.BroadcastLog{BroadcastID: id, UserID: userID, Status: database.DeliverySent}
		if err := e.deliver(ctx, h, b, media, userID); err != nil {
			failed++
			entry.Status, entry.Error = database.DeliveryFailed, truncate(err.Error(), maxErrorLen)
			log.DebugContext(ctx, "Delivery failed", "user_id", userID, "error", err)
		} else {
			sent++
		}
		metrics.BroadcastDeliveries.WithLabelValues(entry.Status).Inc()

		if err := e.store.SaveBroadcastLog(ctx, entry); err != nil {
			log.WarnContext(ctx, "Failed to write delivery log", "user_id", userID, "error", err)
		}
	}

	if err := e.store.CompleteBroadcast(ctx, id, sent, failed); err != nil {
		log.ErrorContext(ctx, "Failed to mark broadcast completed", "error", err)
		return
	}
	log.InfoContext(ctx, "Broadcast completed", "sent", sent, "failed", failed, "duration", time.Since(start))
}

func (e *Engine) deliver(ctx context.Context, h *identity.Handle, b *database.Broadcast, media *database.MediaContent, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()

	if b.Text != "" {
		if _, err := h.Sender.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: userID, Text: b.Text}); err != nil {
			return err
		}
	}
	if media != nil {
		if _, err := h.Sender.SendInvoice(ctx, e.invoices.PPVInvoice(userID, media)); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown waits for in-flight runs until ctx expires, then interrupts them.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return fmt.Errorf("broadcast runs interrupted: %w", ctx.Err())
	}
}

// Wait blocks until every launched run has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so the result stays valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
