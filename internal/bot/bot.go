// Package bot owns the process lifecycle: it runs the control surface and
// the scheduler, brings the stored persona online at startup, and tears
// everything down in order when the context is cancelled.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/personabot/internal/config"
)

const startupActivationTimeout = time.Minute

// Server is the long-running HTTP surface.
type Server interface {
	Run(ctx context.Context) error
}

// Identity is the live persona session manager.
type Identity interface {
	Activate(ctx context.Context) error
	Shutdown(ctx context.Context)
}

// Broadcasts is the background campaign engine.
type Broadcasts interface {
	Shutdown(ctx context.Context) error
}

// Bot represents the main application and manages its components' lifecycle.
type Bot struct {
	logger     *slog.Logger
	cfg        *config.Config
	server     Server
	identity   Identity
	broadcasts Broadcasts
	scheduler  *Scheduler
}

// NewBot creates the orchestrator from already wired components.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	server Server,
	identity Identity,
	broadcasts Broadcasts,
	scheduler *Scheduler,
) *Bot {
	return &Bot{
		logger:     logger.With("component", "bot_orchestrator"),
		cfg:        cfg,
		server:     server,
		identity:   identity,
		broadcasts: broadcasts,
		scheduler:  scheduler,
	}
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails. A failed startup activation leaves the bot offline but
// running, so an operator can fix the persona through the control surface.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := b.server.Run(gCtx); err != nil {
			return fmt.Errorf("control surface stopped: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if _, err := b.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		b.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := b.scheduler.Stop(); err != nil {
			b.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		actx, cancel := context.WithTimeout(gCtx, startupActivationTimeout)
		defer cancel()
		if err := b.identity.Activate(actx); err != nil {
			b.logger.Error("Startup activation failed, bot is offline", "error", err)
		}
		return nil
	})

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	b.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

// shutdown retires the live session before draining broadcasts, so no new
// inbound turns start while campaigns finish.
func (b *Bot) shutdown() {
	timeout := b.cfg.Admin.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	b.identity.Shutdown(ctx)
	if err := b.broadcasts.Shutdown(ctx); err != nil {
		b.logger.Warn("Broadcasts interrupted by shutdown", "error", err)
	}
}
