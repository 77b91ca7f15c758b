package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/cobra"

	"github.com/edgard/personabot/internal/admin"
	"github.com/edgard/personabot/internal/bot"
	"github.com/edgard/personabot/internal/bot/handlers"
	"github.com/edgard/personabot/internal/bot/tasks"
	"github.com/edgard/personabot/internal/broadcast"
	"github.com/edgard/personabot/internal/config"
	"github.com/edgard/personabot/internal/counter"
	"github.com/edgard/personabot/internal/database"
	"github.com/edgard/personabot/internal/fallback"
	"github.com/edgard/personabot/internal/identity"
	"github.com/edgard/personabot/internal/llm"
	"github.com/edgard/personabot/internal/logger"
	"github.com/edgard/personabot/internal/telegram"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "personabot",
		Short:         "Persona-driven Telegram companion bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the bot and its control surface (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return migrate(configPath)
		},
	})
	return root
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)
	return cfg, log, nil
}

func migrate(configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	database.CloseDB(db)
	log.Info("Migrations applied", "driver", cfg.Database.Driver)
	return nil
}

// serve wires every component and runs until ctx is cancelled.
func serve(ctx context.Context, configPath string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	counters, err := counter.Connect(ctx, cfg.Redis.URL, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := counters.Close(); err != nil {
			log.Error("Error closing counter store", "error", err)
		}
	}()

	fb := fallback.New(counters, cfg.Chat.FailTierTTL, fallback.Replies{
		Distracted: cfg.Chat.Messages.Distracted,
		Busy:       cfg.Chat.Messages.Busy,
		Leaving:    cfg.Chat.Messages.Leaving,
	}, log)

	// Sessions only deliver updates after activation, by which point the
	// dispatcher below is assigned.
	var dispatcher *handlers.Dispatcher
	factory := telegram.NewSessionFactory(cfg.Telegram, func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		dispatcher.Handle(ctx, b, update)
	}, log)
	manager := identity.NewManager(store, factory, cfg.Telegram.Token, log)

	dispatcher = handlers.NewDispatcher(handlers.HandlerDeps{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Counter:  counters,
		Fallback: fb,
		LLM:      llm.NewRouter(cfg.AI, log),
		Identity: manager,
	})

	engine := broadcast.New(store, manager, cfg.Broadcast, cfg.Chat, log)

	server := admin.NewServer(admin.Deps{
		Config:     cfg.Admin,
		Chat:       cfg.Chat,
		Store:      store,
		Identity:   manager,
		Activator:  manager,
		Webhook:    manager,
		Broadcasts: engine,
		Logger:     log,
	})

	sched, err := bot.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: log,
		Store:  store,
	}))
	if err != nil {
		return err
	}

	app := bot.NewBot(log, cfg, server, manager, engine, sched)
	log.Info("Starting personabot...")
	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("bot stopped: %w", err)
	}
	log.Info("personabot stopped gracefully.")
	return nil
}
