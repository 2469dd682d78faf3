// Package main is the standalone Herald notification worker.
//
// It claims and delivers queued notification jobs without serving the
// HTTP API. The in-app channel needs the server's WebSocket connection
// registry, so this binary only registers the email handler; in-app
// jobs are left for server processes with an embedded worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"heraldapp.io/herald/internal/config"
	"heraldapp.io/herald/internal/infrastructure"
	"heraldapp.io/herald/internal/mail"
	"heraldapp.io/herald/internal/notification"
	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/pkg/worker"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("Starting Herald worker",
		zap.Strings("configured_channels", cfg.Worker.Channels),
		zap.Duration("poll_interval", cfg.Worker.PollInterval),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:  cfg.Pools.GeneralSize,
		DispatchPoolSize: cfg.Worker.DispatchConcurrency,
	})
	if err != nil {
		return fmt.Errorf("init worker pools: %w", err)
	}
	defer pools.Shutdown()

	backend := queue.NewPostgresStore(db.Pool, queue.RetryPolicy{
		Backoff: cfg.Worker.RetryBackoff,
		Cap:     cfg.Worker.RetryBackoffCap,
	})
	users := store.NewPostgresUsers(db.Pool)
	prefs := store.NewPostgresPreferences(db.Pool)

	handlers := notification.NewHandlerRegistry()
	handlers.Register(notification.NewEmailHandler(users, mail.NewSMTPMailer(cfg.SMTP)))

	// No connection registry in this process, so in_app is never claimable
	// here regardless of configuration.
	workerCfg := cfg.Worker
	workerCfg.Channels = withoutChannel(workerCfg.Channels, string(queue.ChannelInApp))

	dispatcher := notification.NewDispatcher(backend, handlers, prefs, pools.Dispatch, workerCfg)

	errCh := make(chan error, 1)
	err = pools.SubmitDetached("general", func(ctx context.Context) {
		errCh <- dispatcher.Run(ctx)
	})
	if err != nil {
		return fmt.Errorf("start dispatch worker: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("dispatch worker: %w", err)
		}
	}

	// Pools.Shutdown (deferred) cancels the worker context and waits for
	// in-flight deliveries to record their results.
	logger.Info("Worker stopped gracefully")
	return nil
}

func withoutChannel(channels []string, drop string) []string {
	out := make([]string, 0, len(channels))
	for _, ch := range channels {
		if ch != drop {
			out = append(out, ch)
		}
	}
	return out
}
