// Package app is the composition root: bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"heraldapp.io/herald/internal/api/handlers"
	"heraldapp.io/herald/internal/api/middleware"
	"heraldapp.io/herald/internal/auth"
	"heraldapp.io/herald/internal/config"
	"heraldapp.io/herald/internal/domain"
	"heraldapp.io/herald/internal/infrastructure"
	"heraldapp.io/herald/internal/jobs"
	"heraldapp.io/herald/internal/mail"
	"heraldapp.io/herald/internal/notification"
	"heraldapp.io/herald/internal/pkg/worker"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/realtime"
	"heraldapp.io/herald/internal/store"
)

// Application holds composed application dependencies.
type Application struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *infrastructure.DatabaseClients
	Pools    *worker.Pools
	Registry *realtime.Registry

	// Dispatcher is the embedded notification worker; nil when
	// worker.enabled is false (API-only deployment).
	Dispatcher *notification.Dispatcher
}

// Bootstrap initializes all dependencies using manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:  cfg.Pools.GeneralSize,
		DispatchPoolSize: cfg.Worker.DispatchConcurrency,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	backend := queue.NewPostgresStore(db.Pool, queue.RetryPolicy{
		Backoff: cfg.Worker.RetryBackoff,
		Cap:     cfg.Worker.RetryBackoffCap,
	})
	users := store.NewPostgresUsers(db.Pool)
	articles := store.NewPostgresArticles(db.Pool)
	prefs := store.NewPostgresPreferences(db.Pool)

	signingKey := []byte(cfg.Auth.JWTSecret)
	tokens := auth.NewVerificationTokens(signingKey, cfg.Auth.Issuer, cfg.Auth.VerificationTTL)

	registry := realtime.NewRegistry()
	gateway := realtime.NewGateway(registry, backend, signingKey, cfg.Realtime)

	events := domain.NewEventDispatcher()
	receiver := notification.NewReceiver(backend, prefs, users, tokens, notification.ReceiverConfig{
		BaseURL:          cfg.Server.BaseURL,
		MaxAttempts:      cfg.Worker.MaxAttempts,
		InAppMaxAttempts: cfg.Worker.InAppMaxAttempts,
	})
	receiver.RegisterHandlers(events)

	deliveryHandlers := notification.NewHandlerRegistry()
	deliveryHandlers.Register(notification.NewEmailHandler(users, mail.NewSMTPMailer(cfg.SMTP)))
	deliveryHandlers.Register(notification.NewInAppHandler(registry))

	var dispatcher *notification.Dispatcher
	if cfg.Worker.Enabled {
		dispatcher = notification.NewDispatcher(backend, deliveryHandlers, prefs, pools.Dispatch, cfg.Worker)
	}

	// Periodic archival of terminal jobs through River; once daily and
	// once on startup.
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewArchiveWorker(backend, cfg.Archive.Retention))
	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(cfg.Archive.Interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return jobs.ArchiveArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
	if err := db.InitRiverClient(workers, periodic, cfg.River); err != nil {
		pools.Shutdown()
		db.Close()
		return nil, fmt.Errorf("init river: %w", err)
	}

	jwtCfg := middleware.JWTConfig{
		SigningKey: signingKey,
		Issuer:     cfg.Auth.Issuer,
		ExpiresIn:  cfg.Auth.TokenTTL,
	}
	server := handlers.NewServer(handlers.ServerDeps{
		Users:    users,
		Articles: articles,
		Prefs:    prefs,
		Inbox:    backend,
		Events:   events,
		Tokens:   tokens,
		JWTCfg:   jwtCfg,
		Pool:     db.Pool,
	})

	return &Application{
		Config:     cfg,
		Router:     newRouter(cfg, server, gateway, signingKey),
		DB:         db,
		Pools:      pools,
		Registry:   registry,
		Dispatcher: dispatcher,
	}, nil
}
