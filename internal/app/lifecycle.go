package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"heraldapp.io/herald/internal/pkg/logger"
)

// Start starts the background services: the River maintenance client
// and, when enabled, the embedded dispatch worker.
func (a *Application) Start(ctx context.Context) error {
	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Start(ctx); err != nil {
			return fmt.Errorf("start river client: %w", err)
		}
		logger.Info("River client started, maintenance jobs will now run")
	}

	if a.Dispatcher != nil {
		err := a.Pools.SubmitDetached("general", func(ctx context.Context) {
			if err := a.Dispatcher.Run(ctx); err != nil {
				logger.Error("dispatch worker exited", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("start dispatch worker: %w", err)
		}
	}
	return nil
}

// Shutdown gracefully shuts down all application components: stop
// claiming new work, drop live connections, drain pools, close the pool.
func (a *Application) Shutdown() {
	shutdownCtx := context.Background()

	if a.DB != nil && a.DB.RiverClient != nil {
		if err := a.DB.RiverClient.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop river client", zap.Error(err))
		} else {
			logger.Info("River client stopped")
		}
	}

	if a.Registry != nil {
		a.Registry.CloseAll()
	}

	// Cancels the service context, which stops the embedded worker, then
	// waits for in-flight deliveries to record their results.
	if a.Pools != nil {
		a.Pools.Shutdown()
	}

	if a.DB != nil {
		a.DB.Close()
	}
}
