package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"heraldapp.io/herald/internal/config"
	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/pkg/worker"
	"heraldapp.io/herald/internal/queue"
	"heraldapp.io/herald/internal/store"
)

// Dispatcher is the notification worker: it polls the queue, claims a
// batch, re-checks preferences, and hands each job to its channel
// handler with bounded parallelism.
type Dispatcher struct {
	backend  queue.Backend
	handlers *Registry
	prefs    store.Preferences
	pool     *worker.Pool
	cfg      config.WorkerConfig

	channels []queue.Channel
}

// NewDispatcher creates the worker. The claimed channel set is the
// intersection of the configured channels and the registered handlers,
// so a worker never claims jobs it cannot deliver.
func NewDispatcher(backend queue.Backend, handlers *Registry, prefs store.Preferences, pool *worker.Pool, cfg config.WorkerConfig) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 30 * time.Second
	}

	registered := make(map[queue.Channel]bool)
	for _, ch := range handlers.Channels() {
		registered[ch] = true
	}
	var channels []queue.Channel
	for _, name := range cfg.Channels {
		ch := queue.Channel(name)
		if registered[ch] {
			channels = append(channels, ch)
		} else {
			logger.Warn("configured channel has no handler, skipping",
				zap.String("channel", name))
		}
	}

	return &Dispatcher{
		backend:  backend,
		handlers: handlers,
		prefs:    prefs,
		pool:     pool,
		cfg:      cfg,
		channels: channels,
	}
}

// Channels returns the channel set this worker claims.
func (d *Dispatcher) Channels() []queue.Channel { return d.channels }

// Run polls until ctx is cancelled, then drains the in-flight batch.
// It runs a recovery sweep immediately and on every sweep tick.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.channels) == 0 {
		return errors.New("dispatch worker has no claimable channels")
	}

	logger.Info("dispatch worker started",
		zap.Any("channels", d.channels),
		zap.Duration("poll_interval", d.cfg.PollInterval),
		zap.Int("batch_size", d.cfg.BatchSize))

	d.sweep(ctx)

	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(d.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("dispatch worker stopping")
			return nil
		case <-sweep.C:
			d.sweep(ctx)
		case <-poll.C:
			d.cycle(ctx)
		}
	}
}

// sweep resets orphaned in_progress rows from crashed claimants.
func (d *Dispatcher) sweep(ctx context.Context) {
	n, err := d.backend.RecoverStale(ctx, d.cfg.StaleAfter)
	if err != nil {
		logger.Error("stale job recovery failed", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Warn("recovered stale jobs",
			zap.Int("count", n),
			zap.Duration("stale_after", d.cfg.StaleAfter))
	}
}

// cycle claims and dispatches one batch. A transient store error backs
// the whole cycle off instead of spinning against a down database.
func (d *Dispatcher) cycle(ctx context.Context) {
	batch, err := d.backend.FetchBatch(ctx, d.channels, d.cfg.BatchSize)
	if err != nil {
		logger.Error("claim batch failed", zap.Error(err))
		if apperrors.IsTransientStore(err) {
			d.backoff(ctx)
		}
		return
	}
	if len(batch) == 0 {
		return
	}

	logger.Debug("claimed batch", zap.Int("jobs", len(batch)))

	// Bounded parallel dispatch. The cycle returns only once every
	// claimed job has either recorded a result or been deliberately left
	// in_progress for the sweep; that is what lets shutdown drain.
	var wg sync.WaitGroup
	for _, job := range batch {
		job := job
		wg.Add(1)
		err := d.pool.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			d.dispatch(taskCtx, job)
		})
		if err != nil {
			// Claimed but never handed to the pool: not a delivery attempt.
			// Leave the row in_progress for the stale sweep.
			wg.Done()
			logger.Error("dispatch submit failed, leaving job for sweep",
				zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	wg.Wait()
}

// dispatch runs one claimed job through suppression check, handler
// resolution and delivery, then records the result.
func (d *Dispatcher) dispatch(ctx context.Context, job *queue.Job) {
	if ctx.Err() != nil {
		// Shutdown won the race before delivery started: leave the row
		// in_progress for the stale sweep, no attempt consumed.
		logger.Info("shutdown before delivery, leaving job for sweep",
			zap.String("job_id", job.ID.String()))
		return
	}

	result := d.deliver(ctx, job)
	if apperrors.IsTransientStore(result) {
		// Not a delivery attempt: leave the row in_progress so the stale
		// sweep re-queues it without consuming the attempt budget.
		logger.Error("store error during dispatch, leaving job for sweep",
			zap.String("job_id", job.ID.String()),
			zap.Error(result))
		return
	}
	d.record(ctx, job.ID, result)
}

func (d *Dispatcher) deliver(ctx context.Context, job *queue.Job) error {
	// Preference re-check at dispatch time: an opt-out that landed after
	// enqueue suppresses the job terminally.
	if userID, err := uuid.Parse(job.Recipient); err == nil {
		enabled, err := d.prefs.Enabled(ctx, userID, job.Channel)
		if err != nil {
			return apperrors.Store("preference_recheck", err)
		}
		if !enabled {
			logger.Info("suppressing job by preference",
				zap.String("job_id", job.ID.String()),
				zap.String("recipient", job.Recipient),
				zap.String("channel", string(job.Channel)))
			return apperrors.ErrSuppressed
		}
	}

	handler, err := d.handlers.Resolve(job.Channel)
	if err != nil {
		// Claim filtering should prevent this; a job for an unknown
		// channel can never succeed here.
		return apperrors.Terminal(err)
	}

	start := time.Now()
	if err := handler.Deliver(ctx, job); err != nil {
		logger.Warn("delivery failed",
			zap.String("job_id", job.ID.String()),
			zap.String("channel", string(job.Channel)),
			zap.Int("attempt", job.AttemptCount+1),
			zap.Error(err))
		return err
	}

	logger.Info("delivery succeeded",
		zap.String("job_id", job.ID.String()),
		zap.String("channel", string(job.Channel)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// record persists the delivery outcome. Result recording must not be
// lost to request cancellation, so it falls back to a short independent
// timeout when ctx is already done; if recording still fails the job
// stays in_progress and the stale sweep re-queues it.
func (d *Dispatcher) record(ctx context.Context, jobID uuid.UUID, deliveryErr error) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := d.backend.MarkResult(ctx, jobID, deliveryErr); err != nil {
		logger.Error("recording delivery result failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err))
	}
}

// backoff sleeps out the error window unless shutdown interrupts it.
func (d *Dispatcher) backoff(ctx context.Context) {
	logger.Warn("backing off after store error",
		zap.Duration("backoff", d.cfg.ErrorBackoff))
	select {
	case <-ctx.Done():
	case <-time.After(d.cfg.ErrorBackoff):
	}
}

// RunOnce executes a single claim/dispatch cycle. Tests and the seed
// tool drive the worker deterministically through this.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	if len(d.channels) == 0 {
		return fmt.Errorf("dispatch worker has no claimable channels")
	}
	d.cycle(ctx)
	return nil
}
