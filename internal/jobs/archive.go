// Package jobs defines River Queue job types for periodic maintenance.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
)

// DefaultArchiveRetention keeps terminal notification jobs visible for
// 90 days before they are archived.
const DefaultArchiveRetention = 90 * 24 * time.Hour

// ArchiveArgs is the periodic job that stamps archived_at on terminal
// notification jobs past retention. Jobs are never deleted; archived
// rows just drop out of claim and inbox queries.
type ArchiveArgs struct{}

// Kind returns the job kind identifier.
func (ArchiveArgs) Kind() string { return "notification_archive" }

// InsertOpts ensures at most one archival run is enqueued per day.
func (ArchiveArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// ArchiveWorker archives terminal jobs older than the retention window.
type ArchiveWorker struct {
	river.WorkerDefaults[ArchiveArgs]
	archiver  queue.Archiver
	retention time.Duration
}

// NewArchiveWorker creates an archive worker. Non-positive retention
// falls back to the 90-day default.
func NewArchiveWorker(archiver queue.Archiver, retention time.Duration) *ArchiveWorker {
	if retention <= 0 {
		retention = DefaultArchiveRetention
	}
	return &ArchiveWorker{archiver: archiver, retention: retention}
}

// Work stamps archived_at on eligible rows.
func (w *ArchiveWorker) Work(ctx context.Context, _ *river.Job[ArchiveArgs]) error {
	if w == nil || w.archiver == nil {
		return fmt.Errorf("archive worker is not initialized")
	}

	archived, err := w.archiver.ArchiveTerminal(ctx, w.retention)
	if err != nil {
		return fmt.Errorf("archive terminal jobs: %w", err)
	}

	logger.Info("notification archival completed",
		zap.Int("archived_rows", archived),
		zap.Duration("retention", w.retention),
	)
	return nil
}
