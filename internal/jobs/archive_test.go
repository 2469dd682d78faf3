package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/require"

	"heraldapp.io/herald/internal/pkg/logger"
	"heraldapp.io/herald/internal/queue"
)

func init() {
	_ = logger.Init("error", "json")
}

func TestArchiveArgs_Kind(t *testing.T) {
	require.Equal(t, "notification_archive", ArchiveArgs{}.Kind())
}

func TestArchiveArgs_InsertOptsDailyUnique(t *testing.T) {
	opts := ArchiveArgs{}.InsertOpts()
	require.Equal(t, 1, opts.MaxAttempts)
	require.Equal(t, 24*time.Hour, opts.UniqueOpts.ByPeriod)
	require.True(t, opts.UniqueOpts.ByQueue)
}

func TestArchiveWorker_Work(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore(queue.DefaultRetryPolicy())

	// One terminal job past retention, one still pending.
	oldID, err := store.Enqueue(ctx, queue.EnqueueParams{
		Recipient: "u1", Channel: queue.ChannelEmail, Payload: queue.Payload{},
	})
	require.NoError(t, err)
	batch, err := store.FetchBatch(ctx, []queue.Channel{queue.ChannelEmail}, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, store.MarkResult(ctx, oldID, nil))

	pendingID, err := store.Enqueue(ctx, queue.EnqueueParams{
		Recipient: "u1", Channel: queue.ChannelEmail, Payload: queue.Payload{},
	})
	require.NoError(t, err)

	// Zero retention: anything terminal is past the window.
	w := &ArchiveWorker{archiver: store, retention: time.Nanosecond}
	require.NoError(t, w.Work(ctx, &river.Job[ArchiveArgs]{}))

	archived, ok := store.Get(oldID)
	require.True(t, ok)
	require.NotNil(t, archived.ArchivedAt)

	pending, ok := store.Get(pendingID)
	require.True(t, ok)
	require.Nil(t, pending.ArchivedAt, "non-terminal rows are never archived")
}

func TestArchiveWorker_Uninitialized(t *testing.T) {
	var w *ArchiveWorker
	require.Error(t, w.Work(context.Background(), &river.Job[ArchiveArgs]{}))
}

func TestNewArchiveWorker_RetentionDefault(t *testing.T) {
	w := NewArchiveWorker(queue.NewMemoryStore(queue.DefaultRetryPolicy()), 0)
	require.Equal(t, DefaultArchiveRetention, w.retention)
}
