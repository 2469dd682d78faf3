package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/testutil"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	pool := testutil.OpenPGXPool(t, "queue")
	return NewPostgresStore(pool, DefaultRetryPolicy())
}

func TestPostgresStore_EnqueueFetchMark(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	id, err := s.Enqueue(ctx, EnqueueParams{
		Recipient:   "u1",
		Channel:     ChannelEmail,
		Payload:     Payload{"subject": "Welcome", "body_text": "hi"},
		MaxAttempts: 3,
	})
	require.NoError(t, err)

	batch, err := s.FetchBatch(ctx, []Channel{ChannelEmail}, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.Equal(t, id, batch[0].ID)
	require.Equal(t, StatusInProgress, batch[0].Status)
	require.Equal(t, "Welcome", batch[0].Payload.GetString("subject"))

	// Claimed jobs are invisible to further fetches.
	again, err := s.FetchBatch(ctx, []Channel{ChannelEmail}, 10)
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, s.MarkResult(ctx, id, nil))

	// Terminal rows are immutable: re-recording must not corrupt state.
	require.NoError(t, s.MarkResult(ctx, id, errors.New("late failure")))

	var status string
	var attempts int
	err = s.pool.QueryRow(ctx,
		`SELECT status, attempt_count FROM notification_jobs WHERE id = $1`, id,
	).Scan(&status, &attempts)
	require.NoError(t, err)
	require.Equal(t, "sent", status)
	require.Zero(t, attempts)
}

func TestPostgresStore_NoDuplicateClaims(t *testing.T) {
	// At-most-one-claimant: concurrent FetchBatch callers racing on the
	// same pending set must partition it.
	ctx := context.Background()
	s := newPostgresStore(t)

	const total = 100
	for i := 0; i < total; i++ {
		_, err := s.Enqueue(ctx, EnqueueParams{
			Recipient: "u1", Channel: ChannelEmail, Payload: Payload{}, MaxAttempts: 3,
		})
		require.NoError(t, err)
	}

	const claimers = 6
	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() { //nolint:naked-goroutine // test helper
			defer wg.Done()
			for {
				batch, err := s.FetchBatch(ctx, []Channel{ChannelEmail}, 9)
				if err != nil {
					t.Error(err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, j := range batch {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestPostgresStore_RetryThenFail(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, "queue_retry")
	// Zero-length cap keeps retried jobs immediately claimable in tests.
	s := NewPostgresStore(pool, RetryPolicy{Backoff: time.Nanosecond, Cap: time.Nanosecond})

	id, err := s.Enqueue(ctx, EnqueueParams{
		Recipient: "u2", Channel: ChannelInApp, Payload: Payload{}, MaxAttempts: 2,
	})
	require.NoError(t, err)

	cause := apperrors.Transport("in_app", apperrors.ErrOffline)
	for attempt := 1; attempt <= 2; attempt++ {
		batch, err := s.FetchBatch(ctx, []Channel{ChannelInApp}, 1)
		require.NoError(t, err)
		require.Len(t, batch, 1, "attempt %d", attempt)
		require.NoError(t, s.MarkResult(ctx, id, cause))
	}

	var status, lastError string
	var attempts int
	err = pool.QueryRow(ctx,
		`SELECT status, attempt_count, last_error FROM notification_jobs WHERE id = $1`, id,
	).Scan(&status, &attempts, &lastError)
	require.NoError(t, err)
	require.Equal(t, "failed", status)
	require.Equal(t, 2, attempts)
	require.Contains(t, lastError, "offline")

	// Failed terminally: never claimable again.
	batch, err := s.FetchBatch(ctx, []Channel{ChannelInApp}, 1)
	require.NoError(t, err)
	require.Empty(t, batch)
}

func TestPostgresStore_MarkResultRequiresClaim(t *testing.T) {
	ctx := context.Background()
	pool := testutil.OpenPGXPool(t, "queue_claim")
	s := NewPostgresStore(pool, RetryPolicy{Backoff: time.Nanosecond, Cap: time.Nanosecond})

	id, err := s.Enqueue(ctx, EnqueueParams{
		Recipient: "u1", Channel: ChannelEmail, Payload: Payload{}, MaxAttempts: 3,
	})
	require.NoError(t, err)

	cause := apperrors.Transport("email", errors.New("connection refused"))

	// Never claimed: recording a result is a no-op.
	require.NoError(t, s.MarkResult(ctx, id, cause))

	var status string
	var attempts int
	readRow := func() {
		t.Helper()
		err := pool.QueryRow(ctx,
			`SELECT status, attempt_count FROM notification_jobs WHERE id = $1`, id,
		).Scan(&status, &attempts)
		require.NoError(t, err)
	}
	readRow()
	require.Equal(t, "pending", status)
	require.Zero(t, attempts)

	// Claimed failure consumes one attempt and re-queues.
	batch, err := s.FetchBatch(ctx, []Channel{ChannelEmail}, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, s.MarkResult(ctx, id, cause))
	readRow()
	require.Equal(t, "pending", status)
	require.Equal(t, 1, attempts)

	// A duplicate recording on the re-queued row must not burn another
	// attempt without an intervening claim.
	require.NoError(t, s.MarkResult(ctx, id, cause))
	readRow()
	require.Equal(t, "pending", status)
	require.Equal(t, 1, attempts)
}

func TestPostgresStore_SuppressedIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	id, err := s.Enqueue(ctx, EnqueueParams{
		Recipient: "u1", Channel: ChannelEmail, Payload: Payload{}, MaxAttempts: 3,
	})
	require.NoError(t, err)

	_, err = s.FetchBatch(ctx, []Channel{ChannelEmail}, 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkResult(ctx, id, apperrors.ErrSuppressed))

	var status, lastError string
	err = s.pool.QueryRow(ctx,
		`SELECT status, last_error FROM notification_jobs WHERE id = $1`, id,
	).Scan(&status, &lastError)
	require.NoError(t, err)
	require.Equal(t, "failed", status)
	require.Equal(t, "suppressed", lastError)
}

func TestPostgresStore_RecoverStale(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	id, err := s.Enqueue(ctx, EnqueueParams{
		Recipient: "u1", Channel: ChannelEmail, Payload: Payload{}, MaxAttempts: 3,
	})
	require.NoError(t, err)

	_, err = s.FetchBatch(ctx, []Channel{ChannelEmail}, 1)
	require.NoError(t, err)

	// Backdate the claim beyond the staleness window.
	_, err = s.pool.Exec(ctx,
		`UPDATE notification_jobs SET updated_at = now() - interval '10 minutes' WHERE id = $1`, id)
	require.NoError(t, err)

	n, err := s.RecoverStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	batch, err := s.FetchBatch(ctx, []Channel{ChannelEmail}, 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestPostgresStore_InboxAndArchive(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		id, err := s.Enqueue(ctx, EnqueueParams{
			Recipient: "u1", Channel: ChannelInApp,
			Payload: Payload{"text": "hello"}, MaxAttempts: 2,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	batch, err := s.FetchBatch(ctx, []Channel{ChannelInApp}, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for _, j := range batch {
		require.NoError(t, s.MarkResult(ctx, j.ID, nil))
	}

	entries, total, err := s.ListInbox(ctx, "u1", false, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, entries, 2)

	count, err := s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	unread, err := s.ListUnread(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unread, 3)
	require.Equal(t, ids[0], unread[0].ID, "replay order is oldest first")

	require.NoError(t, s.MarkRead(ctx, ids[0], "u1"))
	require.NoError(t, s.MarkRead(ctx, ids[0], "u1"), "second mark is a no-op")

	err = s.MarkRead(ctx, ids[1], "intruder")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, "NOTIFICATION_NOT_FOUND", appErr.Code)

	require.NoError(t, s.MarkAllRead(ctx, "u1"))
	count, err = s.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, count)

	// Backdate and archive; archived rows leave the inbox.
	_, err = s.pool.Exec(ctx,
		`UPDATE notification_jobs SET updated_at = now() - interval '100 days'`)
	require.NoError(t, err)

	n, err := s.ArchiveTerminal(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	_, total, err = s.ListInbox(ctx, "u1", false, 1, 10)
	require.NoError(t, err)
	require.Zero(t, total)
}
