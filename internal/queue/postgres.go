package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/pkg/logger"
)

// PostgresStore is the database-queue Backend.
//
// Claiming uses a single conditional UPDATE over a FOR UPDATE SKIP LOCKED
// subselect, so concurrent worker instances never claim the same job and
// never block each other.
type PostgresStore struct {
	pool  *pgxpool.Pool
	retry RetryPolicy
}

// NewPostgresStore creates a job store backed by the shared pool.
func NewPostgresStore(pool *pgxpool.Pool, retry RetryPolicy) *PostgresStore {
	if retry.Backoff <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &PostgresStore{pool: pool, retry: retry}
}

var (
	_ Backend  = (*PostgresStore)(nil)
	_ Inbox    = (*PostgresStore)(nil)
	_ Archiver = (*PostgresStore)(nil)
)

const jobColumns = `id, recipient, channel, payload, status, attempt_count, max_attempts,
	COALESCE(last_error, ''), next_attempt_at, read, read_at, created_at, updated_at, archived_at`

func scanJob(row pgx.Row) (*Job, error) {
	var (
		j       Job
		channel string
		status  string
	)
	err := row.Scan(
		&j.ID, &j.Recipient, &channel, &j.Payload, &status,
		&j.AttemptCount, &j.MaxAttempts, &j.LastError, &j.NextAttemptAt,
		&j.Read, &j.ReadAt, &j.CreatedAt, &j.UpdatedAt, &j.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Channel = Channel(channel)
	j.Status = Status(status)
	return &j, nil
}

// Enqueue persists a new pending job.
func (s *PostgresStore) Enqueue(ctx context.Context, params EnqueueParams) (uuid.UUID, error) {
	if params.Recipient == "" {
		return uuid.Nil, apperrors.BadRequest("JOB_RECIPIENT_REQUIRED", "recipient is required")
	}
	if params.Channel == "" {
		return uuid.Nil, apperrors.BadRequest("JOB_CHANNEL_REQUIRED", "channel is required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notification_jobs
			(id, recipient, channel, payload, status, attempt_count, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, now(), now(), now())`,
		id, params.Recipient, string(params.Channel), params.Payload, maxAttempts,
	)
	if err != nil {
		return uuid.Nil, apperrors.Store("enqueue", err)
	}

	logger.Debug("job enqueued",
		zap.String("job_id", id.String()),
		zap.String("recipient", params.Recipient),
		zap.String("channel", string(params.Channel)),
	)
	return id, nil
}

// FetchBatch claims up to maxN due pending jobs on the given channels.
func (s *PostgresStore) FetchBatch(ctx context.Context, channels []Channel, maxN int) ([]*Job, error) {
	if maxN <= 0 || len(channels) == 0 {
		return nil, nil
	}
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = string(c)
	}

	rows, err := s.pool.Query(ctx, `
		UPDATE notification_jobs SET status = 'in_progress', updated_at = now()
		WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE status = 'pending'
			  AND channel = ANY($1)
			  AND next_attempt_at <= now()
			  AND archived_at IS NULL
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		names, maxN,
	)
	if err != nil {
		return nil, apperrors.Store("fetch_batch", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Store("fetch_batch", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("fetch_batch", err)
	}
	return jobs, nil
}

// MarkResult records a delivery outcome for one job.
func (s *PostgresStore) MarkResult(ctx context.Context, jobID uuid.UUID, deliveryErr error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Store("mark_result", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	row := tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1 FOR UPDATE`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("JOB_NOT_FOUND", fmt.Sprintf("job %s does not exist", jobID))
		}
		return apperrors.Store("mark_result", err)
	}

	// Only claimed rows accept results: terminal rows are immutable, and
	// a row already re-queued to pending must not have its attempt budget
	// consumed by a duplicate recording.
	if j.Status != StatusInProgress {
		return tx.Commit(ctx)
	}

	if deliveryErr == nil {
		if _, err := tx.Exec(ctx, `
			UPDATE notification_jobs
			SET status = 'sent', last_error = NULL, updated_at = now()
			WHERE id = $1`, jobID); err != nil {
			return apperrors.Store("mark_result", err)
		}
		return tx.Commit(ctx)
	}

	attempts := j.AttemptCount + 1
	if apperrors.IsTerminal(deliveryErr) || attempts >= j.MaxAttempts {
		if _, err := tx.Exec(ctx, `
			UPDATE notification_jobs
			SET status = 'failed', attempt_count = $2, last_error = $3, updated_at = now()
			WHERE id = $1`, jobID, attempts, truncateError(deliveryErr)); err != nil {
			return apperrors.Store("mark_result", err)
		}
		return tx.Commit(ctx)
	}

	delay := s.retry.Delay(attempts)
	if _, err := tx.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'pending', attempt_count = $2, last_error = $3,
		    next_attempt_at = now() + $4, updated_at = now()
		WHERE id = $1`, jobID, attempts, truncateError(deliveryErr), delay); err != nil {
		return apperrors.Store("mark_result", err)
	}
	return tx.Commit(ctx)
}

// RecoverStale resets orphaned in_progress jobs back to pending.
func (s *PostgresStore) RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'pending', updated_at = now()
		WHERE status = 'in_progress' AND updated_at < now() - $1`,
		staleAfter,
	)
	if err != nil {
		return 0, apperrors.Store("recover_stale", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Inbox ---

const inboxFilter = `recipient = $1 AND channel = 'in_app' AND status = 'sent' AND archived_at IS NULL`

// ListInbox returns a page of the recipient's in-app inbox, newest first.
func (s *PostgresStore) ListInbox(ctx context.Context, recipient string, unreadOnly bool, page, perPage int) ([]*Job, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	filter := inboxFilter
	if unreadOnly {
		filter += ` AND read = false`
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notification_jobs WHERE `+filter, recipient,
	).Scan(&total); err != nil {
		return nil, 0, apperrors.Store("inbox_count", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM notification_jobs WHERE `+filter+`
		 ORDER BY created_at DESC OFFSET $2 LIMIT $3`,
		recipient, (page-1)*perPage, perPage,
	)
	if err != nil {
		return nil, 0, apperrors.Store("inbox_list", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, apperrors.Store("inbox_list", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Store("inbox_list", err)
	}
	return jobs, total, nil
}

// UnreadCount returns how many inbox entries are unread.
func (s *PostgresStore) UnreadCount(ctx context.Context, recipient string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM notification_jobs WHERE `+inboxFilter+` AND read = false`,
		recipient,
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Store("unread_count", err)
	}
	return n, nil
}

// ListUnread returns unread inbox entries oldest first for reconnect replay.
func (s *PostgresStore) ListUnread(ctx context.Context, recipient string) ([]*Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM notification_jobs WHERE `+inboxFilter+` AND read = false
		 ORDER BY created_at`,
		recipient,
	)
	if err != nil {
		return nil, apperrors.Store("list_unread", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.Store("list_unread", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("list_unread", err)
	}
	return jobs, nil
}

// MarkRead marks one inbox entry read.
func (s *PostgresStore) MarkRead(ctx context.Context, jobID uuid.UUID, recipient string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_jobs SET read = true, read_at = now(), updated_at = now()
		WHERE id = $1 AND recipient = $2 AND read = false`,
		jobID, recipient,
	)
	if err != nil {
		return apperrors.Store("mark_read", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "already read" (fine) from "not yours / missing".
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM notification_jobs WHERE id = $1 AND recipient = $2)`,
			jobID, recipient,
		).Scan(&exists); err != nil {
			return apperrors.Store("mark_read", err)
		}
		if !exists {
			return apperrors.NotFound("NOTIFICATION_NOT_FOUND", "notification does not exist")
		}
	}
	return nil
}

// MarkAllRead marks every unread inbox entry read.
func (s *PostgresStore) MarkAllRead(ctx context.Context, recipient string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notification_jobs SET read = true, read_at = now(), updated_at = now()
		WHERE `+inboxFilter+` AND read = false`,
		recipient,
	)
	if err != nil {
		return apperrors.Store("mark_all_read", err)
	}
	return nil
}

// --- Archiver ---

// ArchiveTerminal stamps archived_at on terminal jobs older than retention.
func (s *PostgresStore) ArchiveTerminal(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_jobs SET archived_at = now(), updated_at = now()
		WHERE status IN ('sent', 'failed')
		  AND archived_at IS NULL
		  AND updated_at < now() - $1`,
		retention,
	)
	if err != nil {
		return 0, apperrors.Store("archive_terminal", err)
	}
	return int(tag.RowsAffected()), nil
}
