package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EnqueueParams describes a job to persist.
type EnqueueParams struct {
	Recipient string
	Channel   Channel
	Payload   Payload

	// MaxAttempts stamps the per-job attempt ceiling. Zero falls back
	// to the backend's default for the channel.
	MaxAttempts int
}

// Backend is the storage/queue abstraction the dispatch worker and the
// producers share. Implementations must be safe for concurrent use from
// many producers and multiple worker instances.
//
// Store-level failures are wrapped so errors.IsTransientStore holds; the
// worker backs off and retries the cycle instead of crashing.
type Backend interface {
	// Enqueue persists a new job in pending state and returns its ID.
	Enqueue(ctx context.Context, params EnqueueParams) (uuid.UUID, error)

	// FetchBatch atomically claims up to maxN due pending jobs on the
	// given channels, transitioning them to in_progress. No job is ever
	// claimed by two callers. Returns an empty slice without blocking
	// when nothing is pending.
	FetchBatch(ctx context.Context, channels []Channel, maxN int) ([]*Job, error)

	// MarkResult records a delivery outcome. A nil deliveryErr marks the
	// job sent. A non-nil error increments attempt_count and stores the
	// message; the job goes back to pending with a backoff when the
	// error is retryable and attempts remain, otherwise it fails
	// terminally. Re-recording the same outcome on a terminal job is a
	// no-op.
	MarkResult(ctx context.Context, jobID uuid.UUID, deliveryErr error) error

	// RecoverStale resets in_progress jobs older than staleAfter back to
	// pending and returns how many were recovered. Run at worker startup
	// and periodically, it unsticks jobs orphaned by a crashed claimant.
	RecoverStale(ctx context.Context, staleAfter time.Duration) (int, error)
}

// Inbox exposes in-app jobs as the user's notification inbox.
// Only sent, unarchived in-app jobs are visible.
type Inbox interface {
	// ListInbox returns a page of inbox entries, newest first, plus the
	// total count.
	ListInbox(ctx context.Context, recipient string, unreadOnly bool, page, perPage int) ([]*Job, int, error)

	// UnreadCount returns the number of unread inbox entries.
	UnreadCount(ctx context.Context, recipient string) (int, error)

	// ListUnread returns all unread inbox entries oldest first, used to
	// replay missed notifications when a client reconnects.
	ListUnread(ctx context.Context, recipient string) ([]*Job, error)

	// MarkRead marks one entry read. Returns errors.ErrNotFound when the
	// job does not exist or belongs to another recipient.
	MarkRead(ctx context.Context, jobID uuid.UUID, recipient string) error

	// MarkAllRead marks every unread entry read.
	MarkAllRead(ctx context.Context, recipient string) error
}

// Archiver stamps archived_at on terminal jobs past the retention
// window. Archived rows stay in the table for audit but are invisible to
// claim and inbox queries.
type Archiver interface {
	ArchiveTerminal(ctx context.Context, retention time.Duration) (int, error)
}
