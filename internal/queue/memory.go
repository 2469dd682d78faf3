package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
)

// MemoryStore is an in-memory Backend for tests and single-process
// development runs. It honors the same claim, retry and inbox semantics
// as the Postgres store, with process lifetime durability only.
type MemoryStore struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*Job
	order []uuid.UUID
	retry RetryPolicy

	// nowFn is swapped in tests to control retry and staleness timing.
	nowFn func() time.Time
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore(retry RetryPolicy) *MemoryStore {
	if retry.Backoff <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &MemoryStore{
		jobs:  make(map[uuid.UUID]*Job),
		retry: retry,
		nowFn: time.Now,
	}
}

var (
	_ Backend  = (*MemoryStore)(nil)
	_ Inbox    = (*MemoryStore)(nil)
	_ Archiver = (*MemoryStore)(nil)
)

// Enqueue persists a new pending job.
func (s *MemoryStore) Enqueue(_ context.Context, params EnqueueParams) (uuid.UUID, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	s.jobs[id] = &Job{
		ID:            id,
		Recipient:     params.Recipient,
		Channel:       params.Channel,
		Payload:       params.Payload,
		Status:        StatusPending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.order = append(s.order, id)
	return id, nil
}

// FetchBatch claims up to maxN due pending jobs on the given channels.
func (s *MemoryStore) FetchBatch(_ context.Context, channels []Channel, maxN int) ([]*Job, error) {
	if maxN <= 0 || len(channels) == 0 {
		return nil, nil
	}
	wanted := make(map[Channel]bool, len(channels))
	for _, c := range channels {
		wanted[c] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	var claimed []*Job
	for _, id := range s.order {
		if len(claimed) >= maxN {
			break
		}
		j := s.jobs[id]
		if j.Status != StatusPending || !wanted[j.Channel] || j.ArchivedAt != nil {
			continue
		}
		if j.NextAttemptAt.After(now) {
			continue
		}
		j.Status = StatusInProgress
		j.UpdatedAt = now
		claimed = append(claimed, j.Clone())
	}
	return claimed, nil
}

// MarkResult records a delivery outcome for one job.
func (s *MemoryStore) MarkResult(_ context.Context, jobID uuid.UUID, deliveryErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return apperrors.NotFound("JOB_NOT_FOUND", fmt.Sprintf("job %s does not exist", jobID))
	}

	// Only claimed rows accept results: terminal rows are immutable, and
	// a row already re-queued to pending must not have its attempt budget
	// consumed by a duplicate recording.
	if j.Status != StatusInProgress {
		return nil
	}

	now := s.nowFn()
	j.UpdatedAt = now

	if deliveryErr == nil {
		j.Status = StatusSent
		j.LastError = ""
		return nil
	}

	j.AttemptCount++
	j.LastError = truncateError(deliveryErr)
	if apperrors.IsTerminal(deliveryErr) || j.AttemptCount >= j.MaxAttempts {
		j.Status = StatusFailed
		return nil
	}

	j.Status = StatusPending
	j.NextAttemptAt = now.Add(s.retry.Delay(j.AttemptCount))
	return nil
}

// RecoverStale resets orphaned in_progress jobs back to pending.
func (s *MemoryStore) RecoverStale(_ context.Context, staleAfter time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	cutoff := now.Add(-staleAfter)
	var n int
	for _, j := range s.jobs {
		if j.Status == StatusInProgress && j.UpdatedAt.Before(cutoff) {
			j.Status = StatusPending
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Get returns a copy of a job for assertions and debugging.
func (s *MemoryStore) Get(jobID uuid.UUID) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// --- Inbox ---

func (s *MemoryStore) inboxEntries(recipient string, unreadOnly bool) []*Job {
	var out []*Job
	for _, id := range s.order {
		j := s.jobs[id]
		if j.Recipient != recipient || j.Channel != ChannelInApp {
			continue
		}
		if j.Status != StatusSent || j.ArchivedAt != nil {
			continue
		}
		if unreadOnly && j.Read {
			continue
		}
		out = append(out, j)
	}
	return out
}

// ListInbox returns a page of the recipient's inbox, newest first.
func (s *MemoryStore) ListInbox(_ context.Context, recipient string, unreadOnly bool, page, perPage int) ([]*Job, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.inboxEntries(recipient, unreadOnly)
	sort.SliceStable(entries, func(i, k int) bool {
		return entries[i].CreatedAt.After(entries[k].CreatedAt)
	})

	total := len(entries)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	out := make([]*Job, 0, end-start)
	for _, j := range entries[start:end] {
		out = append(out, j.Clone())
	}
	return out, total, nil
}

// UnreadCount returns how many inbox entries are unread.
func (s *MemoryStore) UnreadCount(_ context.Context, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inboxEntries(recipient, true)), nil
}

// ListUnread returns unread inbox entries oldest first.
func (s *MemoryStore) ListUnread(_ context.Context, recipient string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.inboxEntries(recipient, true)
	out := make([]*Job, 0, len(entries))
	for _, j := range entries {
		out = append(out, j.Clone())
	}
	return out, nil
}

// MarkRead marks one inbox entry read.
func (s *MemoryStore) MarkRead(_ context.Context, jobID uuid.UUID, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.Recipient != recipient {
		return apperrors.NotFound("NOTIFICATION_NOT_FOUND", "notification does not exist")
	}
	if !j.Read {
		now := s.nowFn()
		j.Read = true
		j.ReadAt = &now
		j.UpdatedAt = now
	}
	return nil
}

// MarkAllRead marks every unread inbox entry read.
func (s *MemoryStore) MarkAllRead(_ context.Context, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	for _, j := range s.inboxEntries(recipient, true) {
		j.Read = true
		readAt := now
		j.ReadAt = &readAt
		j.UpdatedAt = now
	}
	return nil
}

// --- Archiver ---

// ArchiveTerminal stamps archived_at on terminal jobs older than retention.
func (s *MemoryStore) ArchiveTerminal(_ context.Context, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	cutoff := now.Add(-retention)
	var n int
	for _, j := range s.jobs {
		if j.Status.Terminal() && j.ArchivedAt == nil && j.UpdatedAt.Before(cutoff) {
			archivedAt := now
			j.ArchivedAt = &archivedAt
			n++
		}
	}
	return n, nil
}
