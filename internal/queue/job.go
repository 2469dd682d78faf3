// Package queue implements Herald's durable notification job queue.
//
// A Backend persists jobs and hands them to the dispatch worker under an
// at-most-one-claimant guarantee: claiming is a single conditional
// pending → in_progress transition, so no two worker instances can claim
// the same job. Delivery is at-least-once; jobs are never deleted, only
// archived after reaching a terminal status.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a notification delivery medium.
// The set is open: registering a handler for a new channel requires no
// queue or worker changes.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// Status is the lifecycle state of a job.
// Transitions: pending → in_progress → {sent, failed}; a retryable
// failure with attempts remaining resets in_progress → pending.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Payload is the channel-specific structured content of a job.
// Email payloads carry subject/body_text/body_html; in-app payloads are
// pushed to the client as-is.
type Payload map[string]any

// GetString returns the string value under key, or "" when absent or of
// another type.
func (p Payload) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Job is a single (recipient, channel, payload) unit of delivery work.
type Job struct {
	ID        uuid.UUID `json:"id"`
	Recipient string    `json:"recipient"`
	Channel   Channel   `json:"channel"`
	Payload   Payload   `json:"payload"`
	Status    Status    `json:"status"`

	// AttemptCount counts failed delivery attempts. MaxAttempts is
	// stamped at enqueue time; in-app jobs get a shorter ceiling.
	AttemptCount int    `json:"attempt_count"`
	MaxAttempts  int    `json:"max_attempts"`
	LastError    string `json:"last_error,omitempty"`

	// NextAttemptAt gates claiming: a retried job is invisible to
	// FetchBatch until its backoff elapses.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// Read/ReadAt implement the in-app inbox on the job row itself.
	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// Clone returns a deep-enough copy for handing across goroutines.
func (j *Job) Clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = make(Payload, len(j.Payload))
		for k, v := range j.Payload {
			c.Payload[k] = v
		}
	}
	return &c
}

// maxErrorLen bounds last_error so transport stack traces cannot bloat
// the job row.
const maxErrorLen = 255

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}

// RetryPolicy computes the backoff before a failed job becomes claimable
// again: Backoff doubling per attempt, capped at Cap.
type RetryPolicy struct {
	Backoff time.Duration
	Cap     time.Duration
}

// DefaultRetryPolicy matches the worker configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Backoff: 30 * time.Second, Cap: 30 * time.Minute}
}

// Delay returns the backoff before attempt n+1, where n is the number of
// failures so far (n >= 1).
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := p.Backoff
	for i := 1; i < failures; i++ {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}
