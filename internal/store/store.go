// Package store provides Herald's relational stores: user accounts,
// articles and per-channel communication preferences.
//
// Each store is an interface with a Postgres implementation for
// production and a memory implementation for store-free tests, mirroring
// the queue's backend polymorphism.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"heraldapp.io/herald/internal/queue"
)

// User is a minimal account record. The notification job recipient is
// the user ID; the email handler resolves ID → address through this
// store.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Password  string    `json:"-"` // bcrypt hash
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Article is an authored post whose publication fans out notifications.
type Article struct {
	ID        uuid.UUID `json:"id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preference is one (user, channel) opt-in/opt-out row.
type Preference struct {
	UserID    uuid.UUID     `json:"user_id"`
	Channel   queue.Channel `json:"channel"`
	Enabled   bool          `json:"enabled"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Users stores account records.
type Users interface {
	Create(ctx context.Context, email, name, passwordHash string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	MarkVerified(ctx context.Context, id uuid.UUID) error

	// ListIDs returns all user IDs except the excluded one, used to fan
	// out article notifications to everyone but the author.
	ListIDs(ctx context.Context, exclude uuid.UUID) ([]uuid.UUID, error)
}

// Articles stores authored posts.
type Articles interface {
	Create(ctx context.Context, authorID uuid.UUID, title, content string) (*Article, error)
	List(ctx context.Context, page, perPage int) ([]*Article, int, error)
}

// Preferences stores per-channel opt-in/opt-out flags.
// Absence of a row means the channel is enabled (default-enabled rule);
// rows are created lazily on the first preference change.
type Preferences interface {
	// Enabled reports whether the user accepts the channel.
	Enabled(ctx context.Context, userID uuid.UUID, channel queue.Channel) (bool, error)

	// Set upserts the (user, channel) row.
	Set(ctx context.Context, userID uuid.UUID, channel queue.Channel, enabled bool) error

	// List returns the user's explicit preference rows.
	List(ctx context.Context, userID uuid.UUID) ([]*Preference, error)
}
