package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/queue"
)

// MemoryUsers is an in-memory Users store for tests.
type MemoryUsers struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*User
	order []uuid.UUID
}

// NewMemoryUsers creates an empty in-memory users store.
func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{users: make(map[uuid.UUID]*User)}
}

var _ Users = (*MemoryUsers)(nil)

// Create inserts a new unverified account.
func (s *MemoryUsers) Create(_ context.Context, email, name, passwordHash string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return nil, apperrors.Conflict("EMAIL_TAKEN", "email is already registered")
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	u := &User{
		ID: id, Email: email, Name: name, Password: passwordHash,
		CreatedAt: now, UpdatedAt: now,
	}
	s.users[id] = u
	s.order = append(s.order, id)
	clone := *u
	return &clone, nil
}

// GetByID fetches one account.
func (s *MemoryUsers) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound()
	}
	clone := *u
	return &clone, nil
}

// GetByEmail fetches one account by address.
func (s *MemoryUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, apperrors.ErrUserNotFound()
}

// MarkVerified flips the verified flag.
func (s *MemoryUsers) MarkVerified(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return apperrors.ErrUserNotFound()
	}
	u.Verified = true
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// ListIDs returns all user IDs except the excluded one.
func (s *MemoryUsers) ListIDs(_ context.Context, exclude uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for _, id := range s.order {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// MemoryArticles is an in-memory Articles store for tests.
type MemoryArticles struct {
	mu       sync.RWMutex
	articles []*Article
}

// NewMemoryArticles creates an empty in-memory articles store.
func NewMemoryArticles() *MemoryArticles {
	return &MemoryArticles{}
}

var _ Articles = (*MemoryArticles)(nil)

// Create inserts a new article.
func (s *MemoryArticles) Create(_ context.Context, authorID uuid.UUID, title, content string) (*Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	a := &Article{
		ID: id, AuthorID: authorID, Title: title, Content: content,
		CreatedAt: now, UpdatedAt: now,
	}
	s.articles = append(s.articles, a)
	clone := *a
	return &clone, nil
}

// List returns a page of articles, newest first.
func (s *MemoryArticles) List(_ context.Context, page, perPage int) ([]*Article, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Reverse insertion order stands in for created_at DESC.
	sorted := make([]*Article, 0, len(s.articles))
	for i := len(s.articles) - 1; i >= 0; i-- {
		sorted = append(sorted, s.articles[i])
	}

	total := len(sorted)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	out := make([]*Article, 0, end-start)
	for _, a := range sorted[start:end] {
		clone := *a
		out = append(out, &clone)
	}
	return out, total, nil
}

type prefKey struct {
	user    uuid.UUID
	channel queue.Channel
}

// MemoryPreferences is an in-memory Preferences store for tests.
type MemoryPreferences struct {
	mu    sync.RWMutex
	prefs map[prefKey]*Preference
}

// NewMemoryPreferences creates an empty in-memory preferences store.
func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{prefs: make(map[prefKey]*Preference)}
}

var _ Preferences = (*MemoryPreferences)(nil)

// Enabled reports whether the user accepts the channel.
// No row means default-enabled.
func (s *MemoryPreferences) Enabled(_ context.Context, userID uuid.UUID, channel queue.Channel) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[prefKey{userID, channel}]
	if !ok {
		return true, nil
	}
	return p.Enabled, nil
}

// Set upserts the (user, channel) row.
func (s *MemoryPreferences) Set(_ context.Context, userID uuid.UUID, channel queue.Channel, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefKey{userID, channel}] = &Preference{
		UserID: userID, Channel: channel, Enabled: enabled, UpdatedAt: time.Now().UTC(),
	}
	return nil
}

// List returns the user's explicit preference rows.
func (s *MemoryPreferences) List(_ context.Context, userID uuid.UUID) ([]*Preference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Preference
	for _, p := range s.prefs {
		if p.UserID == userID {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Channel < out[k].Channel })
	return out, nil
}
