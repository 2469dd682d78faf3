package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/queue"
)

// Stores under test: the memory implementations directly, plus the
// Postgres implementations when a test database is configured (see
// store_postgres_test.go). Shared behavior lives in these exercisers.

func exerciseUsers(t *testing.T, users Users) {
	ctx := context.Background()

	alice, err := users.Create(ctx, "alice@example.com", "Alice", "hash-a")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, alice.ID)
	require.False(t, alice.Verified)

	bob, err := users.Create(ctx, "bob@example.com", "Bob", "hash-b")
	require.NoError(t, err)

	_, err = users.Create(ctx, "alice@example.com", "Impostor", "hash-x")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, "EMAIL_TAKEN", appErr.Code)

	got, err := users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got.Email)

	got, err = users.GetByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.Equal(t, bob.ID, got.ID)

	_, err = users.GetByID(ctx, uuid.New())
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, "USER_NOT_FOUND", appErr.Code)

	require.NoError(t, users.MarkVerified(ctx, alice.ID))
	got, err = users.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	require.True(t, got.Verified)

	err = users.MarkVerified(ctx, uuid.New())
	appErr, ok = apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, "USER_NOT_FOUND", appErr.Code)

	ids, err := users.ListIDs(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{bob.ID}, ids)
}

func exerciseArticles(t *testing.T, articles Articles, authorID uuid.UUID) {
	ctx := context.Background()

	for _, title := range []string{"first", "second", "third"} {
		_, err := articles.Create(ctx, authorID, title, "body of "+title)
		require.NoError(t, err)
	}

	page, total, err := articles.List(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 2)
	require.Equal(t, "third", page[0].Title, "newest first")

	page, total, err = articles.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page, 1)
	require.Equal(t, "first", page[0].Title)

	// Out-of-range pages are empty, not errors.
	page, _, err = articles.List(ctx, 9, 2)
	require.NoError(t, err)
	require.Empty(t, page)
}

func exercisePreferences(t *testing.T, prefs Preferences, userID uuid.UUID) {
	ctx := context.Background()

	// Default-enabled: no row yet.
	enabled, err := prefs.Enabled(ctx, userID, queue.ChannelEmail)
	require.NoError(t, err)
	require.True(t, enabled)

	require.NoError(t, prefs.Set(ctx, userID, queue.ChannelEmail, false))
	enabled, err = prefs.Enabled(ctx, userID, queue.ChannelEmail)
	require.NoError(t, err)
	require.False(t, enabled)

	// Other channels are unaffected.
	enabled, err = prefs.Enabled(ctx, userID, queue.ChannelInApp)
	require.NoError(t, err)
	require.True(t, enabled)

	// Upsert flips the existing row back.
	require.NoError(t, prefs.Set(ctx, userID, queue.ChannelEmail, true))
	enabled, err = prefs.Enabled(ctx, userID, queue.ChannelEmail)
	require.NoError(t, err)
	require.True(t, enabled)

	require.NoError(t, prefs.Set(ctx, userID, queue.ChannelInApp, false))
	rows, err := prefs.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, queue.ChannelEmail, rows[0].Channel)
	require.True(t, rows[0].Enabled)
	require.Equal(t, queue.ChannelInApp, rows[1].Channel)
	require.False(t, rows[1].Enabled)
}

func TestMemoryUsers(t *testing.T) {
	exerciseUsers(t, NewMemoryUsers())
}

func TestMemoryArticles(t *testing.T) {
	exerciseArticles(t, NewMemoryArticles(), uuid.New())
}

func TestMemoryPreferences(t *testing.T) {
	exercisePreferences(t, NewMemoryPreferences(), uuid.New())
}
