package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
	"heraldapp.io/herald/internal/queue"
)

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// PostgresUsers is the Users store backed by the shared pool.
type PostgresUsers struct {
	pool *pgxpool.Pool
}

// NewPostgresUsers creates the Postgres users store.
func NewPostgresUsers(pool *pgxpool.Pool) *PostgresUsers {
	return &PostgresUsers{pool: pool}
}

var _ Users = (*PostgresUsers)(nil)

const userColumns = `id, email, name, password, verified, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Password, &u.Verified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new unverified account.
func (s *PostgresUsers) Create(ctx context.Context, email, name, passwordHash string) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, name, password, verified)
		VALUES ($1, $2, $3, $4, false)
		RETURNING `+userColumns,
		id, email, name, passwordHash,
	)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Conflict("EMAIL_TAKEN", "email is already registered")
		}
		return nil, apperrors.Store("user_create", err)
	}
	return u, nil
}

// GetByID fetches one account.
func (s *PostgresUsers) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound()
		}
		return nil, apperrors.Store("user_get", err)
	}
	return u, nil
}

// GetByEmail fetches one account by address.
func (s *PostgresUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrUserNotFound()
		}
		return nil, apperrors.Store("user_get", err)
	}
	return u, nil
}

// MarkVerified flips the verified flag.
func (s *PostgresUsers) MarkVerified(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET verified = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return apperrors.Store("user_verify", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrUserNotFound()
	}
	return nil
}

// ListIDs returns all user IDs except the excluded one.
func (s *PostgresUsers) ListIDs(ctx context.Context, exclude uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM users WHERE id <> $1 ORDER BY created_at`, exclude)
	if err != nil {
		return nil, apperrors.Store("user_list", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Store("user_list", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("user_list", err)
	}
	return ids, nil
}

// PostgresArticles is the Articles store backed by the shared pool.
type PostgresArticles struct {
	pool *pgxpool.Pool
}

// NewPostgresArticles creates the Postgres articles store.
func NewPostgresArticles(pool *pgxpool.Pool) *PostgresArticles {
	return &PostgresArticles{pool: pool}
}

var _ Articles = (*PostgresArticles)(nil)

// Create inserts a new article.
func (s *PostgresArticles) Create(ctx context.Context, authorID uuid.UUID, title, content string) (*Article, error) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	var a Article
	err = s.pool.QueryRow(ctx, `
		INSERT INTO articles (id, author_id, title, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, author_id, title, content, created_at, updated_at`,
		id, authorID, title, content,
	).Scan(&a.ID, &a.AuthorID, &a.Title, &a.Content, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperrors.Store("article_create", err)
	}
	return &a, nil
}

// List returns a page of articles, newest first, plus the total count.
func (s *PostgresArticles) List(ctx context.Context, page, perPage int) ([]*Article, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM articles`).Scan(&total); err != nil {
		return nil, 0, apperrors.Store("article_list", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, author_id, title, content, created_at, updated_at
		FROM articles ORDER BY created_at DESC, id DESC OFFSET $1 LIMIT $2`,
		(page-1)*perPage, perPage,
	)
	if err != nil {
		return nil, 0, apperrors.Store("article_list", err)
	}
	defer rows.Close()

	var articles []*Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.ID, &a.AuthorID, &a.Title, &a.Content, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, 0, apperrors.Store("article_list", err)
		}
		articles = append(articles, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Store("article_list", err)
	}
	return articles, total, nil
}

// PostgresPreferences is the Preferences store backed by the shared pool.
type PostgresPreferences struct {
	pool *pgxpool.Pool
}

// NewPostgresPreferences creates the Postgres preferences store.
func NewPostgresPreferences(pool *pgxpool.Pool) *PostgresPreferences {
	return &PostgresPreferences{pool: pool}
}

var _ Preferences = (*PostgresPreferences)(nil)

// Enabled reports whether the user accepts the channel.
// No row means default-enabled.
func (s *PostgresPreferences) Enabled(ctx context.Context, userID uuid.UUID, channel queue.Channel) (bool, error) {
	var enabled bool
	err := s.pool.QueryRow(ctx, `
		SELECT enabled FROM communication_preferences
		WHERE user_id = $1 AND channel = $2`,
		userID, string(channel),
	).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, apperrors.Store("preference_get", err)
	}
	return enabled, nil
}

// Set upserts the (user, channel) row.
func (s *PostgresPreferences) Set(ctx context.Context, userID uuid.UUID, channel queue.Channel, enabled bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO communication_preferences (user_id, channel, enabled, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, channel)
		DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = now()`,
		userID, string(channel), enabled,
	)
	if err != nil {
		return apperrors.Store("preference_set", err)
	}
	return nil
}

// List returns the user's explicit preference rows.
func (s *PostgresPreferences) List(ctx context.Context, userID uuid.UUID) ([]*Preference, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, channel, enabled, updated_at
		FROM communication_preferences WHERE user_id = $1 ORDER BY channel`,
		userID,
	)
	if err != nil {
		return nil, apperrors.Store("preference_list", err)
	}
	defer rows.Close()

	var prefs []*Preference
	for rows.Next() {
		var p Preference
		var channel string
		if err := rows.Scan(&p.UserID, &channel, &p.Enabled, &p.UpdatedAt); err != nil {
			return nil, apperrors.Store("preference_list", err)
		}
		p.Channel = queue.Channel(channel)
		prefs = append(prefs, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("preference_list", err)
	}
	return prefs, nil
}
