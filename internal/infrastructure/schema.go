package infrastructure

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL is the idempotent schema for Herald's durable state: users,
// articles, per-channel communication preferences and the notification
// job queue. The partial index on (status, next_attempt_at) keeps the
// worker's claim query on an index scan even as terminal rows accumulate.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
	id          uuid PRIMARY KEY,
	email       text NOT NULL UNIQUE,
	name        text NOT NULL DEFAULT '',
	password    text NOT NULL,
	verified    boolean NOT NULL DEFAULT false,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS articles (
	id          uuid PRIMARY KEY,
	author_id   uuid NOT NULL REFERENCES users (id),
	title       text NOT NULL,
	content     text NOT NULL DEFAULT '',
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_articles_author ON articles (author_id);

CREATE TABLE IF NOT EXISTS communication_preferences (
	user_id     uuid NOT NULL,
	channel     text NOT NULL,
	enabled     boolean NOT NULL DEFAULT true,
	updated_at  timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, channel)
);

CREATE TABLE IF NOT EXISTS notification_jobs (
	id              uuid PRIMARY KEY,
	recipient       text NOT NULL,
	channel         text NOT NULL,
	payload         jsonb NOT NULL DEFAULT '{}',
	status          text NOT NULL DEFAULT 'pending',
	attempt_count   integer NOT NULL DEFAULT 0,
	max_attempts    integer NOT NULL DEFAULT 3,
	last_error      text,
	next_attempt_at timestamptz NOT NULL DEFAULT now(),
	read            boolean NOT NULL DEFAULT false,
	read_at         timestamptz,
	created_at      timestamptz NOT NULL DEFAULT now(),
	updated_at      timestamptz NOT NULL DEFAULT now(),
	archived_at     timestamptz,
	CONSTRAINT notification_jobs_status_check
		CHECK (status IN ('pending', 'in_progress', 'sent', 'failed'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_claim
	ON notification_jobs (status, next_attempt_at, created_at)
	WHERE archived_at IS NULL;

CREATE INDEX IF NOT EXISTS idx_jobs_inbox
	ON notification_jobs (recipient, created_at DESC)
	WHERE channel = 'in_app' AND status = 'sent' AND archived_at IS NULL;
`

// Migrate applies the embedded DDL. All statements are idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
