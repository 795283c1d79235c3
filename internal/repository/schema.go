package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema создается идемпотентно при старте (DATABASE_MIGRATE_AT_START)
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id           UUID PRIMARY KEY,
		email        TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL,
		avatar_url   TEXT,
		is_active    BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id               UUID PRIMARY KEY,
		kind             TEXT NOT NULL CHECK (kind IN ('private', 'group')),
		participants     UUID[] NOT NULL,
		admins           UUID[] NOT NULL DEFAULT '{}',
		private_key      TEXT,
		display_name     TEXT,
		description      TEXT,
		avatar_ref       TEXT,
		last_message     JSONB,
		mute_preferences JSONB NOT NULL DEFAULT '{}'::jsonb,
		pin_preferences  JSONB NOT NULL DEFAULT '{}'::jsonb,
		next_seq         BIGINT NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_participants ON conversations USING GIN (participants)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_private_key ON conversations (private_key) WHERE private_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations (updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id              UUID NOT NULL,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		seq             BIGINT NOT NULL,
		sender_id       UUID NOT NULL,
		content         TEXT NOT NULL DEFAULT '',
		kind            TEXT NOT NULL,
		attachments     JSONB NOT NULL DEFAULT '[]'::jsonb,
		seen_by         JSONB NOT NULL DEFAULT '[]'::jsonb,
		edited          BOOLEAN NOT NULL DEFAULT FALSE,
		edited_at       TIMESTAMPTZ,
		reply_to_id     UUID,
		created_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (conversation_id, id)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_seq ON messages (conversation_id, seq)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id              BIGSERIAL PRIMARY KEY,
		event_time      TIMESTAMPTZ NOT NULL,
		actor_user_id   UUID,
		actor_role      TEXT NOT NULL,
		conversation_id UUID,
		event_type      TEXT NOT NULL,
		payload         JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
}

// Migrate создает таблицы и индексы, если их еще нет
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
