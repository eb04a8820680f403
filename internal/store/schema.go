package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type migration struct {
	name string
	sql  string
}

// profiles mirrors the marketplace's table so a standalone deployment has
// somewhere to resolve names from. IF NOT EXISTS keeps it harmless when the
// marketplace already owns it.
var postgresMigrations = []migration{
	{
		name: "create profiles table",
		sql: `
			CREATE TABLE IF NOT EXISTS profiles (
				id UUID PRIMARY KEY,
				first_name TEXT NOT NULL DEFAULT '',
				last_name TEXT NOT NULL DEFAULT '',
				email TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT profiles_email_key UNIQUE (email)
			)
		`,
	},
	{
		name: "create conversations table",
		sql: `
			CREATE TABLE IF NOT EXISTS conversations (
				id UUID PRIMARY KEY,
				participant_1 UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
				participant_2 UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
				last_message_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT conversations_distinct_participants CHECK (participant_1 <> participant_2)
			);
			CREATE UNIQUE INDEX IF NOT EXISTS conversations_pair_key
				ON conversations (LEAST(participant_1, participant_2), GREATEST(participant_1, participant_2));
			CREATE INDEX IF NOT EXISTS idx_conversations_p1 ON conversations (participant_1);
			CREATE INDEX IF NOT EXISTS idx_conversations_p2 ON conversations (participant_2);
		`,
	},
	{
		name: "create messages table",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				id UUID PRIMARY KEY,
				conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
				sender_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
				content TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				read_at TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
				ON messages (conversation_id, created_at DESC, id DESC);
			CREATE INDEX IF NOT EXISTS idx_messages_unread
				ON messages (conversation_id, sender_id) WHERE read_at IS NULL;
		`,
	},
}

// MigratePostgres applies any migrations the database has not seen yet.
func MigratePostgres(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for i, m := range postgresMigrations {
		version := i + 1
		var count int
		if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		log.Info().Str("component", "store").Int("version", version).Str("name", m.name).Msg("running migration")
		if _, err := db.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %d (%s): %w", version, m.name, err)
		}
		if _, err := db.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
	}
	return nil
}
