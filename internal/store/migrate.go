package store

import (
	"context"
	"fmt"
)

// AutoMigrate creates the schema if it does not exist yet. Statements are
// idempotent so repeated startups are safe.
func AutoMigrate(ctx context.Context, db Querier) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			public_id  TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS playlist_songs (
			id             UUID PRIMARY KEY,
			room_public_id TEXT NOT NULL REFERENCES rooms(public_id) ON DELETE CASCADE,
			title          TEXT NOT NULL,
			artist         TEXT NOT NULL,
			source_ref     TEXT NOT NULL DEFAULT '',
			added_by       TEXT NOT NULL DEFAULT '',
			added_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_playlist_songs_room
			ON playlist_songs (room_public_id, added_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
