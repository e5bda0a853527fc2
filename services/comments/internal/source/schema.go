package source

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// parent_id is NO ACTION rather than CASCADE: cascading is computed by the
// sync engine and sent as one batch.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS comments (
		id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		text        TEXT NOT NULL,
		username    TEXT NOT NULL DEFAULT 'Anonymous',
		parent_id   TEXT REFERENCES comments (id),
		is_reported BOOLEAN NOT NULL DEFAULT false,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE comments ADD COLUMN IF NOT EXISTS image_url TEXT`,
	`CREATE INDEX IF NOT EXISTS comments_parent_id_idx ON comments (parent_id)`,
	`CREATE INDEX IF NOT EXISTS comments_created_at_idx ON comments (created_at DESC)`,
}

// Migrate brings the comments schema up to date. Every statement is
// idempotent so it is safe to run on each deploy.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
