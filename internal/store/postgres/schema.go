package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS config_kv (
  key        TEXT PRIMARY KEY,
  value      BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS redeploy_attempts (
  id           TEXT PRIMARY KEY,
  target_id    TEXT NOT NULL,
  reason       TEXT NOT NULL,
  outcome      TEXT NOT NULL,
  detail       TEXT NOT NULL DEFAULT '',
  requested_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_target_time
  ON redeploy_attempts (target_id, requested_at DESC);
`

// EnsureSchema creates the tables if they do not exist, so the daemon can
// start against a fresh database/volume.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
