package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/store"
)

var _ store.ConfigStore = (*Store)(nil)
var _ store.AttemptStore = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ---- ConfigStore ----

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM config_kv WHERE key = $1`, key,
	).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO config_kv (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM config_kv WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM config_kv WHERE key LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var (
			k string
			v []byte
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan kv: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ---- AttemptStore ----

func (s *Store) Append(ctx context.Context, a *domain.RedeployAttempt) error {
	var completed *time.Time
	if !a.CompletedAt.IsZero() {
		completed = &a.CompletedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO redeploy_attempts
		   (id, target_id, reason, outcome, detail, requested_at, completed_at)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, string(a.TargetID), string(a.Reason), string(a.Outcome),
		a.Detail, a.RequestedAt, completed,
	)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	// Keep only the newest N rows per target.
	_, err = s.pool.Exec(ctx,
		`DELETE FROM redeploy_attempts
		  WHERE target_id = $1
		    AND id NOT IN (
		        SELECT id FROM redeploy_attempts
		         WHERE target_id = $1
		         ORDER BY requested_at DESC
		         LIMIT $2)`,
		string(a.TargetID), store.DefaultHistoryBound,
	)
	if err != nil {
		return fmt.Errorf("trim attempts: %w", err)
	}
	return nil
}

func (s *Store) ListByTarget(ctx context.Context, id domain.TargetID, limit int) ([]domain.RedeployAttempt, error) {
	if limit <= 0 {
		limit = store.DefaultHistoryBound
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, target_id, reason, outcome, detail, requested_at, completed_at
		   FROM redeploy_attempts
		  WHERE target_id = $1
		  ORDER BY requested_at DESC
		  LIMIT $2`,
		string(id), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []domain.RedeployAttempt
	for rows.Next() {
		var (
			a         domain.RedeployAttempt
			tid       string
			reason    string
			outcome   string
			completed *time.Time
		)
		if err := rows.Scan(&a.ID, &tid, &reason, &outcome, &a.Detail, &a.RequestedAt, &completed); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.TargetID = domain.TargetID(tid)
		a.Reason = domain.RedeployReason(reason)
		a.Outcome = domain.AttemptOutcome(outcome)
		if completed != nil {
			a.CompletedAt = *completed
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
