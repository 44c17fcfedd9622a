package store

import (
	"context"
	"errors"

	"github.com/hamed0406/keepalive/internal/domain"
)

// ErrKeyNotFound is returned by ConfigStore.Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// DefaultHistoryBound is how many redeploy attempts are kept per target.
const DefaultHistoryBound = 20

// ConfigStore is the durable key-value collaborator backing the target
// registry. Set must be synchronous: once it returns nil the write is
// durable.
type ConfigStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) (map[string][]byte, error)
}

// AttemptStore keeps a bounded, newest-first redeploy history per target.
type AttemptStore interface {
	Append(ctx context.Context, a *domain.RedeployAttempt) error
	ListByTarget(ctx context.Context, id domain.TargetID, limit int) ([]domain.RedeployAttempt, error)
}
