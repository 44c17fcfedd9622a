package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/store"
)

var _ store.ConfigStore = (*Store)(nil)
var _ store.AttemptStore = (*Store)(nil)

// Store is the in-memory adapter used when no DATABASE_URL is configured,
// and by tests.
type Store struct {
	bound int

	mu       sync.RWMutex
	kv       map[string][]byte
	attempts map[domain.TargetID][]domain.RedeployAttempt // newest first
}

func New() *Store {
	return &Store{
		bound:    store.DefaultHistoryBound,
		kv:       make(map[string][]byte),
		attempts: make(map[domain.TargetID][]domain.RedeployAttempt),
	}
}

// ---- ConfigStore ----

func (m *Store) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.kv[key]
	if !ok {
		return nil, store.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *Store) Set(ctx context.Context, key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.kv[key] = cp
	m.mu.Unlock()
	return nil
}

func (m *Store) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.kv, key)
	m.mu.Unlock()
	return nil
}

func (m *Store) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte)
	for k, v := range m.kv {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

// ---- AttemptStore ----

func (m *Store) Append(ctx context.Context, a *domain.RedeployAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := append([]domain.RedeployAttempt{*a}, m.attempts[a.TargetID]...)
	sort.SliceStable(hist, func(i, j int) bool {
		return hist[i].RequestedAt.After(hist[j].RequestedAt)
	})
	if len(hist) > m.bound {
		hist = hist[:m.bound]
	}
	m.attempts[a.TargetID] = hist
	return nil
}

func (m *Store) ListByTarget(ctx context.Context, id domain.TargetID, limit int) ([]domain.RedeployAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.attempts[id]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	out := make([]domain.RedeployAttempt, limit)
	copy(out, hist[:limit])
	return out, nil
}
