package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/store"
)

const keyPrefix = "target/"

// Registry owns the set of monitored targets. Every mutation is persisted
// to the config store before it becomes visible, so a crash after a
// successful call cannot lose the change. Reads hand out copies; iteration
// never observes a half-written target.
type Registry struct {
	log   *zap.Logger
	cfg   store.ConfigStore
	clock func() time.Time

	mu      sync.RWMutex
	order   []domain.TargetID
	targets map[domain.TargetID]domain.Target
}

func New(log *zap.Logger, cfg store.ConfigStore) *Registry {
	return &Registry{
		log:     log,
		cfg:     cfg,
		clock:   time.Now,
		targets: make(map[domain.TargetID]domain.Target),
	}
}

// Load rehydrates the registry from the config store. Insertion order is
// reconstructed from creation timestamps.
func (r *Registry) Load(ctx context.Context) error {
	kvs, err := r.cfg.List(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}

	loaded := make([]domain.Target, 0, len(kvs))
	for k, v := range kvs {
		var t domain.Target
		if err := json.Unmarshal(v, &t); err != nil {
			r.log.Warn("registry_skip_corrupt_entry", zap.String("key", k), zap.Error(err))
			continue
		}
		loaded = append(loaded, t)
	}
	sort.Slice(loaded, func(i, j int) bool {
		if loaded[i].CreatedAt.Equal(loaded[j].CreatedAt) {
			return loaded[i].ID < loaded[j].ID
		}
		return loaded[i].CreatedAt.Before(loaded[j].CreatedAt)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = r.order[:0]
	r.targets = make(map[domain.TargetID]domain.Target, len(loaded))
	for _, t := range loaded {
		r.order = append(r.order, t.ID)
		r.targets[t.ID] = t
	}
	r.log.Info("registry_loaded", zap.Int("targets", len(loaded)))
	return nil
}

func (r *Registry) Add(ctx context.Context, t domain.Target) (domain.Target, error) {
	t.Normalize()
	if err := t.Validate(); err != nil {
		return domain.Target{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[t.ID]; ok {
		return domain.Target{}, fmt.Errorf("%w: %s", domain.ErrDuplicateTarget, t.ID)
	}

	now := r.clock().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	if err := r.persist(ctx, t); err != nil {
		return domain.Target{}, err
	}
	r.order = append(r.order, t.ID)
	r.targets[t.ID] = t
	r.log.Info("target_added", zap.String("target_id", string(t.ID)), zap.String("url", t.URL))
	return t, nil
}

func (r *Registry) Remove(ctx context.Context, id domain.TargetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.targets[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err := r.cfg.Delete(ctx, keyPrefix+string(id)); err != nil {
		return fmt.Errorf("delete target %s: %w", id, err)
	}
	delete(r.targets, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Info("target_removed", zap.String("target_id", string(id)))
	return nil
}

// Update mutates selected fields of a target. Nil fields are left as-is.
// The updated target is validated as a whole before it is persisted.
type Update struct {
	URL          *string
	Provider     *domain.Provider
	DeployHook   *string
	Interval     *time.Duration
	Threshold    *int
	Cooldown     *time.Duration
	AutoRedeploy *bool
	Enabled      *bool
}

func (r *Registry) Update(ctx context.Context, id domain.TargetID, u Update) (domain.Target, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.targets[id]
	if !ok {
		return domain.Target{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	if u.URL != nil {
		t.URL = *u.URL
	}
	if u.Provider != nil {
		t.Provider = *u.Provider
	}
	if u.DeployHook != nil {
		t.DeployHook = *u.DeployHook
	}
	if u.Interval != nil {
		t.Interval = *u.Interval
	}
	if u.Threshold != nil {
		t.Threshold = *u.Threshold
	}
	if u.Cooldown != nil {
		t.Cooldown = *u.Cooldown
	}
	if u.AutoRedeploy != nil {
		t.AutoRedeploy = *u.AutoRedeploy
	}
	if u.Enabled != nil {
		t.Enabled = *u.Enabled
	}
	if err := t.Validate(); err != nil {
		return domain.Target{}, err
	}
	t.UpdatedAt = r.clock().UTC()

	if err := r.persist(ctx, t); err != nil {
		return domain.Target{}, err
	}
	r.targets[id] = t
	r.log.Info("target_updated", zap.String("target_id", string(id)))
	return t, nil
}

func (r *Registry) Get(id domain.TargetID) (domain.Target, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.targets[id]
	return t, ok
}

// List returns a copied snapshot in insertion order.
func (r *Registry) List() []domain.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Target, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.targets[id])
	}
	return out
}

func (r *Registry) persist(ctx context.Context, t domain.Target) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode target %s: %w", t.ID, err)
	}
	if err := r.cfg.Set(ctx, keyPrefix+string(t.ID), b); err != nil {
		return fmt.Errorf("persist target %s: %w", t.ID, err)
	}
	return nil
}
