package monitor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/health"
	"github.com/hamed0406/keepalive/internal/redeploy"
	"github.com/hamed0406/keepalive/internal/registry"
	"github.com/hamed0406/keepalive/internal/scheduler"
	"github.com/hamed0406/keepalive/internal/store"
)

// TargetHealth pairs a target's configuration with its last known health.
// Status queries always answer from this snapshot, reachable provider or
// not.
type TargetHealth struct {
	Target domain.Target      `json:"target"`
	Health domain.HealthState `json:"health"`
}

// Service is the operator surface consumed by the HTTP API (and through
// it, any chat front-end or CLI).
type Service struct {
	log      *zap.Logger
	reg      *registry.Registry
	tracker  *health.Tracker
	coord    *redeploy.Coordinator
	sched    *scheduler.Scheduler
	attempts store.AttemptStore
}

func New(
	log *zap.Logger,
	reg *registry.Registry,
	tracker *health.Tracker,
	coord *redeploy.Coordinator,
	sched *scheduler.Scheduler,
	attempts store.AttemptStore,
) *Service {
	return &Service{
		log:      log,
		reg:      reg,
		tracker:  tracker,
		coord:    coord,
		sched:    sched,
		attempts: attempts,
	}
}

func (s *Service) ListTargets(ctx context.Context) []TargetHealth {
	ts := s.reg.List()
	out := make([]TargetHealth, 0, len(ts))
	for _, t := range ts {
		h, _ := s.tracker.Snapshot(t.ID)
		out = append(out, TargetHealth{Target: t, Health: h})
	}
	return out
}

func (s *Service) GetHealth(ctx context.Context, id domain.TargetID) (TargetHealth, error) {
	t, ok := s.reg.Get(id)
	if !ok {
		return TargetHealth{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	h, _ := s.tracker.Snapshot(id)
	return TargetHealth{Target: t, Health: h}, nil
}

func (s *Service) AddTarget(ctx context.Context, t domain.Target) (domain.Target, error) {
	stored, err := s.reg.Add(ctx, t)
	if err != nil {
		return domain.Target{}, err
	}
	s.tracker.Track(stored.ID)
	return stored, nil
}

func (s *Service) RemoveTarget(ctx context.Context, id domain.TargetID) error {
	if err := s.reg.Remove(ctx, id); err != nil {
		return err
	}
	// An in-flight redeploy for this target is allowed to finish; its
	// outcome is discarded by the tracker once the state is gone.
	s.tracker.Forget(id)
	return nil
}

func (s *Service) UpdateTarget(ctx context.Context, id domain.TargetID, u registry.Update) (domain.Target, error) {
	return s.reg.Update(ctx, id, u)
}

func (s *Service) ForceProbe(ctx context.Context, id domain.TargetID) (domain.ProbeResult, error) {
	t, ok := s.reg.Get(id)
	if !ok {
		return domain.ProbeResult{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return s.sched.ForceProbe(ctx, t)
}

// ForceRedeploy triggers a manual redeploy, subject to the same in-flight
// exclusion and cooldown as automatic escalation.
func (s *Service) ForceRedeploy(ctx context.Context, id domain.TargetID) (domain.RedeployAttempt, error) {
	t, ok := s.reg.Get(id)
	if !ok {
		return domain.RedeployAttempt{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if t.DeployHook == "" {
		return domain.RedeployAttempt{}, fmt.Errorf("%w: target %s has no deploy hook", domain.ErrInvalidConfig, id)
	}
	a, started := s.coord.Request(ctx, t, domain.ReasonManual)
	if !started {
		s.log.Info("force_redeploy_throttled",
			zap.String("target_id", string(id)),
			zap.String("detail", a.Detail),
		)
	}
	return a, nil
}

func (s *Service) Attempts(ctx context.Context, id domain.TargetID, limit int) ([]domain.RedeployAttempt, error) {
	if _, ok := s.reg.Get(id); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return s.attempts.ListByTarget(ctx, id, limit)
}
