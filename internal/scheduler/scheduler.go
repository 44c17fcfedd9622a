package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/probe"
)

// ErrProbeInProgress is returned by ForceProbe when a scheduled probe for
// the same target is still running.
var ErrProbeInProgress = errors.New("probe already in progress for target")

// TargetSource is the registry slice the scheduler needs: a consistent
// snapshot each tick.
type TargetSource interface {
	List() []domain.Target
}

// ResultSink consumes completed probe results (the health tracker).
type ResultSink interface {
	Observe(t domain.Target, r domain.ProbeResult)
}

// Scheduler drives every enabled target on its own interval. One probe per
// target at a time: a tick that finds the previous probe still running
// skips and logs instead of queueing. Total concurrency across targets is
// bounded by a weighted semaphore; saturated dispatches wait.
type Scheduler struct {
	log     *zap.Logger
	targets TargetSource
	checker probe.Checker
	sink    ResultSink
	sem     *semaphore.Weighted

	tick         time.Duration
	drainTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	running map[domain.TargetID]bool
	next    map[domain.TargetID]time.Time

	wg sync.WaitGroup
}

type Option func(*Scheduler)

func WithTickResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func WithDrainTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func New(log *zap.Logger, targets TargetSource, checker probe.Checker, sink ResultSink, concurrency int, opts ...Option) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Scheduler{
		log:          log,
		targets:      targets,
		checker:      checker,
		sink:         sink,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		tick:         time.Second,
		drainTimeout: 30 * time.Second,
		now:          time.Now,
		running:      make(map[domain.TargetID]bool),
		next:         make(map[domain.TargetID]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the loop until ctx is cancelled, then drains in-flight probes
// up to the drain timeout.
func (s *Scheduler) Run(ctx context.Context) error {
	t := time.NewTicker(s.tick)
	defer t.Stop()

	s.tickOnce(ctx, s.now())

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler_stopping")
			return s.drain()
		case <-t.C:
			s.tickOnce(ctx, s.now())
		}
	}
}

func (s *Scheduler) tickOnce(ctx context.Context, now time.Time) {
	targets := s.targets.List()

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[domain.TargetID]bool, len(targets))
	for _, t := range targets {
		if !t.Enabled {
			continue
		}
		seen[t.ID] = true

		due, known := s.next[t.ID]
		if !known {
			due = now // first probe immediately
		}
		// A shortened interval takes effect now, not after the old window.
		if remaining := due.Sub(now); remaining > t.Interval {
			due = now.Add(t.Interval)
			s.next[t.ID] = due
		}
		if due.After(now) {
			continue
		}

		if s.running[t.ID] {
			s.log.Warn("probe_skipped_previous_running",
				zap.String("target_id", string(t.ID)),
				zap.Duration("interval", t.Interval),
			)
			s.next[t.ID] = nextAfter(due, now, t.Interval)
			continue
		}

		s.running[t.ID] = true
		s.next[t.ID] = nextAfter(due, now, t.Interval)
		s.wg.Add(1)
		go s.probeOne(ctx, t)
	}

	// Drop bookkeeping for removed or disabled targets.
	for id := range s.next {
		if !seen[id] {
			delete(s.next, id)
		}
	}
}

func (s *Scheduler) probeOne(ctx context.Context, t domain.Target) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, t.ID)
		s.mu.Unlock()
	}()

	// Waits when the pool is saturated; bails out on shutdown.
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	r := s.checker.Check(ctx, t)
	s.sink.Observe(t, r)

	s.log.Debug("probe_completed",
		zap.String("target_id", string(t.ID)),
		zap.String("outcome", string(r.Outcome)),
		zap.Int("status", r.HTTPStatus),
		zap.Float64("latency_ms", r.LatencyMS),
	)
}

// ForceProbe runs one immediate probe, bypassing the schedule but not the
// per-target exclusion or the concurrency bound.
func (s *Scheduler) ForceProbe(ctx context.Context, t domain.Target) (domain.ProbeResult, error) {
	s.mu.Lock()
	if s.running[t.ID] {
		s.mu.Unlock()
		return domain.ProbeResult{}, ErrProbeInProgress
	}
	s.running[t.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.running, t.ID)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return domain.ProbeResult{}, err
	}
	defer s.sem.Release(1)

	r := s.checker.Check(ctx, t)
	s.sink.Observe(t, r)
	return r, nil
}

func (s *Scheduler) drain() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler_stopped")
		return nil
	case <-time.After(s.drainTimeout):
		s.log.Warn("scheduler_drain_timeout", zap.Duration("timeout", s.drainTimeout))
		return errors.New("scheduler drain timed out")
	}
}

func nextAfter(due, now time.Time, interval time.Duration) time.Time {
	for !due.After(now) {
		due = due.Add(interval)
	}
	return due
}
