package redeploy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/notify"
	"github.com/hamed0406/keepalive/internal/provider"
	"github.com/hamed0406/keepalive/internal/store"
)

// Observer is how the health tracker learns about attempt lifecycles.
// Callbacks are invoked from coordinator goroutines, never from inside
// Request, so observers may hold their own locks when calling Request.
type Observer interface {
	AttemptStarted(id domain.TargetID, reason domain.RedeployReason)
	AttemptFinished(a domain.RedeployAttempt)
}

// Coordinator serializes redeploys: at most one in-flight attempt per
// target, and no two attempts for the same target start less than the
// target's cooldown apart. Cooldown is measured from attempt start, so a
// slow provider call cannot raise the redeploy rate.
type Coordinator struct {
	log       *zap.Logger
	providers provider.Registry
	attempts  store.AttemptStore
	notifier  notify.Notifier
	now       func() time.Time

	mu        sync.Mutex
	observer  Observer
	inflight  map[domain.TargetID]bool
	lastStart map[domain.TargetID]time.Time

	wg sync.WaitGroup
}

func New(log *zap.Logger, providers provider.Registry, attempts store.AttemptStore, notifier notify.Notifier) *Coordinator {
	return &Coordinator{
		log:       log,
		providers: providers,
		attempts:  attempts,
		notifier:  notifier,
		now:       time.Now,
		inflight:  make(map[domain.TargetID]bool),
		lastStart: make(map[domain.TargetID]time.Time),
	}
}

// SetObserver wires the health tracker in after construction (the tracker
// needs the coordinator too).
func (c *Coordinator) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Rehydrate seeds cooldown bookkeeping from persisted attempt history so a
// restart does not reset cooldowns. Throttled records mark suppressed
// requests, not provider calls; cooldown runs from the newest attempt that
// actually reached a provider.
func (c *Coordinator) Rehydrate(ctx context.Context, targets []domain.Target) error {
	for _, t := range targets {
		history, err := c.attempts.ListByTarget(ctx, t.ID, 0)
		if err != nil {
			return err
		}
		for _, a := range history {
			if a.Outcome == domain.AttemptThrottled {
				continue
			}
			c.mu.Lock()
			c.lastStart[t.ID] = a.RequestedAt
			c.mu.Unlock()
			break
		}
	}
	return nil
}

// Request asks for a redeploy of t. If an attempt is already in flight or
// the cooldown since the previous attempt start has not elapsed, a
// completed Throttled attempt is recorded and returned with started=false.
// Otherwise the provider call runs asynchronously and the returned attempt
// is the pending one.
func (c *Coordinator) Request(ctx context.Context, t domain.Target, reason domain.RedeployReason) (domain.RedeployAttempt, bool) {
	now := c.now().UTC()

	c.mu.Lock()
	var throttleDetail string
	switch {
	case c.inflight[t.ID]:
		throttleDetail = "attempt already in flight"
	case !c.lastStart[t.ID].IsZero() && now.Sub(c.lastStart[t.ID]) < t.Cooldown:
		throttleDetail = "cooldown active"
	}
	if throttleDetail != "" {
		c.mu.Unlock()
		a := domain.RedeployAttempt{
			ID:          uuid.NewString(),
			TargetID:    t.ID,
			Reason:      reason,
			Outcome:     domain.AttemptThrottled,
			Detail:      throttleDetail,
			RequestedAt: now,
			CompletedAt: now,
		}
		c.record(a)
		return a, false
	}

	c.inflight[t.ID] = true
	c.lastStart[t.ID] = now
	obs := c.observer
	c.mu.Unlock()

	a := domain.RedeployAttempt{
		ID:          uuid.NewString(),
		TargetID:    t.ID,
		Reason:      reason,
		RequestedAt: now,
	}

	c.wg.Add(1)
	go c.run(t, a, obs)
	return a, true
}

// InFlight reports whether an attempt for id is currently running.
func (c *Coordinator) InFlight(id domain.TargetID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[id]
}

func (c *Coordinator) run(t domain.Target, a domain.RedeployAttempt, obs Observer) {
	defer c.wg.Done()

	if obs != nil {
		obs.AttemptStarted(t.ID, a.Reason)
	}

	// Detached from the caller's context: an in-flight redeploy is allowed
	// to finish during shutdown, bounded by the provider call timeout.
	res := c.invoke(context.Background(), t)

	a.CompletedAt = c.now().UTC()
	a.Detail = res.Detail
	switch res.Outcome {
	case provider.Accepted:
		a.Outcome = domain.AttemptSucceeded
	case provider.RateLimited:
		a.Outcome = domain.AttemptThrottled
	default:
		a.Outcome = domain.AttemptFailed
	}

	c.mu.Lock()
	delete(c.inflight, t.ID)
	c.mu.Unlock()

	c.record(a)
	if obs != nil {
		obs.AttemptFinished(a)
	}
}

func (c *Coordinator) invoke(ctx context.Context, t domain.Target) provider.Result {
	p, err := c.providers.For(t.Provider)
	if err != nil {
		return provider.Result{Outcome: provider.Error, Detail: err.Error()}
	}
	return p.Redeploy(ctx, t)
}

func (c *Coordinator) record(a domain.RedeployAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.attempts.Append(ctx, &a); err != nil {
		c.log.Warn("attempt_record_error",
			zap.String("target_id", string(a.TargetID)),
			zap.String("attempt_id", a.ID),
			zap.Error(err),
		)
	}
	c.log.Info("redeploy_attempt",
		zap.String("target_id", string(a.TargetID)),
		zap.String("attempt_id", a.ID),
		zap.String("reason", string(a.Reason)),
		zap.String("outcome", string(a.Outcome)),
		zap.String("detail", a.Detail),
	)
	c.notifier.Publish(notify.RedeployAttempted{Attempt: a})
}

// Drain waits for in-flight attempts to complete, up to the deadline on ctx.
func (c *Coordinator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
