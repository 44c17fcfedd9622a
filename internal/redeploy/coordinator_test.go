package redeploy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/notify"
	"github.com/hamed0406/keepalive/internal/provider"
	"github.com/hamed0406/keepalive/internal/store/memory"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   int32
	result  provider.Result
	release chan struct{} // when set, Redeploy blocks until closed
}

func (f *fakeProvider) Redeploy(ctx context.Context, t domain.Target) provider.Result {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

type fakeObserver struct {
	mu       sync.Mutex
	started  []domain.TargetID
	finished []domain.RedeployAttempt
}

func (f *fakeObserver) AttemptStarted(id domain.TargetID, reason domain.RedeployReason) {
	f.mu.Lock()
	f.started = append(f.started, id)
	f.mu.Unlock()
}

func (f *fakeObserver) AttemptFinished(a domain.RedeployAttempt) {
	f.mu.Lock()
	f.finished = append(f.finished, a)
	f.mu.Unlock()
}

func (f *fakeObserver) lastFinished() (domain.RedeployAttempt, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.finished) == 0 {
		return domain.RedeployAttempt{}, false
	}
	return f.finished[len(f.finished)-1], true
}

func coordTarget() domain.Target {
	return domain.Target{
		ID:         "svc",
		URL:        "https://svc.example.com",
		Provider:   domain.ProviderRender,
		DeployHook: "https://hooks.example.com/deploy",
		Interval:   time.Minute,
		Threshold:  3,
		Cooldown:   time.Minute,
	}
}

func newCoordinator(p provider.Provider) (*Coordinator, *memory.Store, *fakeObserver) {
	st := memory.New()
	obs := &fakeObserver{}
	c := New(zap.NewNop(), provider.Registry{domain.ProviderRender: p}, st, notify.Nop{})
	c.SetObserver(obs)
	return c, st, obs
}

func waitFinished(t *testing.T, obs *fakeObserver) domain.RedeployAttempt {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a, ok := obs.lastFinished(); ok {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("attempt never finished")
	return domain.RedeployAttempt{}
}

func TestCoordinator_SingleInFlight(t *testing.T) {
	fp := &fakeProvider{result: provider.Result{Outcome: provider.Accepted}, release: make(chan struct{})}
	c, _, obs := newCoordinator(fp)
	tgt := coordTarget()

	_, started := c.Request(context.Background(), tgt, domain.ReasonAuto)
	if !started {
		t.Fatal("first request should start")
	}

	// Concurrent requests while the first is in flight must all throttle.
	var throttled int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, ok := c.Request(context.Background(), tgt, domain.ReasonAuto)
			if !ok && a.Outcome == domain.AttemptThrottled {
				atomic.AddInt32(&throttled, 1)
			}
		}()
	}
	wg.Wait()
	if throttled != 10 {
		t.Fatalf("want 10 throttled, got %d", throttled)
	}
	if got := atomic.LoadInt32(&fp.calls); got != 1 {
		t.Fatalf("want 1 provider call, got %d", got)
	}

	close(fp.release)
	a := waitFinished(t, obs)
	if a.Outcome != domain.AttemptSucceeded {
		t.Fatalf("want succeeded, got %+v", a)
	}
}

func TestCoordinator_CooldownFromAttemptStart(t *testing.T) {
	fp := &fakeProvider{result: provider.Result{Outcome: provider.Accepted}}
	c, _, obs := newCoordinator(fp)
	tgt := coordTarget()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if _, started := c.Request(context.Background(), tgt, domain.ReasonAuto); !started {
		t.Fatal("first request should start")
	}
	waitFinished(t, obs)

	// inside cooldown
	now = now.Add(30 * time.Second)
	a, started := c.Request(context.Background(), tgt, domain.ReasonManual)
	if started || a.Outcome != domain.AttemptThrottled {
		t.Fatalf("want throttled inside cooldown, got started=%v %+v", started, a)
	}

	// past cooldown (measured from the first attempt's start)
	now = now.Add(31 * time.Second)
	if _, started := c.Request(context.Background(), tgt, domain.ReasonManual); !started {
		t.Fatal("want started after cooldown elapsed")
	}
}

func TestCoordinator_ProviderRateLimitedPassesThrough(t *testing.T) {
	fp := &fakeProvider{result: provider.Result{Outcome: provider.RateLimited, StatusCode: 429, Detail: "provider throttled"}}
	c, _, obs := newCoordinator(fp)

	if _, started := c.Request(context.Background(), coordTarget(), domain.ReasonAuto); !started {
		t.Fatal("request should start")
	}
	a := waitFinished(t, obs)
	if a.Outcome != domain.AttemptThrottled {
		t.Fatalf("want throttled pass-through, got %+v", a)
	}
}

func TestCoordinator_ProviderErrorIsFailed(t *testing.T) {
	fp := &fakeProvider{result: provider.Result{Outcome: provider.Error, StatusCode: 500, Detail: "boom"}}
	c, st, obs := newCoordinator(fp)

	if _, started := c.Request(context.Background(), coordTarget(), domain.ReasonAuto); !started {
		t.Fatal("request should start")
	}
	a := waitFinished(t, obs)
	if a.Outcome != domain.AttemptFailed || a.Detail != "boom" {
		t.Fatalf("want failed with detail, got %+v", a)
	}

	hist, err := st.ListByTarget(context.Background(), "svc", 0)
	if err != nil || len(hist) != 1 {
		t.Fatalf("want 1 recorded attempt, got %d err=%v", len(hist), err)
	}
}

func TestCoordinator_UnknownProviderIsFailed(t *testing.T) {
	c, _, obs := newCoordinator(&fakeProvider{})
	tgt := coordTarget()
	tgt.Provider = domain.ProviderKoyeb // not registered in the fake registry

	if _, started := c.Request(context.Background(), tgt, domain.ReasonAuto); !started {
		t.Fatal("request should start")
	}
	a := waitFinished(t, obs)
	if a.Outcome != domain.AttemptFailed {
		t.Fatalf("want failed for unknown provider, got %+v", a)
	}
}

func TestCoordinator_RehydrateRestoresCooldown(t *testing.T) {
	fp := &fakeProvider{result: provider.Result{Outcome: provider.Accepted}}
	st := memory.New()
	tgt := coordTarget()

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	_ = st.Append(context.Background(), &domain.RedeployAttempt{
		ID: "old", TargetID: tgt.ID, Outcome: domain.AttemptSucceeded,
		RequestedAt: now.Add(-30 * time.Second),
	})

	c := New(zap.NewNop(), provider.Registry{domain.ProviderRender: fp}, st, notify.Nop{})
	c.now = func() time.Time { return now }
	if err := c.Rehydrate(context.Background(), []domain.Target{tgt}); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	a, started := c.Request(context.Background(), tgt, domain.ReasonAuto)
	if started || a.Outcome != domain.AttemptThrottled {
		t.Fatalf("want throttled from rehydrated cooldown, got started=%v %+v", started, a)
	}
}

func TestCoordinator_RehydrateSkipsThrottledRecords(t *testing.T) {
	fp := &fakeProvider{result: provider.Result{Outcome: provider.Accepted}}
	st := memory.New()
	tgt := coordTarget() // cooldown 60s

	// A real attempt at t=0, then a throttled suppression record at t=55s.
	// Only the real attempt counts against the cooldown.
	t0 := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	_ = st.Append(context.Background(), &domain.RedeployAttempt{
		ID: "real", TargetID: tgt.ID, Outcome: domain.AttemptSucceeded,
		RequestedAt: t0,
	})
	_ = st.Append(context.Background(), &domain.RedeployAttempt{
		ID: "suppressed", TargetID: tgt.ID, Outcome: domain.AttemptThrottled,
		Detail: "cooldown active", RequestedAt: t0.Add(55 * time.Second),
	})

	c := New(zap.NewNop(), provider.Registry{domain.ProviderRender: fp}, st, notify.Nop{})
	now := t0.Add(70 * time.Second)
	c.now = func() time.Time { return now }
	if err := c.Rehydrate(context.Background(), []domain.Target{tgt}); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	if a, started := c.Request(context.Background(), tgt, domain.ReasonAuto); !started {
		t.Fatalf("cooldown from the real attempt has elapsed; got throttled: %s", a.Detail)
	}
}

func TestCoordinator_DrainWaitsForInFlight(t *testing.T) {
	fp := &fakeProvider{result: provider.Result{Outcome: provider.Accepted}, release: make(chan struct{})}
	c, _, obs := newCoordinator(fp)

	if _, started := c.Request(context.Background(), coordTarget(), domain.ReasonAuto); !started {
		t.Fatal("request should start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Drain(ctx); err == nil {
		t.Fatal("drain should time out while the attempt is blocked")
	}

	close(fp.release)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := c.Drain(ctx2); err != nil {
		t.Fatalf("drain after release: %v", err)
	}
	if _, ok := obs.lastFinished(); !ok {
		t.Fatal("attempt should have finished")
	}
}
