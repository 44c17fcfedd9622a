package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/notify"
)

type fakeEscalator struct {
	mu       sync.Mutex
	requests []domain.RedeployReason
	started  bool
}

func (f *fakeEscalator) Request(ctx context.Context, t domain.Target, reason domain.RedeployReason) (domain.RedeployAttempt, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, reason)
	if f.started {
		return domain.RedeployAttempt{ID: "a1", TargetID: t.ID, Reason: reason}, true
	}
	return domain.RedeployAttempt{
		ID: "a1", TargetID: t.ID, Reason: reason, Outcome: domain.AttemptThrottled,
	}, false
}

func (f *fakeEscalator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type recordNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordNotifier) Publish(e notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordNotifier) statuses() []domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Status
	for _, e := range r.events {
		if sc, ok := e.(notify.StatusChanged); ok {
			out = append(out, sc.NewStatus)
		}
	}
	return out
}

func trackerTarget() domain.Target {
	return domain.Target{
		ID:           "svc",
		URL:          "https://svc.example.com",
		Provider:     domain.ProviderRender,
		DeployHook:   "https://hooks.example.com/d",
		Interval:     10 * time.Second,
		Threshold:    3,
		Cooldown:     time.Minute,
		AutoRedeploy: true,
		Enabled:      true,
	}
}

func newTracker(esc *fakeEscalator) (*Tracker, *recordNotifier) {
	n := &recordNotifier{}
	tr := NewTracker(zap.NewNop(), n, esc)
	return tr, n
}

func success() domain.ProbeResult {
	return domain.ProbeResult{TargetID: "svc", Outcome: domain.OutcomeSuccess, HTTPStatus: 200, CheckedAt: time.Now()}
}

func timeout() domain.ProbeResult {
	return domain.ProbeResult{TargetID: "svc", Outcome: domain.OutcomeTimeout, Reason: "deadline exceeded", CheckedAt: time.Now()}
}

func TestTracker_ThresholdScenario(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, n := newTracker(esc)
	tgt := trackerTarget()
	tr.Track(tgt.ID)

	steps := []struct {
		r    domain.ProbeResult
		want domain.Status
	}{
		{success(), domain.StatusHealthy},
		{timeout(), domain.StatusHealthy},
		{timeout(), domain.StatusDegraded},
		{timeout(), domain.StatusRedeploying}, // Down then immediately Redeploying
	}
	for i, step := range steps {
		tr.Observe(tgt, step.r)
		got, _ := tr.Snapshot(tgt.ID)
		if got.Status != step.want {
			t.Fatalf("step %d: want %s, got %s", i, step.want, got.Status)
		}
	}

	if esc.count() != 1 {
		t.Fatalf("want exactly 1 escalation, got %d", esc.count())
	}
	// Down must appear in the emitted transitions even though the end state
	// is Redeploying.
	sawDown := false
	for _, s := range n.statuses() {
		if s == domain.StatusDown {
			sawDown = true
		}
	}
	if !sawDown {
		t.Fatalf("expected a Down transition, got %v", n.statuses())
	}
}

func TestTracker_CounterTracksFailuresSinceLastSuccess(t *testing.T) {
	tr, _ := newTracker(&fakeEscalator{})
	tgt := trackerTarget()
	tr.Track(tgt.ID)
	tgt.AutoRedeploy = false

	seq := []domain.ProbeResult{timeout(), timeout(), success(), timeout(), success(), timeout(), timeout(), timeout(), timeout()}
	wantFails := []int{1, 2, 0, 1, 0, 1, 2, 3, 4}
	for i, r := range seq {
		tr.Observe(tgt, r)
		got, _ := tr.Snapshot(tgt.ID)
		if got.ConsecutiveFails != wantFails[i] {
			t.Fatalf("step %d: want %d consecutive fails, got %d", i, wantFails[i], got.ConsecutiveFails)
		}
	}
}

func TestTracker_RedeployingSuppressesEscalation(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, _ := newTracker(esc)
	tgt := trackerTarget()
	tr.Track(tgt.ID)

	for i := 0; i < 3; i++ {
		tr.Observe(tgt, timeout())
	}
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusRedeploying {
		t.Fatalf("want redeploying, got %s", got.Status)
	}

	// Failing probes keep arriving during the provider's restart window.
	for i := 0; i < 5; i++ {
		tr.Observe(tgt, timeout())
	}
	if esc.count() != 1 {
		t.Fatalf("escalation fired %d times while redeploying, want 1", esc.count())
	}
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusRedeploying {
		t.Fatalf("status left redeploying: %s", got.Status)
	}
}

func TestTracker_SucceededAttemptNeedsConfirmingProbe(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, n := newTracker(esc)
	tgt := trackerTarget()
	tr.Track(tgt.ID)

	for i := 0; i < 3; i++ {
		tr.Observe(tgt, timeout())
	}
	tr.AttemptFinished(domain.RedeployAttempt{
		ID: "a1", TargetID: tgt.ID, Outcome: domain.AttemptSucceeded,
		RequestedAt: time.Now(),
	})
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusDegraded {
		t.Fatalf("after succeeded attempt want degraded, got %s", got.Status)
	}

	tr.Observe(tgt, success())
	got, _ := tr.Snapshot(tgt.ID)
	if got.Status != domain.StatusHealthy {
		t.Fatalf("after confirming probe want healthy, got %s", got.Status)
	}
	// the recovery event carries the reason
	evs := n.statuses()
	if evs[len(evs)-1] != domain.StatusHealthy {
		t.Fatalf("want final event healthy, got %v", evs)
	}
}

func TestTracker_FailedAttemptBackToDown_CooldownGatesRetry(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, _ := newTracker(esc)
	tgt := trackerTarget()
	tr.Track(tgt.ID)

	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tr.Observe(tgt, timeout())
	}
	if esc.count() != 1 {
		t.Fatalf("want 1 escalation, got %d", esc.count())
	}

	tr.AttemptFinished(domain.RedeployAttempt{
		ID: "a1", TargetID: tgt.ID, Outcome: domain.AttemptThrottled, RequestedAt: now,
	})
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusDown {
		t.Fatalf("after throttled attempt want down, got %s", got.Status)
	}

	// More failing probes inside the cooldown window: no new escalation.
	now = now.Add(30 * time.Second)
	for i := 0; i < 4; i++ {
		tr.Observe(tgt, timeout())
	}
	if esc.count() != 1 {
		t.Fatalf("escalated during cooldown: %d", esc.count())
	}

	// Once the cooldown elapses the next failing probe escalates again.
	now = now.Add(31 * time.Second)
	tr.Observe(tgt, timeout())
	if esc.count() != 2 {
		t.Fatalf("want second escalation after cooldown, got %d", esc.count())
	}
}

func TestTracker_AutoRedeployDisabled(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, _ := newTracker(esc)
	tgt := trackerTarget()
	tr.Track(tgt.ID)
	tgt.AutoRedeploy = false

	for i := 0; i < 5; i++ {
		tr.Observe(tgt, timeout())
	}
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusDown {
		t.Fatalf("want down, got %s", got.Status)
	}
	if esc.count() != 0 {
		t.Fatalf("escalation fired with auto redeploy disabled: %d", esc.count())
	}
}

func TestTracker_UnknownTransitions(t *testing.T) {
	tr, _ := newTracker(&fakeEscalator{})
	tgt := trackerTarget()
	tr.Track(tgt.ID)
	tgt.AutoRedeploy = false

	// one failure keeps Unknown (no Degraded from Unknown)
	tr.Observe(tgt, timeout())
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusUnknown {
		t.Fatalf("want unknown after one failure, got %s", got.Status)
	}
	tr.Observe(tgt, timeout())
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusUnknown {
		t.Fatalf("want unknown after two failures, got %s", got.Status)
	}
	tr.Observe(tgt, timeout())
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusDown {
		t.Fatalf("want down at threshold, got %s", got.Status)
	}
}

func TestTracker_ForgetDiscardsLateOutcome(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, _ := newTracker(esc)
	tgt := trackerTarget()
	tr.Track(tgt.ID)

	for i := 0; i < 3; i++ {
		tr.Observe(tgt, timeout())
	}
	tr.Forget(tgt.ID)

	// Late outcome for a removed target: logged and dropped, no panic, no
	// resurrected state.
	tr.AttemptFinished(domain.RedeployAttempt{
		ID: "a1", TargetID: tgt.ID, Outcome: domain.AttemptSucceeded, RequestedAt: time.Now(),
	})
	if _, ok := tr.Snapshot(tgt.ID); ok {
		t.Fatal("state resurrected for removed target")
	}
}

func TestTracker_ManualAttemptFromDown(t *testing.T) {
	tr, _ := newTracker(&fakeEscalator{})
	tgt := trackerTarget()
	tr.Track(tgt.ID)
	tgt.AutoRedeploy = false

	for i := 0; i < 3; i++ {
		tr.Observe(tgt, timeout())
	}
	tr.AttemptStarted(tgt.ID, domain.ReasonManual)
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusRedeploying {
		t.Fatalf("want redeploying after manual attempt start, got %s", got.Status)
	}
}

func TestTracker_ManualAttemptFromHealthyKeepsStatus(t *testing.T) {
	tr, _ := newTracker(&fakeEscalator{})
	tgt := trackerTarget()
	tr.Track(tgt.ID)

	tr.Observe(tgt, success())
	tr.AttemptStarted(tgt.ID, domain.ReasonManual)
	if got, _ := tr.Snapshot(tgt.ID); got.Status != domain.StatusHealthy {
		t.Fatalf("manual redeploy of a healthy target must not flip status, got %s", got.Status)
	}
}

func TestTracker_LateProbeResultAfterForget(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, _ := newTracker(esc)
	tgt := trackerTarget()
	tgt.Threshold = 1
	tr.Track(tgt.ID)

	tr.Observe(tgt, success())
	tr.Forget(tgt.ID)

	// A probe dispatched before removal delivers its result afterwards. It
	// must be dropped: no recreated state, no escalation.
	tr.Observe(tgt, timeout())
	if _, ok := tr.Snapshot(tgt.ID); ok {
		t.Fatal("state recreated for removed target")
	}
	if esc.count() != 0 {
		t.Fatalf("redeploy escalated for a removed target: %d request(s)", esc.count())
	}
}

func TestTracker_ConcurrentTargetsIndependent(t *testing.T) {
	esc := &fakeEscalator{started: true}
	tr, _ := newTracker(esc)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id := domain.TargetID(string(rune('a' + i)))
		tgt := trackerTarget()
		tgt.ID = id
		tr.Track(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r := timeout()
				r.TargetID = id
				tr.Observe(tgt, r)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		id := domain.TargetID(string(rune('a' + i)))
		got, ok := tr.Snapshot(id)
		if !ok || got.ConsecutiveFails != 50 {
			t.Fatalf("target %s: want 50 fails, got %+v ok=%v", id, got, ok)
		}
	}
}
