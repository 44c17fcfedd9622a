package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
	"github.com/hamed0406/keepalive/internal/notify"
)

// Escalator is the slice of the redeploy coordinator the tracker needs.
type Escalator interface {
	Request(ctx context.Context, t domain.Target, reason domain.RedeployReason) (domain.RedeployAttempt, bool)
}

// Tracker owns one HealthState per registered target and applies probe
// results to it. Access is serialized per target so independent targets
// never block each other; the outer lock only guards the map.
type Tracker struct {
	log      *zap.Logger
	notifier notify.Notifier
	coord    Escalator
	now      func() time.Time

	mu     sync.RWMutex
	states map[domain.TargetID]*targetState
}

type targetState struct {
	mu sync.Mutex
	s  domain.HealthState
}

func NewTracker(log *zap.Logger, notifier notify.Notifier, coord Escalator) *Tracker {
	return &Tracker{
		log:      log,
		notifier: notifier,
		coord:    coord,
		now:      time.Now,
		states:   make(map[domain.TargetID]*targetState),
	}
}

// Track creates health state for a registered target. State lives exactly
// as long as the registration: Track creates it, Forget drops it, and probe
// results or attempt outcomes arriving outside that window are discarded.
func (tr *Tracker) Track(id domain.TargetID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if _, ok := tr.states[id]; !ok {
		tr.states[id] = &targetState{s: domain.HealthState{TargetID: id, Status: domain.StatusUnknown}}
	}
}

// Observe applies one probe result. Called once per completed probe, in
// dispatch order for any given target. A result for a target that is no
// longer tracked was dispatched before removal; it is dropped so a removed
// target cannot resurrect state or escalate.
func (tr *Tracker) Observe(t domain.Target, r domain.ProbeResult) {
	tr.mu.RLock()
	st := tr.states[t.ID]
	tr.mu.RUnlock()
	if st == nil {
		tr.log.Info("probe_result_discarded",
			zap.String("target_id", string(t.ID)),
			zap.String("outcome", string(r.Outcome)),
		)
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	now := tr.now().UTC()
	st.s.LastProbe = r.CheckedAt

	if r.Success() {
		st.s.ConsecutiveFails = 0
		switch st.s.Status {
		case domain.StatusHealthy:
			// steady state
		case domain.StatusDegraded, domain.StatusDown, domain.StatusRedeploying:
			tr.transition(st, domain.StatusHealthy, "recovered: "+r.Reason, now)
		default:
			tr.transition(st, domain.StatusHealthy, r.Reason, now)
		}
		return
	}

	st.s.ConsecutiveFails++
	tr.log.Debug("probe_failed",
		zap.String("target_id", string(t.ID)),
		zap.String("outcome", string(r.Outcome)),
		zap.Int("consecutive_fails", st.s.ConsecutiveFails),
		zap.Int("threshold", t.Threshold),
	)

	if st.s.Status == domain.StatusRedeploying {
		// A redeploy is outstanding; failing probes during the provider's
		// restart window must not re-escalate.
		return
	}

	if st.s.ConsecutiveFails >= t.Threshold {
		tr.escalate(st, t, r, now)
		return
	}

	// Short of the threshold: one failed probe is tolerated as a blip, two
	// in a row degrade.
	if st.s.Status == domain.StatusHealthy && st.s.ConsecutiveFails >= 2 {
		tr.transition(st, domain.StatusDegraded, r.Reason, now)
	}
}

// escalate moves the target to Down and, when eligible, hands it to the
// redeploy coordinator. Caller holds st.mu.
func (tr *Tracker) escalate(st *targetState, t domain.Target, r domain.ProbeResult, now time.Time) {
	if st.s.Status != domain.StatusDown {
		tr.transition(st, domain.StatusDown, failReason(r), now)
	}

	if !t.AutoRedeploy || t.DeployHook == "" {
		return
	}
	// Local cooldown gate: while Down keeps accumulating failures, only ask
	// the coordinator again once the cooldown window has passed.
	if !st.s.LastRedeploy.IsZero() && now.Sub(st.s.LastRedeploy) < t.Cooldown {
		return
	}

	if _, started := tr.coord.Request(context.Background(), t, domain.ReasonAuto); started {
		st.s.LastRedeploy = now
		tr.transition(st, domain.StatusRedeploying, "escalated after "+failReason(r), now)
	} else {
		// Coordinator throttled (its cooldown bookkeeping survives
		// restarts, ours does not). Back off for a full window instead of
		// retrying every probe.
		st.s.LastRedeploy = now
	}
}

// AttemptStarted implements redeploy.Observer. Covers operator-forced
// redeploys that did not come through escalate.
func (tr *Tracker) AttemptStarted(id domain.TargetID, reason domain.RedeployReason) {
	tr.mu.RLock()
	st := tr.states[id]
	tr.mu.RUnlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	now := tr.now().UTC()
	st.s.LastRedeploy = now
	if st.s.Status == domain.StatusDown {
		tr.transition(st, domain.StatusRedeploying, string(reason)+" redeploy started", now)
	}
}

// AttemptFinished implements redeploy.Observer. A reported success only
// moves the target to Degraded; Healthy requires a confirming probe.
func (tr *Tracker) AttemptFinished(a domain.RedeployAttempt) {
	tr.mu.RLock()
	st := tr.states[a.TargetID]
	tr.mu.RUnlock()
	if st == nil {
		tr.log.Info("attempt_outcome_discarded",
			zap.String("target_id", string(a.TargetID)),
			zap.String("attempt_id", a.ID),
			zap.String("outcome", string(a.Outcome)),
		)
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	now := tr.now().UTC()
	st.s.LastRedeploy = a.RequestedAt

	if st.s.Status != domain.StatusRedeploying {
		return
	}
	switch a.Outcome {
	case domain.AttemptSucceeded:
		tr.transition(st, domain.StatusDegraded, "redeploy accepted, awaiting confirming probe", now)
	default:
		tr.transition(st, domain.StatusDown, "redeploy "+string(a.Outcome)+": "+a.Detail, now)
	}
}

// Forget drops state for a removed target. A late attempt outcome for it
// is then discarded by AttemptFinished.
func (tr *Tracker) Forget(id domain.TargetID) {
	tr.mu.Lock()
	delete(tr.states, id)
	tr.mu.Unlock()
}

// Snapshot returns a copy of the target's health state.
func (tr *Tracker) Snapshot(id domain.TargetID) (domain.HealthState, bool) {
	tr.mu.RLock()
	st := tr.states[id]
	tr.mu.RUnlock()
	if st == nil {
		return domain.HealthState{TargetID: id, Status: domain.StatusUnknown}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s, true
}

// transition flips the status, stamps the time, and emits the event.
// Caller holds st.mu.
func (tr *Tracker) transition(st *targetState, to domain.Status, reason string, now time.Time) {
	from := st.s.Status
	if from == to {
		return
	}
	st.s.Status = to
	st.s.LastTransition = now
	tr.log.Info("health_transition",
		zap.String("target_id", string(st.s.TargetID)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	tr.notifier.Publish(notify.StatusChanged{
		TargetID:  st.s.TargetID,
		OldStatus: from,
		NewStatus: to,
		Reason:    reason,
		At:        now,
	})
}

func failReason(r domain.ProbeResult) string {
	if r.Reason != "" {
		return string(r.Outcome) + ": " + r.Reason
	}
	return string(r.Outcome)
}
