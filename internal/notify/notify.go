package notify

import (
	"context"
	"time"

	"go.uber.org/multierr"

	"github.com/hamed0406/keepalive/internal/domain"
)

// Event is something the monitoring core wants operators to know about.
type Event interface {
	Kind() string
	Target() domain.TargetID
}

type StatusChanged struct {
	TargetID  domain.TargetID `json:"target_id"`
	OldStatus domain.Status   `json:"old_status"`
	NewStatus domain.Status   `json:"new_status"`
	Reason    string          `json:"reason,omitempty"`
	At        time.Time       `json:"at"`
}

func (e StatusChanged) Kind() string            { return "status_changed" }
func (e StatusChanged) Target() domain.TargetID { return e.TargetID }

type RedeployAttempted struct {
	Attempt domain.RedeployAttempt `json:"attempt"`
}

func (e RedeployAttempted) Kind() string            { return "redeploy_attempted" }
func (e RedeployAttempted) Target() domain.TargetID { return e.Attempt.TargetID }

// Notifier is the abstract sink the core publishes into. Publish must not
// block; delivery failures stay inside the notifier.
type Notifier interface {
	Publish(e Event)
}

// Sink delivers one event to one destination.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and aggregates their failures.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs error
	for _, s := range m {
		if s == nil {
			continue
		}
		errs = multierr.Append(errs, s.Send(ctx, e))
	}
	return errs
}

// Nop discards events; handy default for tests.
type Nop struct{}

func (Nop) Publish(Event) {}
