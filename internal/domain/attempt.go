package domain

import "time"

type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptFailed    AttemptOutcome = "failed"
	AttemptThrottled AttemptOutcome = "throttled"
)

// RedeployReason records whether an attempt came from the automatic
// escalation path or an operator.
type RedeployReason string

const (
	ReasonAuto   RedeployReason = "auto"
	ReasonManual RedeployReason = "manual"
)

// RedeployAttempt is one redeploy call against a provider. Immutable once
// completed; kept as bounded per-target history.
type RedeployAttempt struct {
	ID          string         `json:"id"`
	TargetID    TargetID       `json:"target_id"`
	Reason      RedeployReason `json:"reason"`
	Outcome     AttemptOutcome `json:"outcome"`
	Detail      string         `json:"detail,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
}
