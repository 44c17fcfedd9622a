package domain

import "time"

type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusDown        Status = "down"
	StatusRedeploying Status = "redeploying"
)

// HealthState is the tracker's view of one target. Mutated only by the
// health tracker; consumers get copies.
type HealthState struct {
	TargetID         TargetID  `json:"target_id"`
	Status           Status    `json:"status"`
	ConsecutiveFails int       `json:"consecutive_fails"`
	LastTransition   time.Time `json:"last_transition,omitempty"`
	LastProbe        time.Time `json:"last_probe,omitempty"`
	LastRedeploy     time.Time `json:"last_redeploy,omitempty"`
}
