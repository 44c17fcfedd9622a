package domain

import "time"

// Outcome classifies a single probe. Every failure mode is encoded here;
// the prober never returns errors past its boundary.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeConnectionError Outcome = "connection_error"
	OutcomeHTTPError       Outcome = "http_error"
)

type ProbeResult struct {
	TargetID   TargetID  `json:"target_id"`
	Outcome    Outcome   `json:"outcome"`
	HTTPStatus int       `json:"http_status,omitempty"`
	LatencyMS  float64   `json:"latency_ms"`
	Reason     string    `json:"reason,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

func (r ProbeResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}
