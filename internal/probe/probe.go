package probe

import (
	"context"

	"github.com/hamed0406/keepalive/internal/domain"
)

// Checker performs one reachability check against a target. All failure
// modes are classified into the result; a Checker never returns an error.
// Retry policy lives upstream in the scheduled probe cadence, not here.
type Checker interface {
	Check(ctx context.Context, t domain.Target) domain.ProbeResult
}
