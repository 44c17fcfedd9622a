package provider

import (
	"context"
	"fmt"

	"github.com/hamed0406/keepalive/internal/domain"
)

// Outcome classifies one redeploy call. Like the prober, a provider client
// never returns an error: transport failures are encoded in the result.
type Outcome string

const (
	Accepted    Outcome = "accepted"
	RateLimited Outcome = "rate_limited"
	Error       Outcome = "error"
)

type Result struct {
	Outcome    Outcome
	StatusCode int
	Detail     string
}

// Provider triggers a redeploy of a target on its hosting platform.
type Provider interface {
	Redeploy(ctx context.Context, t domain.Target) Result
}

// Registry maps provider tags to their clients.
type Registry map[domain.Provider]Provider

func (r Registry) For(tag domain.Provider) (Provider, error) {
	p, ok := r[tag]
	if !ok {
		return nil, fmt.Errorf("no client registered for provider %q", tag)
	}
	return p, nil
}
