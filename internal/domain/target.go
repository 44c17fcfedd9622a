package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type TargetID string

// Provider identifies the hosting platform a target runs on. The tag picks
// which redeploy client the coordinator uses.
type Provider string

const (
	ProviderRender Provider = "render"
	ProviderKoyeb  Provider = "koyeb"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderRender, ProviderKoyeb:
		return true
	}
	return false
}

const (
	DefaultInterval  = 5 * time.Minute
	DefaultThreshold = 3
	DefaultCooldown  = 5 * time.Minute

	MinInterval     = 5 * time.Second
	MaxProbeTimeout = 30 * time.Second
)

// Target is a monitored endpoint. Owned by the registry; everything else
// references it by ID and works on copies.
type Target struct {
	ID           TargetID      `json:"id"`
	URL          string        `json:"url"`
	Provider     Provider      `json:"provider"`
	DeployHook   string        `json:"deploy_hook,omitempty"`
	Interval     time.Duration `json:"interval"`
	Threshold    int           `json:"threshold"`
	Cooldown     time.Duration `json:"cooldown"`
	AutoRedeploy bool          `json:"auto_redeploy"`
	Enabled      bool          `json:"enabled"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

var (
	ErrInvalidConfig   = errors.New("invalid target config")
	ErrDuplicateTarget = errors.New("duplicate target")
	ErrNotFound        = errors.New("target not found")
)

// Normalize fills defaults for zero-valued tuning fields.
func (t *Target) Normalize() {
	if t.Interval == 0 {
		t.Interval = DefaultInterval
	}
	if t.Threshold == 0 {
		t.Threshold = DefaultThreshold
	}
	if t.Cooldown == 0 {
		t.Cooldown = DefaultCooldown
	}
}

func (t *Target) Validate() error {
	if strings.TrimSpace(string(t.ID)) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}
	if !isHTTPURL(t.URL) {
		return fmt.Errorf("%w: bad url %q", ErrInvalidConfig, t.URL)
	}
	if !t.Provider.Valid() {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, t.Provider)
	}
	if t.Interval < MinInterval {
		return fmt.Errorf("%w: interval %s below minimum %s", ErrInvalidConfig, t.Interval, MinInterval)
	}
	if t.Threshold < 1 {
		return fmt.Errorf("%w: threshold must be >= 1, got %d", ErrInvalidConfig, t.Threshold)
	}
	if t.Cooldown <= 0 {
		return fmt.Errorf("%w: cooldown must be > 0, got %s", ErrInvalidConfig, t.Cooldown)
	}
	if t.DeployHook != "" && !isHTTPURL(t.DeployHook) {
		return fmt.Errorf("%w: bad deploy hook %q", ErrInvalidConfig, t.DeployHook)
	}
	return nil
}

// ProbeTimeout bounds a single probe: half the interval, capped at 30s.
func (t *Target) ProbeTimeout() time.Duration {
	d := t.Interval / 2
	if d > MaxProbeTimeout {
		d = MaxProbeTimeout
	}
	if d <= 0 {
		d = MaxProbeTimeout
	}
	return d
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
