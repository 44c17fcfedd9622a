package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/keepalive/internal/domain"
)

const defaultCallTimeout = 45 * time.Second

// hookClient is the shared deploy-hook caller: both supported platforms
// expose redeploys as an authenticated POST, differing only in auth style.
type hookClient struct {
	log     *zap.Logger
	client  *http.Client
	timeout time.Duration
	auth    func(*http.Request)
}

func (c *hookClient) redeploy(ctx context.Context, t domain.Target) Result {
	if t.DeployHook == "" {
		return Result{Outcome: Error, Detail: "target has no deploy hook"}
	}

	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, t.DeployHook, nil)
	if err != nil {
		return Result{Outcome: Error, Detail: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{Outcome: Error, Detail: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return Result{Outcome: Accepted, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{Outcome: RateLimited, StatusCode: resp.StatusCode, Detail: "provider throttled"}
	default:
		return Result{
			Outcome:    Error,
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("%s: %s", resp.Status, snippet(resp.Body)),
		}
	}
}

// snippet reads a short error body for the attempt detail.
func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

// Render deploy hooks carry their key in the hook URL itself.
type Render struct {
	hookClient
}

func NewRender(log *zap.Logger) *Render {
	return &Render{hookClient{
		log:     log,
		client:  &http.Client{},
		timeout: defaultCallTimeout,
	}}
}

func (r *Render) Redeploy(ctx context.Context, t domain.Target) Result {
	res := r.redeploy(ctx, t)
	r.log.Debug("render_redeploy",
		zap.String("target_id", string(t.ID)),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("status", res.StatusCode),
	)
	return res
}

// Koyeb redeploys go through the control-plane API with a bearer token.
type Koyeb struct {
	hookClient
}

func NewKoyeb(log *zap.Logger, apiToken string) *Koyeb {
	return &Koyeb{hookClient{
		log:     log,
		client:  &http.Client{},
		timeout: defaultCallTimeout,
		auth: func(req *http.Request) {
			if apiToken != "" {
				req.Header.Set("Authorization", "Bearer "+apiToken)
			}
		},
	}}
}

func (k *Koyeb) Redeploy(ctx context.Context, t domain.Target) Result {
	res := k.redeploy(ctx, t)
	k.log.Debug("koyeb_redeploy",
		zap.String("target_id", string(t.ID)),
		zap.String("outcome", string(res.Outcome)),
		zap.Int("status", res.StatusCode),
	)
	return res
}
