package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hamed0406/keepalive/internal/domain"
)

type HTTPChecker struct {
	Client *http.Client
	now    func() time.Time
}

func NewHTTPChecker() *HTTPChecker {
	return &HTTPChecker{
		// No client-level timeout: each call is bounded by the per-target
		// context deadline derived from the probe interval.
		Client: &http.Client{},
		now:    time.Now,
	}
}

func (h *HTTPChecker) Check(ctx context.Context, t domain.Target) domain.ProbeResult {
	cctx, cancel := context.WithTimeout(ctx, t.ProbeTimeout())
	defer cancel()

	res := domain.ProbeResult{
		TargetID:  t.ID,
		CheckedAt: h.now().UTC(),
	}

	start := h.now()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, t.URL, nil)
	if err != nil {
		res.Outcome = domain.OutcomeConnectionError
		res.Reason = err.Error()
		return res
	}

	resp, err := h.Client.Do(req)
	res.LatencyMS = float64(h.now().Sub(start)) / float64(time.Millisecond)
	if err != nil {
		res.Outcome, res.Reason = classifyTransportError(cctx, err, t.URL)
		return res
	}
	defer resp.Body.Close()

	res.HTTPStatus = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		res.Outcome = domain.OutcomeSuccess
		res.Reason = resp.Status
	} else {
		res.Outcome = domain.OutcomeHTTPError
		res.Reason = resp.Status
	}
	return res
}

func classifyTransportError(ctx context.Context, err error, target string) (domain.Outcome, string) {
	var nerr net.Error
	timedOut := errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &nerr) && nerr.Timeout())
	if timedOut {
		return domain.OutcomeTimeout, err.Error()
	}

	reason := err.Error()
	if class := ClassifyDNS(extractHost(target)).Class; class != "" && class != dnsClassResolves {
		reason = fmt.Sprintf("%s dns=%s", reason, class)
	}
	return domain.OutcomeConnectionError, reason
}

func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
