package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hamed0406/keepalive/internal/domain"
)

type Slack struct {
	Webhook string
	Client  *http.Client
}

func NewSlack(webhook string) *Slack {
	if webhook == "" {
		return nil
	}
	return &Slack{
		Webhook: webhook,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (s *Slack) Send(ctx context.Context, e Event) error {
	if s == nil || s.Webhook == "" {
		return errors.New("slack disabled")
	}
	body, _ := json.Marshal(slackPayload{Text: formatEvent(e)})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.Webhook, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return errors.New("slack non-2xx")
	}
	return nil
}

func formatEvent(e Event) string {
	switch ev := e.(type) {
	case StatusChanged:
		title := statusTitle(ev.NewStatus)
		msg := fmt.Sprintf("*%s*\nTarget: %s\n%s → %s", title, ev.TargetID, ev.OldStatus, ev.NewStatus)
		if ev.Reason != "" {
			msg += "\nReason: " + ev.Reason
		}
		return msg
	case RedeployAttempted:
		a := ev.Attempt
		msg := fmt.Sprintf("*🔁 Redeploy %s*\nTarget: %s\nReason: %s", a.Outcome, a.TargetID, a.Reason)
		if a.Detail != "" {
			msg += "\nDetail: " + a.Detail
		}
		return msg
	default:
		return fmt.Sprintf("*%s* target=%s", e.Kind(), e.Target())
	}
}

func statusTitle(s domain.Status) string {
	switch s {
	case domain.StatusHealthy:
		return "🟢 Target RECOVERED"
	case domain.StatusDown:
		return "🔴 Target DOWN"
	case domain.StatusDegraded:
		return "🟡 Target DEGRADED"
	case domain.StatusRedeploying:
		return "🔁 Target REDEPLOYING"
	default:
		return "Target " + string(s)
	}
}
