package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink mirrors every event into the structured log; always configured so
// events are observable even with no chat sink wired.
type LogSink struct {
	Logger *zap.Logger
}

func (l *LogSink) Send(ctx context.Context, e Event) error {
	switch ev := e.(type) {
	case StatusChanged:
		l.Logger.Info("status_changed",
			zap.String("target_id", string(ev.TargetID)),
			zap.String("old", string(ev.OldStatus)),
			zap.String("new", string(ev.NewStatus)),
			zap.String("reason", ev.Reason),
		)
	case RedeployAttempted:
		a := ev.Attempt
		l.Logger.Info("redeploy_attempted",
			zap.String("target_id", string(a.TargetID)),
			zap.String("attempt_id", a.ID),
			zap.String("outcome", string(a.Outcome)),
			zap.String("reason", string(a.Reason)),
			zap.String("detail", a.Detail),
		)
	default:
		l.Logger.Info(e.Kind(), zap.String("target_id", string(e.Target())))
	}
	return nil
}
