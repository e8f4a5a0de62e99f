package alert

import (
	"context"

	logx "focusd/pkg/logx"
)

// LogSink writes fired notices to the structured log. It is the always-on
// fallback sink so an alert is never silently lost when no other sink is
// configured.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, n Notice) error {
	_ = ctx
	fields := []logx.Field{logx.String("message", n.Message)}
	if n.TaskID != "" {
		fields = append(fields, logx.String("task_id", n.TaskID))
	}
	s.log.Info("alert", fields...)
	return nil
}
