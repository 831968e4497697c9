package notify

import (
	"context"

	"go.uber.org/zap"

	"levtrade/internal/engine"
)

// LogSender writes lifecycle events to the process log. Always registered as
// a fallback channel so every event leaves a trace even with no webhook
// configured.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(_ context.Context, evt engine.Event) error {
	l.log.Info("lifecycle event",
		zap.String("uuid", evt.PositionUUID),
		zap.String("symbol", evt.Symbol),
		zap.String("event", evt.Type),
		zap.Any("detail", evt.Payload))
	return nil
}
