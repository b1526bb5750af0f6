package events

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log instead of a broker.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Info("event",
		zap.String("event_id", e.ID.String()),
		zap.String("event_type", string(e.Type)),
		zap.String("key", e.Key),
		zap.Any("payload", e.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
