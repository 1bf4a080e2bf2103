package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"interview-recorder/dto"
	"interview-recorder/pkg/rabbitmq"
)

const (
	EventSessionStarted   = "session.started"
	EventSessionResumed   = "session.resumed"
	EventSessionRetaken   = "session.retaken"
	EventSessionCompleted = "session.completed"
	EventSessionAbandoned = "session.abandoned"
	EventUploadFinished   = "upload.finished"
	EventUploadFailed     = "upload.failed"
)

// EventPublisher pushes session lifecycle events to the telemetry exchange.
// Telemetry must never stall the recording pipeline, so implementations log
// failures and move on.
type EventPublisher interface {
	Emit(ctx context.Context, event dto.SessionEvent)
}

type noopEvents struct{}

func NoopEvents() EventPublisher {
	return noopEvents{}
}

func (noopEvents) Emit(context.Context, dto.SessionEvent) {}

type queueEvents struct {
	pub rabbitmq.Publisher
}

func NewQueueEvents(pub rabbitmq.Publisher) EventPublisher {
	return &queueEvents{pub: pub}
}

func (q *queueEvents) Emit(ctx context.Context, event dto.SessionEvent) {
	if event.EventId == "" {
		event.EventId = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := q.pub.Publish(ctx, event.Type, event); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("type", event.Type).Msg("failed to publish telemetry event")
	}
}
