package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanko-field/orderdesk/internal/services"
)

// LogPublisher writes order events to the structured log. It stands in for Pub/Sub when no
// topic is configured.
type LogPublisher struct {
	logger *zap.Logger
}

var _ services.OrderEventPublisher = (*LogPublisher)(nil)

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	msg := newOrderEventMessage(event)
	p.logger.Info("order event",
		zap.String("type", msg.Type),
		zap.String("orderId", msg.OrderID),
		zap.String("clientId", msg.ClientID),
		zap.String("status", msg.Status),
		zap.String("previousStatus", msg.PreviousStatus),
		zap.String("total", msg.Total.String()),
		zap.String("reason", msg.Reason),
		zap.Time("occurredAt", msg.OccurredAt),
	)
	return nil
}
