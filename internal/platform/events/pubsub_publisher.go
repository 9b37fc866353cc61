package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/hanko-field/orderdesk/internal/domain"
	"github.com/hanko-field/orderdesk/internal/services"
)

// OrderEventMessage is the JSON payload published for every order event.
type OrderEventMessage struct {
	Type           string       `json:"type"`
	OrderID        string       `json:"orderId"`
	ClientID       string       `json:"clientId"`
	Status         string       `json:"status"`
	PreviousStatus string       `json:"previousStatus,omitempty"`
	Total          domain.Money `json:"total"`
	Reason         string       `json:"reason,omitempty"`
	OccurredAt     time.Time    `json:"occurredAt"`
}

func newOrderEventMessage(event services.OrderEvent) OrderEventMessage {
	return OrderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		ClientID:       event.ClientID,
		Status:         string(event.Status),
		PreviousStatus: string(event.PreviousStatus),
		Total:          event.Total,
		Reason:         event.Reason,
		OccurredAt:     event.OccurredAt.UTC(),
	}
}

// PubSubOrderPublisher publishes order events to a Pub/Sub topic. Messages carry the order
// id as ordering key so a subscriber with ordering enabled sees creation before any status
// change.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderPublisher)(nil)

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent sends the event and waits for the server acknowledgement.
func (p *PubSubOrderPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(newOrderEventMessage(event))
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventType", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "status", string(event.Status))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: strings.TrimSpace(event.OrderID),
	})

	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(strings.TrimSpace(event.OrderID))
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

// Stop flushes pending messages and stops the topic's publishing goroutines.
func (p *PubSubOrderPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
