// Package events publishes order events after their transaction commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-storefront/internal/models"
	"github.com/segmentio/kafka-go"
)

const (
	TypeOrderCreated      = "order.created"
	TypeOrderTransitioned = "order.transitioned"
)

type OrderEvent struct {
	ID            string               `json:"id"`
	Type          string               `json:"type"`
	OrderID       int64                `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	UserID        int64                `json:"user_id"`
	Status        models.OrderStatus   `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	TotalAmount   string               `json:"total_amount"`
	Trigger       string               `json:"trigger,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// NewOrderEvent snapshots order. trigger names the lifecycle event for
// order.transitioned and is empty for order.created.
func NewOrderEvent(eventType string, order *models.Order, trigger string) OrderEvent {
	return OrderEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount.StringFixed(2),
		Trigger:       trigger,
		OccurredAt:    time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish keys messages by order number so every event of one order lands
// on the same partition, in order.
func (p *KafkaPublisher) Publish(ctx context.Context, event OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderNumber),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("write %s event: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher stands in for Kafka when it is disabled.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, event OrderEvent) error {
	p.Logger.InfoContext(ctx, "order event",
		"type", event.Type,
		"order_number", event.OrderNumber,
		"status", event.Status,
		"payment_status", event.PaymentStatus,
		"trigger", event.Trigger)
	return nil
}

// Emit publishes event and logs a failure instead of returning it. The
// order is already committed at this point.
func Emit(ctx context.Context, publisher Publisher, logger *slog.Logger, event OrderEvent) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.WarnContext(ctx, "publish order event failed",
			"type", event.Type,
			"order_number", event.OrderNumber,
			"error", err)
	}
}
