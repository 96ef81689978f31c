// Package events публикует события жизненного цикла заказа в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/mmo-shop/internal/model"
)

const (
	TypeOrderCreated          = "OrderCreated"
	TypeOrderPaymentConfirmed = "OrderPaymentConfirmed"
	TypeOrderCompleted        = "OrderCompleted"
	TypeOrderRejected         = "OrderRejected"
	TypeOrderCancelled        = "OrderCancelled"
)

var topics = map[string]string{
	TypeOrderCreated:          "order.created",
	TypeOrderPaymentConfirmed: "order.payment_confirmed",
	TypeOrderCompleted:        "order.completed",
	TypeOrderRejected:         "order.rejected",
	TypeOrderCancelled:        "order.cancelled",
}

// Topic возвращает топик для типа события.
func Topic(eventType string) string {
	return topics[eventType]
}

// Envelope описывает сообщение о смене статуса заказа.
type Envelope struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	OrderID     string    `json:"order_id"`
	OrderCode   string    `json:"order_code"`
	BuyerID     string    `json:"buyer_id"`
	Status      string    `json:"status"`
	TotalAmount string    `json:"total_amount"`
	Note        string    `json:"note,omitempty"`
}

// NewEnvelope строит событие по текущему состоянию заказа.
func NewEnvelope(eventType string, o model.Order) Envelope {
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		OccurredAt:  time.Now().UTC(),
		OrderID:     o.ID.String(),
		OrderCode:   o.Code,
		BuyerID:     o.BuyerID.String(),
		Status:      string(o.Status),
		TotalAmount: o.TotalAmount.String(),
		Note:        o.AdminNote,
	}
}

// Publisher отправляет события заказа.
type Publisher interface {
	Publish(ctx context.Context, eventType string, o model.Order) error
}

// NopPublisher используется, когда брокер не настроен.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, string, model.Order) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет события в Kafka с ключом партиционирования order_id.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher создаёт издателя для указанных брокеров.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish сериализует событие и синхронно записывает его в топик типа события.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, o model.Order) error {
	topic := Topic(eventType)
	if topic == "" {
		return fmt.Errorf("unknown event type %q", eventType)
	}

	env := NewEnvelope(eventType, o)
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(env.OrderID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(eventType)},
			{Key: "x-event-id", Value: []byte(env.EventID)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event %s: %w", eventType, err)
	}
	return nil
}

// Close закрывает writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
