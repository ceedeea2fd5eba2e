package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeCallCompleted MessageType = "call.completed"
	MessageTypeCallFailed    MessageType = "call.failed"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// CallCompletedPayload — payload события об успешном завершении звонка.
type CallCompletedPayload struct {
	CallID uuid.UUID `json:"call_id"`

	// Transcript может быть пустым: сессия закрылась штатно,
	// но разговор не состоялся.
	Transcript string `json:"transcript,omitempty"`
}

// CallFailedPayload — payload события о провале звонка.
type CallFailedPayload struct {
	CallID uuid.UUID `json:"call_id"`
	Reason string    `json:"reason,omitempty"`
}

// Publisher публикует события о звонках в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // событие переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishCallCompleted публикует событие об успешном завершении звонка.
// Потребитель: dialer (вызывает CallCompleted оркестратора).
func (p *Publisher) PublishCallCompleted(ctx context.Context, callID uuid.UUID, transcript string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeCallCompleted,
		Payload:   CallCompletedPayload{CallID: callID, Transcript: transcript},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeCalls, RoutingKeyCompleted, msg)
}

// PublishCallFailed публикует событие о провале звонка.
// Потребитель: dialer (вызывает CallFailed оркестратора).
func (p *Publisher) PublishCallFailed(ctx context.Context, callID uuid.UUID, reason string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeCallFailed,
		Payload:   CallFailedPayload{CallID: callID, Reason: reason},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeCalls, RoutingKeyFailed, msg)
}
