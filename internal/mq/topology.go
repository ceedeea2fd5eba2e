package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeCalls Exchange = "verista.calls"
	ExchangeDLQ   Exchange = "verista.dlq"
)

// Queues — имена очередей.
const (
	QueueCallsCompleted Queue = "calls.completed"
	QueueCallsFailed    Queue = "calls.failed"
	QueueDLQCalls       Queue = "dlq.calls"
)

// Routing keys.
const (
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyFailed    RoutingKey = "failed"
	RoutingKeyDLQCalls  RoutingKey = "calls"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентна: повторное объявление той же топологии безопасно.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []Exchange{ExchangeCalls, ExchangeDLQ}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex), // name
			"direct",   // type
			true,       // durable
			false,      // auto-deleted
			false,      // internal
			false,      // no-wait
			nil,        // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Событийные очереди шлют некорректные сообщения в DLQ.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQCalls),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		{QueueCallsCompleted, dlqArgs},
		{QueueCallsFailed, dlqArgs},

		// Сама DLQ очередь — разбирается вручную.
		{QueueDLQCalls, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueCallsCompleted, RoutingKeyCompleted, ExchangeCalls},
		{QueueCallsFailed, RoutingKeyFailed, ExchangeCalls},
		{QueueDLQCalls, RoutingKeyDLQCalls, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
