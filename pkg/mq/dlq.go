package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// DLQExchangeName receives deliveries that ran out of retries, routed by
// their original routing key.
const DLQExchangeName = "atsinbox.dlq"

func dlqQueueName(routingKey string) string {
	return routingKey + ".dlq"
}

// DeclareDLQExchange declares the durable topic exchange for dead letters.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(DLQExchangeName, amqp091.ExchangeTopic, true, false, false, false, nil)
}

// DeclareDLQQueue declares and binds the parking queue for routingKey.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(dlqQueueName(routingKey), true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("declare dlq %s: %w", dlqQueueName(routingKey), err)
	}
	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("bind dlq %s: %w", q.Name, err)
	}
	return q, nil
}

// PublishToDLQ parks payload on the dead letter exchange with the last error
// attached as a header.
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError string) error {
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
		Headers: amqp091.Table{
			"x-original-error":       originalError,
			"x-original-routing-key": routingKey,
		},
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, DLQExchangeName, routingKey, false, false, msg)
}
