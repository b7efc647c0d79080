package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "atsinbox.events"

	// RoutingKeySyncRequested asks the worker to sync the shared mailbox.
	RoutingKeySyncRequested = "inbox.sync.requested"
	// RoutingKeySyncCompleted reports the outcome of every sync run.
	RoutingKeySyncCompleted = "inbox.sync.completed"
)

func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the durable topic exchange all events go through.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, amqp091.ExchangeTopic, true, false, false, false, nil)
}
