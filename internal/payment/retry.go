package payment

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"greenroom/pkg/interfaces"
)

// AMQPRefundQueue publishes failed refunds to a fanout exchange for an
// external retry worker. Implements interfaces.RefundQueue.
type AMQPRefundQueue struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPRefundQueue connects to RabbitMQ and opens a channel.
func NewAMQPRefundQueue(amqpURL, exchange string) (*AMQPRefundQueue, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	return &AMQPRefundQueue{conn: conn, channel: ch, exchange: exchange}, nil
}

// EnqueueRefund publishes the retry request to the exchange.
func (q *AMQPRefundQueue) EnqueueRefund(retry interfaces.RefundRetry) error {
	body, err := json.Marshal(retry)
	if err != nil {
		return fmt.Errorf("failed to encode refund retry: %w", err)
	}

	if err := q.channel.ExchangeDeclare(
		q.exchange,
		"fanout",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := q.channel.Publish(
		q.exchange,
		"",
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	); err != nil {
		return fmt.Errorf("failed to publish refund retry: %w", err)
	}
	return nil
}

// Close closes the RabbitMQ channel and connection.
func (q *AMQPRefundQueue) Close() {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		_ = q.conn.Close()
	}
}
