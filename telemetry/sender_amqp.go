package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// AMQPSender publishes event batches to a durable broker queue. Brokers
// deduplicate on the consumer side, so re-publishing a batch after a
// failed ack is safe.
type AMQPSender struct {
	connection AMQPConnection
	channel    AMQPChannel
	queue      string
}

// NewAMQPSender connects to the broker and declares the telemetry queue.
func NewAMQPSender(url, queue string) (*AMQPSender, error) {
	return NewAMQPSenderWithDialer(url, queue, &RealAMQPDialer{})
}

// NewAMQPSenderWithDialer creates a sender with an injected dialer for
// testing.
func NewAMQPSenderWithDialer(url, queue string, dialer AMQPDialer) (*AMQPSender, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	// Durable queue so telemetry survives broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return &AMQPSender{connection: conn, channel: ch, queue: queue}, nil
}

// Send implements Sender by publishing the batch as one JSON message.
func (a *AMQPSender) Send(_ context.Context, events []Event) error {
	body, err := json.Marshal(map[string]interface{}{"events": events})
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry batch: %w", err)
	}

	err = a.channel.Publish("", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish telemetry batch: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (a *AMQPSender) Close() error {
	if err := a.channel.Close(); err != nil {
		a.connection.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := a.connection.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}
