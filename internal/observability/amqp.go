package observability

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher emits sync lifecycle envelopes for ops consumers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env EventEnvelope, headers map[string]string) error
	Close() error
}

// brokerPublisher delivers envelopes to a durable topic exchange.
type brokerPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewPublisher dials the broker and declares the exchange. With an empty url
// or an unreachable broker it degrades to a logging noop, so the sync engine
// never depends on the broker being up.
func NewPublisher(url, exchange string) Publisher {
	if url == "" {
		log.Printf("amqp disabled: no url configured")
		return noopPublisher{}
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		log.Printf("amqp disabled: %v", err)
		return noopPublisher{}
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		log.Printf("amqp disabled: %v", err)
		return noopPublisher{}
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		log.Printf("amqp disabled: %v", err)
		return noopPublisher{}
	}

	log.Printf("amqp connected exchange=%s", exchange)
	return &brokerPublisher{conn: conn, channel: ch, exchange: exchange}
}

func (p *brokerPublisher) Publish(ctx context.Context, routingKey string, env EventEnvelope, headers map[string]string) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}

	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      table,
	})
}

func (p *brokerPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	return p.conn.Close()
}

type noopPublisher struct{}

func (noopPublisher) Publish(_ context.Context, routingKey string, env EventEnvelope, _ map[string]string) error {
	log.Printf("amqp noop publish routing_key=%s event=%s", routingKey, env.EventName)
	return nil
}

func (noopPublisher) Close() error { return nil }

var defaultPublisher Publisher

// SetPublisher installs the process-wide lifecycle event publisher.
func SetPublisher(p Publisher) {
	defaultPublisher = p
}

// PublishEvent publishes through the installed publisher; with none installed
// it is a silent no-op so library code can always call it.
func PublishEvent(ctx context.Context, routingKey string, env EventEnvelope, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.Publish(ctx, routingKey, env, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
