package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Publisher delivers domain events to interested consumers
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
func (Nop) Close() error                            { return nil }

// RabbitPublisher publishes envelopes to a topic exchange, routed by event type
type RabbitPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      zerolog.Logger
}

// DialOptions configures the broker connection
type DialOptions struct {
	URL      string
	Exchange string
	Attempts int
	Delay    time.Duration
}

const maxDialDelay = 30 * time.Second

// NewRabbitPublisher connects with exponential backoff and declares the exchange
func NewRabbitPublisher(ctx context.Context, opts DialOptions, log zerolog.Logger) (*RabbitPublisher, error) {
	conn, err := dialWithRetry(ctx, opts, log)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}

	return &RabbitPublisher{conn: conn, exchange: opts.Exchange, log: log}, nil
}

func dialWithRetry(ctx context.Context, opts DialOptions, log zerolog.Logger) (*amqp.Connection, error) {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}

	var lastErr error
	delay := opts.Delay
	for i := 1; i <= opts.Attempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", i).Dur("sleep", delay).Msg("rabbit dial failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
		delay *= 2
		if delay > maxDialDelay {
			delay = maxDialDelay
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", opts.Attempts, lastErr)
}

// Publish sends env as a persistent JSON message
func (p *RabbitPublisher) Publish(ctx context.Context, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	return ch.PublishWithContext(ctx, p.exchange, env.Meta.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.Time,
		Body:         body,
	})
}

// Close closes the broker connection
func (p *RabbitPublisher) Close() error {
	return p.conn.Close()
}

// Emitter publishes best effort: failures are logged, never returned
type Emitter struct {
	pub Publisher
	log zerolog.Logger
}

// NewEmitter wraps pub. A nil pub drops every event.
func NewEmitter(pub Publisher, log zerolog.Logger) *Emitter {
	if pub == nil {
		pub = Nop{}
	}
	return &Emitter{pub: pub, log: log}
}

// Emit publishes an event of eventType for agentID
func (e *Emitter) Emit(ctx context.Context, eventType, agentID string, data any) {
	if e == nil {
		return
	}
	env := NewEnvelope(eventType, agentID, data)
	if err := e.pub.Publish(ctx, env); err != nil {
		e.log.Warn().Err(err).Str("event", eventType).Str("agent_id", agentID).Msg("event publish failed")
	}
}
