package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/logger"
	"depositgate/internal/app/model"
)

var _ Publisher = (*RabbitMQ)(nil)

// channel is the part of *amqp.Channel used by the publisher
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type RabbitMQ struct {
	mu         sync.Mutex
	connection *amqp.Connection
	channel    channel
	exchange   string
}

func (r *RabbitMQ) LoggerComponent() string {
	return "Broker.RabbitMQ"
}

// NewRabbitMQ connects to url and declares a durable topic exchange
func NewRabbitMQ(url, exchange string) (*RabbitMQ, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	r, err := newRabbitMQ(ch, exchange)
	if err != nil {
		_ = connection.Close()
		return nil, err
	}
	r.connection = connection

	return r, nil
}

func newRabbitMQ(ch channel, exchange string) (*RabbitMQ, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	return &RabbitMQ{channel: ch, exchange: exchange}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, ev *model.DecisionEvent) error {
	l := logger.Get(ctx, r)

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event encode: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		RoutingKey(ev),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.TransactionID,
			Timestamp:    ev.DecidedAt,
			Body:         body,
		},
	)
	if err != nil {
		l.Error().Err(err).Str("transaction_id", ev.TransactionID).Msg("Publish failed")
		return fmt.Errorf("%w: amqp publish: %v", apperr.ErrTransport, err)
	}

	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.channel.Close()
	if r.connection != nil {
		if cerr := r.connection.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
