// README: RabbitMQ notifier; publishes customer notifications with publisher confirms.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const DefaultExchange = "notifications"

var ErrNacked = errors.New("publish NACK from broker")

// AMQPNotifier publishes each notification to a topic exchange with routing
// key "notify.<kind>" and waits for the broker to confirm it.
type AMQPNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string

	acks <-chan amqp.Confirmation
	mu   sync.Mutex
}

func DialAMQP(url, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "amqp dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "amqp channel")
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &AMQPNotifier{conn: conn, ch: ch, exchange: exchange, acks: acks}, nil
}

func (a *AMQPNotifier) Enqueue(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.ch.PublishWithContext(ctx, a.exchange, RoutingKey(n.Kind), false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		Timestamp:     time.Now().UTC(),
		CorrelationId: string(n.OrderID),
		Headers:       amqp.Table{"x-source": "lastmile"},
		Body:          body,
	}); err != nil {
		return errors.Wrap(err, "amqp publish")
	}

	select {
	case conf, ok := <-a.acks:
		if !ok {
			return errors.New("amqp channel closed before confirm")
		}
		if !conf.Ack {
			return ErrNacked
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping reports whether the broker connection is still open.
func (a *AMQPNotifier) Ping() error {
	if a.conn == nil || a.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

func (a *AMQPNotifier) Close() error {
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}

func RoutingKey(kind string) string {
	if kind == "" {
		kind = "generic"
	}
	return "notify." + kind
}
