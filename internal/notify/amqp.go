package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nyashahama/consulting-leads-backend/internal/lead"
)

const (
	ExchangeName = "ex.leads"
	QueueName    = "q.leads.operator"
	DLXName      = "ex.leads.dlx"
	DLQName      = "q.leads.operator.dlq"

	KeyPassSummary   = "pass.summary"
	KeyCriticalAlert = "alert.critical"
	KeyDigest        = "digest.daily"
)

// publisher is satisfied by *amqp.Channel.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notifications as persistent JSON messages.
type AMQPNotifier struct {
	conn *amqp.Connection
	ch   publisher
	now  func() time.Time
}

// NewAMQPNotifier dials the broker, declares the topology and returns a
// notifier publishing to ExchangeName. Close releases the connection.
func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: amqp channel: %w", err)
	}
	if err := setupTopology(ch); err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: amqp topology: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch, now: time.Now}, nil
}

// newAMQPNotifierWith wraps an already-configured publisher.
func newAMQPNotifierWith(p publisher, now func() time.Time) *AMQPNotifier {
	return &AMQPNotifier{ch: p, now: now}
}

// setupTopology declares a topic exchange bound to one durable operator
// queue. Rejected messages dead-letter into DLQName.
func setupTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(DLXName, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(DLQName, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(DLQName, "", DLXName, false, nil); err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	args := amqp.Table{"x-dead-letter-exchange": DLXName}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, args); err != nil {
		return err
	}
	for _, key := range []string{KeyPassSummary, KeyCriticalAlert, KeyDigest} {
		if err := ch.QueueBind(QueueName, key, ExchangeName, false, nil); err != nil {
			return err
		}
	}
	return nil
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: amqp: marshal %s: %w", key, err)
	}
	err = n.ch.PublishWithContext(ctx, ExchangeName, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    n.now(),
		Type:         key,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: amqp: publish %s: %w", key, err)
	}
	return nil
}

func (n *AMQPNotifier) PassSummary(ctx context.Context, s Summary) error {
	return n.publish(ctx, KeyPassSummary, s)
}

func (n *AMQPNotifier) CriticalAlert(ctx context.Context, a Alert) error {
	return n.publish(ctx, KeyCriticalAlert, a)
}

func (n *AMQPNotifier) Digest(ctx context.Context, m lead.Metrics) error {
	return n.publish(ctx, KeyDigest, m)
}

// Close closes the broker connection.
func (n *AMQPNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
