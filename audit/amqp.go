package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel used by AMQPSink.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig describes the broker connection.
type AMQPConfig struct {
	URL      string
	Exchange string
	Queue    string
}

// AMQPSink publishes entries as JSON messages.
type AMQPSink struct {
	pub      Publisher
	exchange string
	key      string
	closers  []func() error
}

// NewAMQPSink creates a sink publishing through pub. With an empty exchange
// the routing key is the queue name.
func NewAMQPSink(pub Publisher, exchange, key string) *AMQPSink {
	return &AMQPSink{pub: pub, exchange: exchange, key: key}
}

// DialAMQP connects to the broker and declares a durable queue.
func DialAMQP(cfg AMQPConfig) (*AMQPSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "devmesh.audit"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare amqp queue: %w", err)
	}

	s := NewAMQPSink(ch, cfg.Exchange, queue)
	s.closers = []func() error{ch.Close, conn.Close}
	return s, nil
}

// Record implements Sink.
func (s *AMQPSink) Record(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return s.pub.PublishWithContext(ctx, s.exchange, s.key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.Timestamp,
		Type:         e.Action,
		Body:         body,
	})
}

// Close releases the broker connection when the sink owns one.
func (s *AMQPSink) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
