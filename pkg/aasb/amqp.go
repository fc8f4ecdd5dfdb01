package aasb

import (
	"context"
	"fmt"
	"io"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
)

// Routing key prefixes on the AASB exchange. Messages from this service are
// routed as engine.<Topic>.<Action>; messages for it as platform.<Topic>.<Action>.
const (
	engineKeyPrefix   = "engine"
	platformKeyPrefix = "platform"
)

// amqpChannel is the subset of *amqp.Channel the transport needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// amqpDialer opens a fresh connection and channel.
type amqpDialer func() (io.Closer, amqpChannel, error)

// AMQPTransport exchanges AASB messages over a RabbitMQ topic exchange. After
// the broker connection drops, the next Run dials it again.
type AMQPTransport struct {
	exchange string
	topics   []string
	dial     amqpDialer

	mu     sync.Mutex
	conn   io.Closer
	ch     amqpChannel
	closed bool

	logger *zap.Logger
}

// DialAMQP connects to the broker at url and declares the exchange.
func DialAMQP(url, exchange string, topics ...string) (*AMQPTransport, error) {
	dial := func() (io.Closer, amqpChannel, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to open channel: %w", err)
		}
		return conn, ch, nil
	}

	conn, ch, err := dial()
	if err != nil {
		return nil, err
	}
	t, err := newAMQPTransport(conn, ch, exchange, topics)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	t.dial = dial
	return t, nil
}

func newAMQPTransport(conn io.Closer, ch amqpChannel, exchange string, topics []string) (*AMQPTransport, error) {
	if len(topics) == 0 {
		topics = []string{TopicPhoneCallController, TopicAASB, TopicMessaging}
	}
	t := &AMQPTransport{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		topics:   topics,
		logger:   logging.Named("AMQPTransport"),
	}
	if err := t.declare(ch); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AMQPTransport) declare(ch amqpChannel) error {
	if err := ch.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.exchange, err)
	}
	return nil
}

func routingKey(prefix string, msg Message) string {
	return prefix + "." + msg.Topic() + "." + msg.Action()
}

// Publish sends msg to the engine. While the broker is unreachable it fails
// with ErrConnectionLost.
func (t *AMQPTransport) Publish(ctx context.Context, msg Message) error {
	body, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if t.ch == nil {
		return ErrConnectionLost
	}

	key := routingKey(engineKeyPrefix, msg)
	err = t.ch.PublishWithContext(ctx, t.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   msg.ID(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	t.logger.Debug("published", zap.String("key", key), zap.String("id", msg.ID()))
	return nil
}

// channel returns the live channel, dialing a new one after a connection loss.
func (t *AMQPTransport) channel() (amqpChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.ch != nil {
		return t.ch, nil
	}
	if t.dial == nil {
		return nil, ErrConnectionLost
	}

	conn, ch, err := t.dial()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if err := t.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	t.conn, t.ch = conn, ch
	t.logger.Info("reconnected to broker")
	return ch, nil
}

// drop forgets ch so the next Run dials again.
func (t *AMQPTransport) drop(ch amqpChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ch != ch {
		return
	}
	ch.Close()
	if t.conn != nil {
		t.conn.Close()
	}
	t.ch, t.conn = nil, nil
}

func (t *AMQPTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Run binds an exclusive queue to the platform topics and delivers messages
// until ctx is done or the channel closes.
func (t *AMQPTransport) Run(ctx context.Context, handle func(Message)) error {
	ch, err := t.channel()
	if err != nil {
		return err
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.drop(ch)
		return fmt.Errorf("%w: failed to declare queue: %v", ErrConnectionLost, err)
	}
	for _, topic := range t.topics {
		key := platformKeyPrefix + "." + topic + ".*"
		if err := ch.QueueBind(q.Name, key, t.exchange, false, nil); err != nil {
			t.drop(ch)
			return fmt.Errorf("%w: failed to bind %s: %v", ErrConnectionLost, key, err)
		}
	}

	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		t.drop(ch)
		return fmt.Errorf("%w: failed to consume: %v", ErrConnectionLost, err)
	}
	t.logger.Info("waiting for engine messages", zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				if t.isClosed() {
					return ErrTransportClosed
				}
				t.drop(ch)
				return ErrConnectionLost
			}
			msg, err := Decode(d.Body)
			if err != nil {
				t.logger.Warn("dropping message", zap.String("key", d.RoutingKey), zap.Error(err))
				continue
			}
			handle(msg)
		}
	}
}

// Close closes the channel and connection.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	if t.ch != nil {
		err = t.ch.Close()
	}
	if t.conn != nil {
		if cerr := t.conn.Close(); err == nil {
			err = cerr
		}
	}
	t.ch, t.conn = nil, nil
	return err
}
