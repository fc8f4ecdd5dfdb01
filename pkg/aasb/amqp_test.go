package aasb

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	bindings   []string
	published  []amqp.Publishing
	keys       []string
	deliveries chan amqp.Delivery
	closed     bool
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 4)}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.exchanges = append(f.exchanges, name+":"+kind)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: "amq.gen-1"}, nil
}

func (f *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	f.bindings = append(f.bindings, key)
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPTransportPublish(t *testing.T) {
	ch := newFakeChannel()
	tr, err := newAMQPTransport(nil, ch, "aasb", nil)
	if err != nil {
		t.Fatalf("newAMQPTransport: %v", err)
	}
	if len(ch.exchanges) != 1 || ch.exchanges[0] != "aasb:topic" {
		t.Errorf("exchanges = %v", ch.exchanges)
	}

	msg, _ := NewPublish(TopicPhoneCallController, ActionCallStateChanged, CallStateChangedPayload{State: CallStateActive, CallID: "c1"})
	if err := tr.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(ch.keys) != 1 || ch.keys[0] != "aasb/engine.PhoneCallController.CallStateChanged" {
		t.Errorf("keys = %v", ch.keys)
	}
	if ch.published[0].MessageId != msg.ID() {
		t.Errorf("message id = %q, want %q", ch.published[0].MessageId, msg.ID())
	}

	tr.Close()
	if !ch.closed {
		t.Error("channel not closed")
	}
	if err := tr.Publish(context.Background(), msg); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("publish after close = %v", err)
	}
}

func TestAMQPTransportRun(t *testing.T) {
	ch := newFakeChannel()
	tr, err := newAMQPTransport(nil, ch, "aasb", nil)
	if err != nil {
		t.Fatalf("newAMQPTransport: %v", err)
	}

	received := make(chan Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, func(m Message) { received <- m }) }()

	ch.deliveries <- amqp.Delivery{Body: []byte("garbage")}
	in, _ := NewPublish(TopicPhoneCallController, ActionAnswer, map[string]string{"payload": `{"callId":"c1"}`})
	body, _ := in.Encode()
	ch.deliveries <- amqp.Delivery{Body: body}

	select {
	case m := <-received:
		if m.Action() != ActionAnswer || m.ID() != in.ID() {
			t.Errorf("received %+v", m.Header)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}

	want := []string{"platform.PhoneCallController.*", "platform.AASB.*", "platform.Messaging.*"}
	if len(ch.bindings) != len(want) {
		t.Fatalf("bindings = %v", ch.bindings)
	}
	for i := range want {
		if ch.bindings[i] != want[i] {
			t.Errorf("binding %d = %q, want %q", i, ch.bindings[i], want[i])
		}
	}
}

func TestAMQPTransportRedialsAfterConnectionLoss(t *testing.T) {
	first := newFakeChannel()
	tr, _ := newAMQPTransport(nil, first, "aasb", []string{TopicAASB})
	second := newFakeChannel()
	dials := 0
	tr.dial = func() (io.Closer, amqpChannel, error) {
		dials++
		return nil, second, nil
	}

	close(first.deliveries)
	if err := tr.Run(context.Background(), func(Message) {}); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Run = %v, want ErrConnectionLost", err)
	}
	if !first.closed {
		t.Error("lost channel not closed")
	}
	msg, _ := NewPublish(TopicPhoneCallController, ActionCallStateChanged, CallStateChangedPayload{State: CallStateIdle})
	if err := tr.Publish(context.Background(), msg); !errors.Is(err, ErrConnectionLost) {
		t.Errorf("Publish while disconnected = %v", err)
	}

	received := make(chan Message, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, func(m Message) { received <- m }) }()

	in, _ := NewPublish(TopicAASB, ActionStartService, struct{}{})
	body, _ := in.Encode()
	second.deliveries <- amqp.Delivery{Body: body}
	select {
	case m := <-received:
		if m.ID() != in.ID() {
			t.Errorf("received %s", m.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("no message after reconnect")
	}
	cancel()
	<-done

	if dials != 1 {
		t.Errorf("dials = %d, want 1", dials)
	}
	if len(second.exchanges) != 1 {
		t.Errorf("exchange not declared on the new channel: %v", second.exchanges)
	}
	if err := tr.Publish(context.Background(), msg); err != nil {
		t.Errorf("Publish after reconnect = %v", err)
	}
}

func TestAMQPTransportRunAfterClose(t *testing.T) {
	ch := newFakeChannel()
	tr, _ := newAMQPTransport(nil, ch, "aasb", []string{TopicAASB})
	tr.Close()
	if err := tr.Run(context.Background(), func(Message) {}); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Run = %v, want ErrTransportClosed", err)
	}
}
