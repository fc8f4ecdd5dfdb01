package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/birddigital/aasb-telephony/pkg/aasb"
	"github.com/birddigital/aasb-telephony/pkg/telephony"
)

type fakeTransport struct {
	mu        sync.Mutex
	published []aasb.Message
	inbound   chan aasb.Message
	// drops makes the next Run calls fail as if the link dropped.
	drops int
	runs  int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan aasb.Message, 16)}
}

func (f *fakeTransport) Publish(ctx context.Context, msg aasb.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeTransport) Run(ctx context.Context, handle func(aasb.Message)) error {
	f.mu.Lock()
	f.runs++
	if f.drops > 0 {
		f.drops--
		f.mu.Unlock()
		return aasb.ErrConnectionLost
	}
	f.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-f.inbound:
			if !ok {
				return aasb.ErrTransportClosed
			}
			handle(msg)
		}
	}
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) byAction(action string) []aasb.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []aasb.Message
	for _, m := range f.published {
		if m.Action() == action {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.published = nil
	f.mu.Unlock()
}

type fakeLink struct {
	mu        sync.Mutex
	connected bool
}

func (l *fakeLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *fakeLink) set(connected bool) {
	l.mu.Lock()
	l.connected = connected
	l.mu.Unlock()
}

type placedCall struct {
	number  string
	account telephony.Account
}

type fakePlacer struct {
	mu     sync.Mutex
	placed []placedCall
}

func (p *fakePlacer) PlaceCall(ctx context.Context, number string, account telephony.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, placedCall{number: number, account: account})
	return nil
}

type fakeAccounts []telephony.Account

func (a fakeAccounts) Accounts(ctx context.Context) ([]telephony.Account, error) {
	return a, nil
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) SendSMS(ctx context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

type fakeCall struct {
	handle string
	state  telephony.PlatformState
	remote string
}

func (f *fakeCall) Handle() string                                     { return f.handle }
func (f *fakeCall) State() telephony.PlatformState                     { return f.state }
func (f *fakeCall) RemoteNumber() string                               { return f.remote }
func (f *fakeCall) Answer(ctx context.Context) error                   { return nil }
func (f *fakeCall) Reject(ctx context.Context) error                   { return nil }
func (f *fakeCall) Disconnect(ctx context.Context) error               { return nil }
func (f *fakeCall) PlayDTMFTone(ctx context.Context, digit rune) error { return nil }
func (f *fakeCall) RegisterCallback(cb telephony.CallCallback)         {}
func (f *fakeCall) UnregisterCallback(cb telephony.CallCallback)       {}

type harness struct {
	svc       *Service
	transport *fakeTransport
	link      *fakeLink
	placer    *fakePlacer
	sms       *fakeSMS
}

func newHarness(t *testing.T, connected bool) *harness {
	t.Helper()
	h := &harness{
		transport: newFakeTransport(),
		link:      &fakeLink{connected: connected},
		placer:    &fakePlacer{},
		sms:       &fakeSMS{},
	}
	h.svc = New(Options{
		Transport: h.transport,
		Placer:    h.placer,
		Accounts:  fakeAccounts{{ID: "acct-1", Number: "+15550009999", Default: true}},
		Link:      h.link,
		SMS:       h.sms,
	})
	return h
}

func directive(t *testing.T, action string, inner interface{}) aasb.Message {
	t.Helper()
	raw, err := json.Marshal(inner)
	if err != nil {
		t.Fatalf("marshal directive: %v", err)
	}
	msg, err := aasb.NewPublish(aasb.TopicPhoneCallController, action, map[string]string{"payload": string(raw)})
	if err != nil {
		t.Fatalf("build directive: %v", err)
	}
	return msg
}

func decode[T any](t *testing.T, msg aasb.Message) T {
	t.Helper()
	var v T
	if err := msg.UnmarshalPayload(&v); err != nil {
		t.Fatalf("decode %s: %v", msg.Action(), err)
	}
	return v
}
