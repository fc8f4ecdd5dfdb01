package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/birddigital/aasb-telephony/pkg/aasb"
)

type fakeCall struct {
	mu        sync.Mutex
	handle    string
	state     PlatformState
	remote    string
	callbacks []CallCallback
	tones     []rune
	toneErr   error
	answered  bool
	rejected  bool
	hungUp    bool
}

func newFakeCall(handle string, state PlatformState, remote string) *fakeCall {
	return &fakeCall{handle: handle, state: state, remote: remote}
}

func (f *fakeCall) Handle() string { return f.handle }

func (f *fakeCall) State() PlatformState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeCall) RemoteNumber() string { return f.remote }

func (f *fakeCall) Answer(ctx context.Context) error {
	f.mu.Lock()
	f.answered = true
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) Reject(ctx context.Context) error {
	f.mu.Lock()
	f.rejected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	f.hungUp = true
	f.mu.Unlock()
	return nil
}

func (f *fakeCall) PlayDTMFTone(ctx context.Context, digit rune) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toneErr != nil {
		return f.toneErr
	}
	f.tones = append(f.tones, digit)
	return nil
}

func (f *fakeCall) RegisterCallback(cb CallCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
}

func (f *fakeCall) UnregisterCallback(cb CallCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.callbacks {
		if existing == cb {
			f.callbacks = append(f.callbacks[:i], f.callbacks[i+1:]...)
			return
		}
	}
}

// setState changes the state and notifies registered callbacks.
func (f *fakeCall) setState(state PlatformState) {
	f.mu.Lock()
	f.state = state
	cbs := append([]CallCallback(nil), f.callbacks...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb.OnStateChanged(context.Background(), f, state)
	}
}

func (f *fakeCall) callbackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

type fakeLink struct{ up bool }

func (l *fakeLink) Connected() bool { return l.up }

type fakePlacer struct {
	numbers []string
	err     error
	// onPlace runs inside PlaceCall, simulating a platform that reports the
	// new call synchronously.
	onPlace func(number string)
}

func (p *fakePlacer) PlaceCall(ctx context.Context, number string, account Account) error {
	p.numbers = append(p.numbers, number)
	if p.err != nil {
		return p.err
	}
	if p.onPlace != nil {
		p.onPlace(number)
	}
	return nil
}

type fakeCallLog struct {
	number string
	err    error
}

func (l fakeCallLog) LastOutgoingNumber(ctx context.Context) (string, error) {
	return l.number, l.err
}

type fakeIdle struct {
	mu      sync.Mutex
	cancels int
	resets  int
}

func (f *fakeIdle) CancelIdleTimer() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeIdle) ResetIdleTimer() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []aasb.Message
}

func (p *fakePublisher) Publish(ctx context.Context, msg aasb.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) byAction(action string) []aasb.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []aasb.Message
	for _, m := range p.msgs {
		if m.Action() == action {
			out = append(out, m)
		}
	}
	return out
}

func (p *fakePublisher) reset() {
	p.mu.Lock()
	p.msgs = nil
	p.mu.Unlock()
}

func decode[T any](t *testing.T, msg aasb.Message) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", msg.Action(), err)
	}
	return v
}

// lastOf decodes the payload of the last published message with action.
func lastOf[T any](t *testing.T, p *fakePublisher, action string) T {
	t.Helper()
	msgs := p.byAction(action)
	if len(msgs) == 0 {
		t.Fatalf("no %s published", action)
	}
	return decode[T](t, msgs[len(msgs)-1])
}

type harness struct {
	ctrl   *Controller
	placer *fakePlacer
	link   *fakeLink
	pub    *fakePublisher
	idle   *fakeIdle
	ids    int
}

func newHarness(opts ...Option) *harness {
	h := &harness{
		placer: &fakePlacer{},
		link:   &fakeLink{up: true},
		pub:    &fakePublisher{},
		idle:   &fakeIdle{},
	}
	base := []Option{
		WithIdleSignaler(h.idle),
		WithIDGenerator(func() string {
			h.ids++
			return fmt.Sprintf("placeholder-%d", h.ids)
		}),
	}
	h.ctrl = NewController(h.placer, h.link, h.pub, append(base, opts...)...)
	return h
}

var (
	testAccount = &Account{ID: "acct-1", Number: "+15550000000", Default: true}
	errBoom     = errors.New("boom")
)
