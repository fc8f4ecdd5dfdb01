package signalwire

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/birddigital/aasb-telephony/pkg/telephony"
)

// ErrInvalidState is returned for an operation the call's state does not allow.
var ErrInvalidState = errors.New("operation not allowed in current call state")

// Direction of a call relative to the project.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Call is a live SignalWire call. It implements telephony.Call.
type Call struct {
	platform  *Platform
	sid       string
	remote    string
	direction string

	mu        sync.Mutex
	state     telephony.PlatformState
	callbacks []telephony.CallCallback
}

func newCall(p *Platform, sid, remote, direction string, state telephony.PlatformState) *Call {
	return &Call{
		platform:  p,
		sid:       sid,
		remote:    remote,
		direction: direction,
		state:     state,
	}
}

func (c *Call) Handle() string       { return c.sid }
func (c *Call) RemoteNumber() string { return c.remote }
func (c *Call) Direction() string    { return c.direction }

func (c *Call) State() telephony.PlatformState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Answer connects a ringing inbound call.
func (c *Call) Answer(ctx context.Context) error {
	if c.State() != telephony.StateRinging {
		return fmt.Errorf("answer %s: %w", c.sid, ErrInvalidState)
	}
	twiml, err := connectedTwiML(c.platform.streamURL)
	if err != nil {
		return err
	}
	if err := c.platform.client.UpdateCallTwiML(ctx, c.sid, twiml); err != nil {
		return fmt.Errorf("answer %s: %w", c.sid, err)
	}
	c.setState(ctx, telephony.StateActive)
	return nil
}

// Reject ends a ringing inbound call.
func (c *Call) Reject(ctx context.Context) error {
	if c.State() != telephony.StateRinging {
		return fmt.Errorf("reject %s: %w", c.sid, ErrInvalidState)
	}
	return c.end(ctx, StatusCompleted)
}

// Disconnect hangs up the call, canceling it if the callee has not answered.
func (c *Call) Disconnect(ctx context.Context) error {
	switch c.State() {
	case telephony.StateDisconnected:
		return fmt.Errorf("disconnect %s: %w", c.sid, ErrInvalidState)
	case telephony.StateConnecting, telephony.StateDialing:
		return c.end(ctx, StatusCanceled)
	default:
		return c.end(ctx, StatusCompleted)
	}
}

func (c *Call) end(ctx context.Context, status string) error {
	if err := c.platform.client.SetCallStatus(ctx, c.sid, status); err != nil {
		return fmt.Errorf("end %s: %w", c.sid, err)
	}
	c.setState(ctx, telephony.StateDisconnecting)
	return nil
}

// PlayDTMFTone plays one digit into an active call.
func (c *Call) PlayDTMFTone(ctx context.Context, digit rune) error {
	if c.State() != telephony.StateActive {
		return fmt.Errorf("dtmf %s: %w", c.sid, ErrInvalidState)
	}
	twiml, err := dtmfTwiML(string(digit), c.platform.streamURL)
	if err != nil {
		return err
	}
	return c.platform.client.UpdateCallTwiML(ctx, c.sid, twiml)
}

func (c *Call) RegisterCallback(cb telephony.CallCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

func (c *Call) UnregisterCallback(cb telephony.CallCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.callbacks {
		if existing == cb {
			c.callbacks = append(c.callbacks[:i], c.callbacks[i+1:]...)
			return
		}
	}
}

// setState records the new state and notifies callbacks outside the lock.
func (c *Call) setState(ctx context.Context, state telephony.PlatformState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	cbs := append([]telephony.CallCallback(nil), c.callbacks...)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb.OnStateChanged(ctx, c, state)
	}
}
