package telephony

import (
	"context"
	"errors"

	"github.com/birddigital/aasb-telephony/pkg/aasb"
)

// PlatformState is the state of a call as seen by the telephony platform.
type PlatformState int

const (
	StateNew PlatformState = iota
	StateDialing
	StateRinging
	StateHolding
	StateActive
	StateDisconnected
	StateConnecting
	StateDisconnecting
)

func (s PlatformState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateDialing:
		return "DIALING"
	case StateRinging:
		return "RINGING"
	case StateHolding:
		return "HOLDING"
	case StateActive:
		return "ACTIVE"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// EngineState maps a platform state onto the state reported to the engine.
// States without an engine equivalent report false.
func EngineState(s PlatformState) (aasb.CallState, bool) {
	switch s {
	case StateDialing:
		return aasb.CallStateDialing, true
	case StateActive:
		return aasb.CallStateActive, true
	case StateRinging:
		return aasb.CallStateInboundRinging, true
	case StateDisconnected:
		return aasb.CallStateIdle, true
	default:
		return "", false
	}
}

// DisconnectCause explains why the platform ended a call that never connected.
type DisconnectCause int

const (
	CauseBusy DisconnectCause = iota + 1
	CauseNoAnswer
	CauseNoCarrier
)

func (c DisconnectCause) callError() aasb.CallError {
	switch c {
	case CauseBusy:
		return aasb.CallErrorBusy
	case CauseNoAnswer:
		return aasb.CallErrorNoAnswer
	case CauseNoCarrier:
		return aasb.CallErrorNoCarrier
	default:
		return aasb.CallErrorOther
	}
}

// Call is a platform call handle.
type Call interface {
	// Handle uniquely identifies the call on the platform.
	Handle() string
	State() PlatformState
	// RemoteNumber is the other party's address, if known.
	RemoteNumber() string

	Answer(ctx context.Context) error
	Reject(ctx context.Context) error
	Disconnect(ctx context.Context) error
	PlayDTMFTone(ctx context.Context, digit rune) error

	RegisterCallback(cb CallCallback)
	UnregisterCallback(cb CallCallback)
}

// CallCallback observes state transitions of one call.
type CallCallback interface {
	OnStateChanged(ctx context.Context, call Call, state PlatformState)
}

// Account is an outgoing phone account.
type Account struct {
	ID        string
	Label     string
	Number    string
	Default   bool
	Emergency bool
}

// Placer places outgoing calls on the platform. The platform reports the new
// call through Controller.OnCallAdded, possibly before PlaceCall returns.
type Placer interface {
	PlaceCall(ctx context.Context, number string, account Account) error
}

// Link reports whether the telephony platform is reachable.
type Link interface {
	Connected() bool
}

// CallLog provides the last dialed number for redial.
type CallLog interface {
	LastOutgoingNumber(ctx context.Context) (string, error)
}

// Publisher sends messages to the engine.
type Publisher interface {
	Publish(ctx context.Context, msg aasb.Message) error
}

// IdleSignaler is told when calls keep the host service busy.
type IdleSignaler interface {
	CancelIdleTimer()
	ResetIdleTimer()
}

var (
	ErrNotFound             = errors.New("call not found")
	ErrCorrelationSlotBusy  = errors.New("an outgoing call is already awaiting its handle")
	ErrAmbiguousCorrelation = errors.New("more than one call is awaiting an id")
	ErrDuplicateID          = errors.New("call id already in use")
	ErrDuplicateHandle      = errors.New("call handle already in use")
)
