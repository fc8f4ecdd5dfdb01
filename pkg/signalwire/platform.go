package signalwire

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/logging"
	"github.com/birddigital/aasb-telephony/pkg/telephony"
)

// Webhook paths, relative to the public base URL.
const (
	PathIncoming = "/webhooks/signalwire/voice"
	PathAnswered = "/webhooks/signalwire/answer"
	PathStatus   = "/webhooks/signalwire/status"
)

const defaultRingSeconds = 30

// CallEvents receives call lifecycle events from the platform.
type CallEvents interface {
	OnCallAdded(ctx context.Context, call telephony.Call)
	OnCallRemoved(ctx context.Context, call telephony.Call)
	OnCallFailed(ctx context.Context, call telephony.Call, cause telephony.DisconnectCause)
}

// CallRecorder keeps a history of calls.
type CallRecorder interface {
	RecordCall(ctx context.Context, sid, direction, number string, at time.Time) error
	MarkEnded(ctx context.Context, sid, outcome string, at time.Time) error
}

// PlatformConfig configures a Platform.
type PlatformConfig struct {
	FromNumber     string
	PublicBaseURL  string
	MediaStreamURL string
	// RingSeconds bounds how long an inbound call rings before it is dropped.
	RingSeconds int
}

// Platform is the telephony platform backed by SignalWire. It tracks live
// calls by SID and turns webhooks into call events.
type Platform struct {
	client     *Client
	fromNumber string
	baseURL    string
	streamURL  string
	ringSecs   int

	mu       sync.RWMutex
	calls    map[string]*Call
	events   CallEvents
	recorder CallRecorder

	now    func() time.Time
	logger *zap.Logger
}

// NewPlatform creates a platform. Events must be set before webhooks arrive.
func NewPlatform(client *Client, cfg PlatformConfig) *Platform {
	ring := cfg.RingSeconds
	if ring <= 0 {
		ring = defaultRingSeconds
	}
	return &Platform{
		client:     client,
		fromNumber: cfg.FromNumber,
		baseURL:    strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		streamURL:  cfg.MediaStreamURL,
		ringSecs:   ring,
		calls:      make(map[string]*Call),
		now:        time.Now,
		logger:     logging.Named("SignalWirePlatform"),
	}
}

// SetEvents sets the receiver of call events.
func (p *Platform) SetEvents(ev CallEvents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = ev
}

// SetRecorder sets the call history recorder.
func (p *Platform) SetRecorder(r CallRecorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorder = r
}

// PlaceCall dials number from the account's number and reports the new call.
func (p *Platform) PlaceCall(ctx context.Context, number string, account telephony.Account) error {
	if !isValidE164(number) {
		return fmt.Errorf("to number must be in E.164 format (+1234567890)")
	}
	from := account.Number
	if from == "" {
		from = p.fromNumber
	}

	res, err := p.client.CreateCall(ctx, CallRequest{
		From:           from,
		To:             number,
		URL:            p.baseURL + PathAnswered,
		StatusCallback: p.baseURL + PathStatus,
		Timeout:        p.ringSecs,
	})
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	p.logger.Info("outbound call created", zap.String("sid", res.SID), zap.String("to", number))
	call := newCall(p, res.SID, number, DirectionOutbound, telephony.StateConnecting)
	p.track(ctx, call)
	return nil
}

// HandleIncoming registers an inbound call and returns the LaML that holds it
// while it rings.
func (p *Platform) HandleIncoming(ctx context.Context, sid, from string) (string, error) {
	p.mu.RLock()
	_, known := p.calls[sid]
	p.mu.RUnlock()
	if !known {
		p.logger.Info("incoming call", zap.String("sid", sid), zap.String("from", from))
		p.track(ctx, newCall(p, sid, from, DirectionInbound, telephony.StateRinging))
	}
	return ringingTwiML(p.ringSecs)
}

// HandleAnswered marks an outbound call active and returns its LaML.
func (p *Platform) HandleAnswered(ctx context.Context, sid string) (string, error) {
	if call := p.lookup(sid); call != nil {
		call.setState(ctx, telephony.StateActive)
	} else {
		p.logger.Warn("answer for unknown call", zap.String("sid", sid))
	}
	return connectedTwiML(p.streamURL)
}

// HandleStatus applies a status callback.
func (p *Platform) HandleStatus(ctx context.Context, sid, status string) {
	call := p.lookup(sid)
	if call == nil {
		p.logger.Debug("status for unknown call", zap.String("sid", sid), zap.String("status", status))
		return
	}

	switch status {
	case "queued", "initiated":
	case "ringing":
		if call.direction == DirectionOutbound {
			call.setState(ctx, telephony.StateDialing)
		}
	case "in-progress", "answered":
		call.setState(ctx, telephony.StateActive)
	case "completed", "canceled":
		p.finish(ctx, call, status, 0)
	case "busy":
		p.finish(ctx, call, status, telephony.CauseBusy)
	case "no-answer":
		p.finish(ctx, call, status, telephony.CauseNoAnswer)
	case "failed", "error":
		p.finish(ctx, call, status, telephony.CauseNoCarrier)
	default:
		p.logger.Warn("unknown call status", zap.String("sid", sid), zap.String("status", status))
	}
}

func (p *Platform) track(ctx context.Context, call *Call) {
	p.mu.Lock()
	p.calls[call.sid] = call
	events, recorder := p.events, p.recorder
	p.mu.Unlock()

	if recorder != nil {
		if err := recorder.RecordCall(ctx, call.sid, call.direction, call.remote, p.now()); err != nil {
			p.logger.Error("failed to record call", zap.String("sid", call.sid), zap.Error(err))
		}
	}
	if events != nil {
		events.OnCallAdded(ctx, call)
	}
}

func (p *Platform) finish(ctx context.Context, call *Call, outcome string, cause telephony.DisconnectCause) {
	p.mu.Lock()
	delete(p.calls, call.sid)
	events, recorder := p.events, p.recorder
	p.mu.Unlock()

	p.logger.Info("call ended", zap.String("sid", call.sid), zap.String("outcome", outcome))
	if events != nil && cause != 0 {
		events.OnCallFailed(ctx, call, cause)
	}
	call.setState(ctx, telephony.StateDisconnected)
	if events != nil {
		events.OnCallRemoved(ctx, call)
	}
	if recorder != nil {
		if err := recorder.MarkEnded(ctx, call.sid, outcome, p.now()); err != nil {
			p.logger.Error("failed to mark call ended", zap.String("sid", call.sid), zap.Error(err))
		}
	}
}

func (p *Platform) lookup(sid string) *Call {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[sid]
}

// ActiveCalls returns the number of live calls.
func (p *Platform) ActiveCalls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.calls)
}

// Accounts lists the voice capable project numbers; the configured from number
// is the default.
func (p *Platform) Accounts(ctx context.Context) ([]telephony.Account, error) {
	numbers, err := p.client.ListPhoneNumbers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list phone numbers: %w", err)
	}
	accounts := make([]telephony.Account, 0, len(numbers))
	for _, n := range numbers {
		if !n.Capabilities.Voice {
			continue
		}
		accounts = append(accounts, telephony.Account{
			ID:      n.SID,
			Label:   n.FriendlyName,
			Number:  n.PhoneNumber,
			Default: n.PhoneNumber == p.fromNumber,
		})
	}
	return accounts, nil
}

// SendSMS sends body to the given number from the configured number.
func (p *Platform) SendSMS(ctx context.Context, to, body string) error {
	if !isValidE164(to) {
		return fmt.Errorf("recipient %q must be in E.164 format", to)
	}
	if _, err := p.client.SendSMS(ctx, p.fromNumber, to, body); err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}
	return nil
}

// isValidE164 checks if a phone number is in E.164 format
func isValidE164(phone string) bool {
	if len(phone) < 3 || len(phone) > 16 {
		return false
	}
	if phone[0] != '+' {
		return false
	}
	for _, c := range phone[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
