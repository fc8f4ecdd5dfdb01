package telephony

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/birddigital/aasb-telephony/pkg/aasb"
	"github.com/birddigital/aasb-telephony/pkg/logging"
)

// Failure messages reported to the engine.
const (
	msgLinkDown          = "Phone not connected"
	msgNoAccount         = "No phone account available"
	msgNoNumber          = "No number to dial"
	msgDialPending       = "Another outgoing call is awaiting connection"
	msgDuplicateCallID   = "Call id already in use"
	msgPlaceFailed       = "Failed to place call"
	msgNoRedialNumber    = "No outgoing call in call log"
	msgNoMatchingCall    = "No matching call Id in current calls"
	msgAnswerFailed      = "Failed to answer call"
	msgStopFailed        = "Failed to stop call"
	msgNoActiveCall      = "No active call"
	msgInvalidSignal     = "Invalid DTMF signal"
	msgDTMFFailed        = "Failed to play DTMF tone"
	msgPhoneDisconnected = "Phone disconnected"
	msgCallNotConnected  = "Call could not be connected"
)

type noopIdle struct{}

func (noopIdle) CancelIdleTimer() {}
func (noopIdle) ResetIdleTimer()  {}

// Option configures a Controller.
type Option func(*Controller)

// WithCallLog sets the source of redial numbers.
func WithCallLog(l CallLog) Option {
	return func(c *Controller) { c.callLog = l }
}

// WithIdleSignaler sets the receiver of busy/idle signals.
func WithIdleSignaler(s IdleSignaler) Option {
	return func(c *Controller) { c.idle = s }
}

// WithLogger overrides the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithIDGenerator sets the placeholder id source. Defaults to uuid.
func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) { c.newID = gen }
}

// Controller reconciles platform calls with engine call ids and carries out
// the engine's call control directives.
type Controller struct {
	// mu serialises platform call events and id replies. It is never held
	// across calls into the platform.
	mu        sync.Mutex
	store     *CallStore
	listeners map[string]*callListener

	placer    Placer
	link      Link
	publisher Publisher
	callLog   CallLog
	idle      IdleSignaler
	newID     func() string
	logger    *zap.Logger
}

// NewController creates a controller with an empty call store.
func NewController(placer Placer, link Link, publisher Publisher, opts ...Option) *Controller {
	c := &Controller{
		store:     NewCallStore(),
		listeners: make(map[string]*callListener),
		placer:    placer,
		link:      link,
		publisher: publisher,
		idle:      noopIdle{},
		newID:     func() string { return uuid.New().String() },
		logger:    logging.Named("CallController"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial places an engine-initiated outgoing call. The record stays in the
// pending-outgoing slot until the platform reports the call.
func (c *Controller) Dial(ctx context.Context, id, number string, account *Account) {
	log := c.logger.With(zap.String("call_id", id))
	log.Info("dial", zap.String("number", number))

	if !c.link.Connected() {
		c.callFailed(ctx, id, aasb.CallErrorOther, msgLinkDown)
		return
	}
	if account == nil {
		c.callFailed(ctx, id, aasb.CallErrorNoCarrier, msgNoAccount)
		return
	}
	if strings.TrimSpace(number) == "" {
		c.callFailed(ctx, id, aasb.CallErrorOther, msgNoNumber)
		return
	}

	err := c.store.ReservePendingOutgoing(CallRecord{CallID: id, CallerID: number})
	switch {
	case errors.Is(err, ErrCorrelationSlotBusy):
		log.Warn("rejecting concurrent dial", zap.Error(err))
		c.callFailed(ctx, id, aasb.CallErrorOther, msgDialPending)
		return
	case err != nil:
		log.Warn("cannot register call", zap.Error(err))
		c.callFailed(ctx, id, aasb.CallErrorOther, msgDuplicateCallID)
		return
	}

	if err := c.placer.PlaceCall(ctx, number, *account); err != nil {
		log.Error("failed to place call", zap.Error(err))
		c.store.RemoveByID(id)
		c.callFailed(ctx, id, aasb.CallErrorOther, msgPlaceFailed)
	}
}

// Redial dials the last outgoing number from the call log.
func (c *Controller) Redial(ctx context.Context, id string, account *Account) {
	if c.callLog == nil {
		c.callFailed(ctx, id, aasb.CallErrorNoNumberForRedial, msgNoRedialNumber)
		return
	}
	number, err := c.callLog.LastOutgoingNumber(ctx)
	if err != nil {
		c.logger.Error("failed to read call log", zap.String("call_id", id), zap.Error(err))
	}
	if err != nil || number == "" {
		c.callFailed(ctx, id, aasb.CallErrorNoNumberForRedial, msgNoRedialNumber)
		return
	}
	c.Dial(ctx, id, number, account)
}

// Answer answers the call known by id.
func (c *Controller) Answer(ctx context.Context, id string) {
	if !c.link.Connected() {
		c.callFailed(ctx, id, aasb.CallErrorOther, msgLinkDown)
		return
	}
	call, ok := c.callFor(id)
	if !ok {
		c.callFailed(ctx, id, aasb.CallErrorOther, msgNoMatchingCall)
		return
	}
	if err := call.Answer(ctx); err != nil {
		c.logger.Error("failed to answer", zap.String("call_id", id), zap.Error(err))
		c.callFailed(ctx, id, aasb.CallErrorOther, msgAnswerFailed)
	}
}

// Stop rejects the call known by id while it rings and disconnects it otherwise.
func (c *Controller) Stop(ctx context.Context, id string) {
	if !c.link.Connected() {
		c.callFailed(ctx, id, aasb.CallErrorOther, msgLinkDown)
		return
	}
	call, ok := c.callFor(id)
	if !ok {
		c.callFailed(ctx, id, aasb.CallErrorOther, msgNoMatchingCall)
		return
	}

	var err error
	if call.State() == StateRinging {
		err = call.Reject(ctx)
	} else {
		err = call.Disconnect(ctx)
	}
	if err != nil {
		c.logger.Error("failed to stop", zap.String("call_id", id), zap.Error(err))
		c.callFailed(ctx, id, aasb.CallErrorOther, msgStopFailed)
	}
}

// SendDTMF plays signal on the call known by id, one tone per digit.
func (c *Controller) SendDTMF(ctx context.Context, id, signal string) {
	if !c.link.Connected() {
		c.dtmfFailed(ctx, id, aasb.DTMFErrorFailed, msgLinkDown)
		return
	}
	call, ok := c.callFor(id)
	if !ok {
		c.dtmfFailed(ctx, id, aasb.DTMFErrorCallNotInProgress, msgNoActiveCall)
		return
	}
	if !validDTMF(signal) {
		c.dtmfFailed(ctx, id, aasb.DTMFErrorFailed, msgInvalidSignal)
		return
	}

	for _, digit := range signal {
		if err := call.PlayDTMFTone(ctx, digit); err != nil {
			c.logger.Error("failed to play tone", zap.String("call_id", id), zap.Error(err))
			c.dtmfFailed(ctx, id, aasb.DTMFErrorFailed, msgDTMFFailed)
			return
		}
	}
	c.publish(ctx, aasb.ActionSendDTMFSucceeded, aasb.SendDTMFSucceededPayload{CallID: id})
}

func validDTMF(signal string) bool {
	if signal == "" {
		return false
	}
	for _, r := range signal {
		if !(r >= '0' && r <= '9') && r != '*' && r != '#' {
			return false
		}
	}
	return true
}

func (c *Controller) callFor(id string) (Call, bool) {
	rec, ok := c.store.ByID(id)
	if !ok || rec.Call == nil || rec.AwaitingID {
		return nil, false
	}
	return rec.Call, true
}

// OnCallAdded is called by the platform when a call appears.
func (c *Controller) OnCallAdded(ctx context.Context, call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.With(zap.String("handle", call.Handle()))
	if _, ok := c.store.ByHandle(call.Handle()); ok {
		log.Warn("call already tracked")
		return
	}

	state := call.State()
	switch state {
	case StateRinging:
		log.Info("new incoming call")
		c.requestCallIDLocked(ctx, call, true)
	case StateActive, StateHolding:
		log.Info("new active call")
		c.requestCallIDLocked(ctx, call, false)
	case StateConnecting, StateDialing:
		rec, err := c.store.TakePendingOutgoing(call)
		if err != nil {
			log.Info("new outgoing call initiated on the platform")
			c.requestCallIDLocked(ctx, call, false)
			return
		}
		log.Info("outgoing call connected", zap.String("call_id", rec.CallID))
		c.installListenerLocked(rec)
		c.publishState(ctx, rec, state)
	default:
		log.Debug("ignoring call added", zap.Stringer("state", state))
	}
}

// requestCallIDLocked tracks call under a placeholder and asks the engine for
// an id. The request's message id is the placeholder so the reply correlates.
func (c *Controller) requestCallIDLocked(ctx context.Context, call Call, incoming bool) {
	placeholder := c.newID()
	rec := CallRecord{
		Call:       call,
		CallID:     placeholder,
		CallerID:   call.RemoteNumber(),
		AwaitingID: true,
		Incoming:   incoming,
	}
	if err := c.store.Add(rec); err != nil {
		c.logger.Error("failed to track call", zap.String("handle", call.Handle()), zap.Error(err))
		return
	}
	c.sendCreateCallID(ctx, placeholder)
}

func (c *Controller) sendCreateCallID(ctx context.Context, placeholder string) {
	msg, err := aasb.NewPublishWithID(placeholder, aasb.TopicPhoneCallController, aasb.ActionCreateCallID, aasb.CreateCallIDRequest{})
	if err != nil {
		c.logger.Error("failed to build CreateCallId", zap.Error(err))
		return
	}
	if err := c.publisher.Publish(ctx, msg); err != nil {
		c.logger.Error("failed to request call id", zap.Error(err))
	}
}

// CallIDReceived assigns the engine's call id to the call awaiting it.
// replyToID is the CreateCallId request id; when empty the single awaiting
// call is used.
func (c *Controller) CallIDReceived(ctx context.Context, replyToID, callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.logger.With(zap.String("call_id", callID))
	if callID == "" {
		log.Warn("ignoring empty call id")
		return
	}

	var rec CallRecord
	if replyToID == "" {
		var err error
		rec, err = c.store.SoleAwaitingID()
		if err != nil {
			log.Error("no call is expecting this call id", zap.Error(err))
			return
		}
	} else {
		var ok bool
		rec, ok = c.store.ByID(replyToID)
		if !ok || !rec.AwaitingID {
			// Placeholders are renewed on every re-report; a reply to a
			// retired one belongs to no current request.
			log.Warn("dropping reply to unknown placeholder", zap.String("reply_to", replyToID))
			return
		}
	}

	rec, err := c.store.Rekey(rec.CallID, callID, false)
	if err != nil {
		log.Error("failed to assign call id", zap.Error(err))
		return
	}
	c.installListenerLocked(rec)

	if rec.Incoming && rec.CallerID != "" {
		c.publish(ctx, aasb.ActionCallerIDReceived, aasb.CallerIDReceivedPayload{CallID: callID, CallerID: rec.CallerID})
	}
	state := rec.Call.State()
	c.publishState(ctx, rec, state)
	if state == StateActive {
		c.idle.CancelIdleTimer()
	}
}

// OnCallFailed is called by the platform when a call ends without connecting.
// Calls the engine has no id for are only logged.
func (c *Controller) OnCallFailed(ctx context.Context, call Call, cause DisconnectCause) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.store.ByHandle(call.Handle())
	if !ok || rec.AwaitingID {
		c.logger.Info("untracked call failed", zap.String("handle", call.Handle()))
		return
	}
	c.callFailed(ctx, rec.CallID, cause.callError(), msgCallNotConnected)
}

// OnCallRemoved is called by the platform when a call is gone.
func (c *Controller) OnCallRemoved(ctx context.Context, call Call) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handle := call.Handle()
	if l, ok := c.listeners[handle]; ok {
		call.UnregisterCallback(l)
		delete(c.listeners, handle)
	} else {
		c.logger.Warn("callback not found for call", zap.String("handle", handle))
	}

	if _, ok := c.store.RemoveByHandle(handle); !ok {
		c.logger.Warn("removed call was not tracked", zap.String("handle", handle))
	}
	c.reportLocked(ctx)
}

// ReportCurrentCalls re-reports every tracked call and reports whether any
// exist. Calls still awaiting an id get a fresh CreateCallId request.
func (c *Controller) ReportCurrentCalls(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportLocked(ctx)
}

func (c *Controller) reportLocked(ctx context.Context) bool {
	records := c.store.Snapshot()
	for _, rec := range records {
		switch {
		case rec.AwaitingID:
			placeholder := c.newID()
			if _, err := c.store.Rekey(rec.CallID, placeholder, true); err != nil {
				c.logger.Error("failed to renew placeholder", zap.Error(err))
				continue
			}
			c.sendCreateCallID(ctx, placeholder)
		case rec.Call != nil:
			c.publishState(ctx, rec, rec.Call.State())
		}
	}
	return len(records) > 0
}

// OnConnectionLost fails every call the engine knows about.
func (c *Controller) OnConnectionLost(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.store.Snapshot() {
		if rec.AwaitingID {
			continue
		}
		c.callFailed(ctx, rec.CallID, aasb.CallErrorOther, msgPhoneDisconnected)
	}
}

// HasCalls reports whether any call is tracked.
func (c *Controller) HasCalls() bool {
	return c.store.Len() > 0
}

// Calls returns a copy of the tracked calls.
func (c *Controller) Calls() []CallRecord {
	return c.store.Snapshot()
}

// Cleanup detaches every listener and forgets all calls.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range c.store.Snapshot() {
		if l, ok := c.listeners[rec.HandleKey()]; ok && rec.Call != nil {
			rec.Call.UnregisterCallback(l)
		}
	}
	c.listeners = make(map[string]*callListener)
	c.store.Clear()
}

func (c *Controller) installListenerLocked(rec CallRecord) {
	l := newCallListener(c, rec.CallID, rec.CallerID)
	rec.Call.RegisterCallback(l)
	c.listeners[rec.HandleKey()] = l
}

func (c *Controller) publishState(ctx context.Context, rec CallRecord, state PlatformState) {
	c.publishCallState(ctx, rec.CallID, rec.CallerID, state)
}

func (c *Controller) publishCallState(ctx context.Context, callID, callerID string, state PlatformState) {
	engineState, ok := EngineState(state)
	if !ok {
		c.logger.Debug("state not reported", zap.String("call_id", callID), zap.Stringer("state", state))
		return
	}
	c.publish(ctx, aasb.ActionCallStateChanged, aasb.CallStateChangedPayload{
		State:    engineState,
		CallID:   callID,
		CallerID: callerID,
	})
}

func (c *Controller) callFailed(ctx context.Context, id string, code aasb.CallError, message string) {
	c.logger.Warn("call failed", zap.String("call_id", id), zap.String("code", string(code)), zap.String("message", message))
	c.publish(ctx, aasb.ActionCallFailed, aasb.CallFailedPayload{CallID: id, Code: code, Message: message})
}

func (c *Controller) dtmfFailed(ctx context.Context, id string, code aasb.DTMFError, message string) {
	c.logger.Warn("dtmf failed", zap.String("call_id", id), zap.String("code", string(code)), zap.String("message", message))
	c.publish(ctx, aasb.ActionSendDTMFFailed, aasb.SendDTMFFailedPayload{CallID: id, Code: code, Message: message})
}

func (c *Controller) publish(ctx context.Context, action string, payload interface{}) {
	msg, err := aasb.NewPublish(aasb.TopicPhoneCallController, action, payload)
	if err != nil {
		c.logger.Error("failed to build message", zap.String("action", action), zap.Error(err))
		return
	}
	if err := c.publisher.Publish(ctx, msg); err != nil {
		c.logger.Error("failed to publish", zap.String("action", action), zap.Error(err))
	}
}
