package aasb

// Topics
const (
	TopicPhoneCallController = "PhoneCallController"
	TopicMessaging           = "Messaging"
	TopicAASB                = "AASB"
)

// PhoneCallController actions
const (
	ActionDial                       = "Dial"
	ActionRedial                     = "Redial"
	ActionAnswer                     = "Answer"
	ActionStop                       = "Stop"
	ActionSendDTMF                   = "SendDTMF"
	ActionCreateCallID               = "CreateCallId"
	ActionCallStateChanged           = "CallStateChanged"
	ActionCallFailed                 = "CallFailed"
	ActionCallerIDReceived           = "CallerIdReceived"
	ActionSendDTMFSucceeded          = "SendDTMFSucceeded"
	ActionSendDTMFFailed             = "SendDTMFFailed"
	ActionConnectionStateChanged     = "ConnectionStateChanged"
	ActionDeviceConfigurationUpdated = "DeviceConfigurationUpdated"
)

// AASB service actions
const (
	ActionStartService = "StartService"
	ActionStopService  = "StopService"
)

// CallState is the call state reported to the engine.
type CallState string

const (
	CallStateIdle            CallState = "IDLE"
	CallStateDialing         CallState = "DIALING"
	CallStateOutboundRinging CallState = "OUTBOUND_RINGING"
	CallStateActive          CallState = "ACTIVE"
	CallStateCallReceived    CallState = "CALL_RECEIVED"
	CallStateInboundRinging  CallState = "INBOUND_RINGING"
)

// CallError codes carried by CallFailed.
type CallError string

const (
	CallErrorNoCarrier         CallError = "NO_CARRIER"
	CallErrorBusy              CallError = "BUSY"
	CallErrorNoAnswer          CallError = "NO_ANSWER"
	CallErrorNoNumberForRedial CallError = "NO_NUMBER_FOR_REDIAL"
	CallErrorOther             CallError = "OTHER"
)

// DTMFError codes carried by SendDTMFFailed.
type DTMFError string

const (
	DTMFErrorCallNotInProgress DTMFError = "CALL_NOT_IN_PROGRESS"
	DTMFErrorFailed            DTMFError = "DTMF_FAILED"
)

// ConnectionState of the calling device.
type ConnectionState string

const (
	ConnectionStateConnected    ConnectionState = "CONNECTED"
	ConnectionStateDisconnected ConnectionState = "DISCONNECTED"
)

// ConfigurationDTMFSupported is the only calling device property the engine knows.
const ConfigurationDTMFSupported = "DTMF_SUPPORTED"

// ContactAddress is one address of a callee.
type ContactAddress struct {
	Protocol string `json:"protocol,omitempty"`
	Format   string `json:"format,omitempty"`
	Value    string `json:"value"`
}

// Callee describes who a Dial directive targets.
type Callee struct {
	Details                     string           `json:"details,omitempty"`
	DefaultContactAddress       *ContactAddress  `json:"defaultContactAddress,omitempty"`
	AlternativeContactAddresses []ContactAddress `json:"alternativeContactAddresses,omitempty"`
}

// DialDirective is the embedded payload of Dial and Redial.
type DialDirective struct {
	CallID string  `json:"callId"`
	Callee *Callee `json:"callee,omitempty"`
}

// Number returns the default contact address value, or "".
func (d DialDirective) Number() string {
	if d.Callee == nil || d.Callee.DefaultContactAddress == nil {
		return ""
	}
	return d.Callee.DefaultContactAddress.Value
}

// CallDirective is the embedded payload of Answer and Stop.
type CallDirective struct {
	CallID string `json:"callId"`
}

// SendDTMFDirective is the embedded payload of SendDTMF.
type SendDTMFDirective struct {
	CallID string `json:"callId"`
	Signal string `json:"signal"`
}

// CreateCallIDRequest is the (empty) payload asking the engine for a call id.
type CreateCallIDRequest struct{}

// CreateCallIDReply carries the engine generated call id.
type CreateCallIDReply struct {
	CallID string `json:"callId"`
}

// CallStateChangedPayload reports a call state transition.
type CallStateChangedPayload struct {
	State    CallState `json:"state"`
	CallID   string    `json:"callId"`
	CallerID string    `json:"callerId"`
}

// CallFailedPayload reports a failed call operation.
type CallFailedPayload struct {
	CallID  string    `json:"callId"`
	Code    CallError `json:"code"`
	Message string    `json:"message"`
}

// CallerIDReceivedPayload reports the remote party of an inbound call.
type CallerIDReceivedPayload struct {
	CallID   string `json:"callId"`
	CallerID string `json:"callerId"`
}

// SendDTMFSucceededPayload acknowledges a SendDTMF directive.
type SendDTMFSucceededPayload struct {
	CallID string `json:"callId"`
}

// SendDTMFFailedPayload reports a failed SendDTMF directive.
type SendDTMFFailedPayload struct {
	CallID  string    `json:"callId"`
	Code    DTMFError `json:"code"`
	Message string    `json:"message"`
}

// ConnectionStateChangedPayload reports the calling device link state.
type ConnectionStateChangedPayload struct {
	State ConnectionState `json:"state"`
}

// DeviceConfigurationUpdatedPayload carries a JSON encoded property map, e.g.
// "{\"DTMF_SUPPORTED\":true}".
type DeviceConfigurationUpdatedPayload struct {
	ConfigurationMap string `json:"configurationMap"`
}
