package aasb

// Messaging actions
const (
	ActionSendMessage                  = "SendMessage"
	ActionSendMessageSucceeded         = "SendMessageSucceeded"
	ActionSendMessageFailed            = "SendMessageFailed"
	ActionUpdateMessagingEndpointState = "UpdateMessagingEndpointState"
)

// MessagingError codes carried by SendMessageFailed.
type MessagingError string

const (
	MessagingErrorGeneric        MessagingError = "GENERIC_FAILURE"
	MessagingErrorNoConnectivity MessagingError = "NO_CONNECTIVITY"
	MessagingErrorNoPermission   MessagingError = "NO_PERMISSION"
)

// Permission values of the messaging endpoint.
const (
	PermissionOn  = "ON"
	PermissionOff = "OFF"
)

// SendMessagePayload asks the platform to send an SMS. Recipients is a JSON
// encoded array of {"address": "..."} objects.
type SendMessagePayload struct {
	Token      string `json:"token"`
	Message    string `json:"message"`
	Recipients string `json:"recipients"`
}

// Recipient is one decoded SendMessage recipient.
type Recipient struct {
	Address string `json:"address"`
}

// SendMessageSucceededPayload acknowledges a SendMessage.
type SendMessageSucceededPayload struct {
	Token string `json:"token"`
}

// SendMessageFailedPayload reports a failed SendMessage.
type SendMessageFailedPayload struct {
	Token   string         `json:"token"`
	Code    MessagingError `json:"code"`
	Message string         `json:"message"`
}

// MessagingEndpointStatePayload reports messaging availability.
type MessagingEndpointStatePayload struct {
	ConnectionState ConnectionState `json:"connectionState"`
	SendPermission  string          `json:"sendPermission"`
	ReadPermission  string          `json:"readPermission"`
}
