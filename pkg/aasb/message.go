package aasb

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Version is the AASB envelope version spoken with the engine.
const Version = "4.0"

// MessageType distinguishes fire-and-forget publishes from replies.
type MessageType string

const (
	MessageTypePublish MessageType = "Publish"
	MessageTypeReply   MessageType = "Reply"
)

// ErrInvalidMessage is returned when an envelope lacks its routing fields.
var ErrInvalidMessage = errors.New("invalid aasb message")

// MessageDescription routes a message to a topic/action handler.
type MessageDescription struct {
	Topic     string `json:"topic"`
	Action    string `json:"action"`
	ReplyToID string `json:"replyToId,omitempty"`
}

// Header is the AASB message header.
type Header struct {
	Version            string             `json:"version"`
	MessageType        MessageType        `json:"messageType"`
	ID                 string             `json:"id"`
	MessageDescription MessageDescription `json:"messageDescription"`
}

// Message is a single AASB envelope.
type Message struct {
	Header  Header          `json:"header"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewPublish builds a Publish message with a fresh id.
func NewPublish(topic, action string, payload interface{}) (Message, error) {
	return NewPublishWithID(uuid.New().String(), topic, action, payload)
}

// NewPublishWithID builds a Publish message carrying the given message id, so that
// the engine's reply can be correlated through replyToId.
func NewPublishWithID(id, topic, action string, payload interface{}) (Message, error) {
	return build(id, MessageTypePublish, topic, action, "", payload)
}

// NewReply builds a Reply to the message identified by replyToID.
func NewReply(replyToID, topic, action string, payload interface{}) (Message, error) {
	return build(uuid.New().String(), MessageTypeReply, topic, action, replyToID, payload)
}

func build(id string, kind MessageType, topic, action, replyToID string, payload interface{}) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s.%s payload: %w", topic, action, err)
	}
	return Message{
		Header: Header{
			Version:     Version,
			MessageType: kind,
			ID:          id,
			MessageDescription: MessageDescription{
				Topic:     topic,
				Action:    action,
				ReplyToID: replyToID,
			},
		},
		Payload: raw,
	}, nil
}

// Decode parses and validates an envelope.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to parse aasb message: %w", err)
	}
	if msg.Topic() == "" || msg.Action() == "" {
		return Message{}, fmt.Errorf("%w: missing topic or action", ErrInvalidMessage)
	}
	return msg, nil
}

// Encode serialises the envelope.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func (m Message) ID() string        { return m.Header.ID }
func (m Message) Topic() string     { return m.Header.MessageDescription.Topic }
func (m Message) Action() string    { return m.Header.MessageDescription.Action }
func (m Message) ReplyToID() string { return m.Header.MessageDescription.ReplyToID }

// IsReply reports whether the message answers an earlier publish.
func (m Message) IsReply() bool {
	return m.Header.MessageType == MessageTypeReply
}

// UnmarshalPayload decodes the payload object into v.
func (m Message) UnmarshalPayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%w: %s.%s has no payload", ErrInvalidMessage, m.Topic(), m.Action())
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to parse %s.%s payload: %w", m.Topic(), m.Action(), err)
	}
	return nil
}

// UnmarshalEmbeddedPayload decodes directives whose payload wraps the cloud
// directive as {"payload": "<json string>"}. An embedded object is accepted too.
func (m Message) UnmarshalEmbeddedPayload(v interface{}) error {
	var outer struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := m.UnmarshalPayload(&outer); err != nil {
		return err
	}
	if len(outer.Payload) == 0 {
		return fmt.Errorf("%w: %s.%s has no embedded payload", ErrInvalidMessage, m.Topic(), m.Action())
	}

	inner := []byte(outer.Payload)
	var asString string
	if err := json.Unmarshal(outer.Payload, &asString); err == nil {
		inner = []byte(asString)
	}
	if err := json.Unmarshal(inner, v); err != nil {
		return fmt.Errorf("failed to parse %s.%s embedded payload: %w", m.Topic(), m.Action(), err)
	}
	return nil
}
