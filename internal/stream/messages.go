// Package stream provides live metric streaming over WebSocket. Clients
// subscribe to aggregate groups and receive an event for every report
// the collector accepts.
package stream

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType defines the type of WebSocket message.
type MessageType string

const (
	// Client -> Server message types
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypePing        MessageType = "ping"

	// Server -> Client message types
	MessageTypePong         MessageType = "pong"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeError        MessageType = "error"
	MessageTypeReport       MessageType = "report"
)

// GroupAll subscribes a client to events from every group.
const GroupAll = "*"

// Message represents a WebSocket message.
type Message struct {
	// Type is the message type.
	Type MessageType `json:"type"`
	// Group is the target group (used for subscribe/unsubscribe and
	// group-scoped events).
	Group string `json:"group,omitempty"`
	// Payload contains the message data.
	Payload json.RawMessage `json:"payload,omitempty"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
	// ID is a unique message identifier.
	ID string `json:"id,omitempty"`
}

// NewMessage creates a new message with the given type and payload.
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		var err error
		payloadBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	return &Message{
		Type:      msgType,
		Payload:   payloadBytes,
		Timestamp: time.Now().UTC(),
		ID:        uuid.New().String(),
	}, nil
}

// NewGroupMessage creates a new message targeted at a specific group.
func NewGroupMessage(msgType MessageType, group string, payload interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, err
	}
	msg.Group = group
	return msg, nil
}

// Bytes serializes the message to JSON bytes.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage deserializes a message from JSON bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	// Code is the error code.
	Code string `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
}

// ReportPayload is the payload for report events.
type ReportPayload struct {
	Group      string    `json:"group"`
	Reporter   string    `json:"reporter"`
	Label      string    `json:"label,omitempty"`
	Families   int       `json:"families"`
	Series     int       `json:"series"`
	ReceivedAt time.Time `json:"received_at"`
}
