package ws

import (
	"encoding/json"
	"time"
)

// EventType names an inbound or outbound frame.
type EventType string

const (
	EventNewMessage EventType = "new_message"
	EventHistory    EventType = "history"
	EventPing       EventType = "ping"
	EventPong       EventType = "pong"
	EventError      EventType = "error"
	EventRead       EventType = "read"
	EventTyping     EventType = "typing"
)

// Known reports whether t is one of the event types the backend emits.
func (t EventType) Known() bool {
	switch t {
	case EventNewMessage, EventHistory, EventPing, EventPong, EventError, EventRead, EventTyping:
		return true
	}
	return false
}

// Frame is the inbound envelope. Payload is decoded by the handler for Type.
type Frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// OutboundFrame is a client-initiated frame.
type OutboundFrame struct {
	Type           EventType `json:"type"`
	ConversationID int64     `json:"conversation_id"`
	Content        string    `json:"content,omitempty"`
	Timestamp      string    `json:"timestamp"`
}

// NewMessageFrame builds the frame that submits a user message.
func NewMessageFrame(conversationID int64, content string, now time.Time) OutboundFrame {
	return OutboundFrame{
		Type:           EventNewMessage,
		ConversationID: conversationID,
		Content:        content,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
	}
}

// PingFrame builds an on-demand keepalive frame.
func PingFrame(conversationID int64, now time.Time) OutboundFrame {
	return OutboundFrame{
		Type:           EventPing,
		ConversationID: conversationID,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
	}
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}
