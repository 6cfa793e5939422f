package tether

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType tags a Message with its application-level meaning.
type MessageType string

const (
	MessageChat      MessageType = "chat"
	MessageSystem    MessageType = "system"
	MessageHeartbeat MessageType = "heartbeat"
	MessageCustom    MessageType = "custom"
)

// Priority is an ordering hint carried on a Message. It never reorders the
// per-connection queue (which is strict FIFO); it is preserved as metadata
// for downstream consumers.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Message is one unit of data exchanged over a connection. Id and Timestamp
// are assigned by the Registry at send time; the Payload is opaque to the
// manager.
type Message struct {
	ID           string      `json:"id"`
	Type         MessageType `json:"type"`
	Payload      any         `json:"payload"`
	Priority     Priority    `json:"priority,omitempty"`
	Timestamp    int64       `json:"timestamp"`
	ConnectionID string      `json:"connectionId,omitempty"`
}

// Encode renders the message in its wire shape.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a wire frame back into a Message.
func DecodeMessage(frame []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(frame, &m)
	return m, err
}

// stamp assigns the send-time identity fields. Timestamps are monotonically
// non-decreasing within a single connection's send order; prev is the last
// timestamp issued on that connection.
func (m *Message) stamp(connectionID string, prev int64) int64 {
	m.ID = uuid.NewString()
	m.ConnectionID = connectionID

	ts := time.Now().UnixMilli()
	if ts < prev {
		ts = prev
	}
	m.Timestamp = ts
	return ts
}
