package tether

import "time"

// EventKind identifies a connection lifecycle or message event. The set is
// closed: listeners register against one of these kinds and dispatch is a
// table lookup, not string matching.
type EventKind int

const (
	// EventConnected fires when a connection reaches the connected state.
	EventConnected EventKind = iota
	// EventDisconnected fires when a connection loses its transport or is
	// torn down.
	EventDisconnected
	// EventError fires on failed connect/reconnect attempts and on retry
	// exhaustion.
	EventError
	// EventMessage fires for every inbound message on a connection.
	EventMessage
	// EventQueueOverflow fires when a bounded queue drops a message. It is
	// a warning, not a failure of the Send call.
	EventQueueOverflow
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventQueueOverflow:
		return "queue_overflow"
	default:
		return "unknown"
	}
}

// Event is the payload delivered to lifecycle and message listeners.
// Message is non-nil only for EventMessage and EventQueueOverflow; Err is
// set on EventError, EventQueueOverflow, and transport-loss
// EventDisconnected.
type Event struct {
	Kind         EventKind
	ConnectionID string
	Message      *Message
	Err          error
	At           time.Time
}

// EventHandler receives lifecycle and message events.
type EventHandler func(Event)

// MessageHandler receives inbound messages of a registered MessageType.
type MessageHandler func(Message)

// Unsubscribe removes a previously registered listener. Calling it more
// than once is a no-op.
type Unsubscribe func()
