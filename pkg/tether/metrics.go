package tether

import "time"

// Metrics is a point-in-time snapshot of one connection's counters.
// ConnectedAt is nil until the connection first reaches the connected state.
type Metrics struct {
	ConnectedAt       *time.Time
	MessagesSent      int64
	MessagesReceived  int64
	Errors            int64
	ReconnectAttempts int
}
