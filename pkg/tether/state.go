package tether

// ConnectionState represents the lifecycle state of a single logical
// connection managed by the Registry.
type ConnectionState int

const (
	// StateDisconnected means no transport is active. Initial state.
	StateDisconnected ConnectionState = iota
	// StateConnecting means a transport open is in progress.
	StateConnecting
	// StateConnected means the transport is open and the heartbeat is active.
	StateConnected
	// StateReconnecting means the transport was lost and the retry loop is active.
	StateReconnecting
	// StateErrored means reconnect attempts were exhausted or the transport
	// failed unrecoverably. The connection stays inert until Connect is
	// called again explicitly.
	StateErrored
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateErrored:
		return "error"
	default:
		return "unknown"
	}
}
