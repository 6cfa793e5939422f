package tether

import "errors"

// Errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrEmptyConnectionID  = errors.New("connection id must not be empty")
	ErrQueueOverflow      = errors.New("message queue full, newest message dropped")
	ErrTransportOpen      = errors.New("transport failed to open")
	ErrHeartbeatMissed    = errors.New("heartbeat missed")
)
