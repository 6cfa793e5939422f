package tether

import (
	"fmt"
	"time"
)

const (
	// DefaultReconnectInterval is the base delay before the first reconnect
	// attempt. The delay doubles on each subsequent attempt.
	DefaultReconnectInterval = 1 * time.Second

	// DefaultMaxReconnectAttempts is the ceiling on reconnect attempts
	// before a connection transitions to the error state.
	DefaultMaxReconnectAttempts = 5

	// DefaultHeartbeatInterval is the period between liveness pings while
	// connected.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultHeartbeatMisses is the number of consecutive unacknowledged
	// heartbeats tolerated before the connection begins reconnecting.
	DefaultHeartbeatMisses = 1

	// DefaultMessageQueueSize is the maximum number of messages buffered
	// per connection while it is not yet connected.
	DefaultMessageQueueSize = 100

	// maxReconnectDelay caps the exponential backoff between attempts.
	maxReconnectDelay = 30 * time.Second
)

// Config holds the tunables recognized by the Registry. The zero value is
// not usable; start from DefaultConfig.
type Config struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	HeartbeatMisses      int
	MessageQueueSize     int
}

// DefaultConfig returns the default Registry configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		HeartbeatMisses:      DefaultHeartbeatMisses,
		MessageQueueSize:     DefaultMessageQueueSize,
	}
}

// Validate checks the configuration for values the Registry cannot run with.
func (c Config) Validate() error {
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect interval must be positive, got %v", c.ReconnectInterval)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.HeartbeatMisses <= 0 {
		return fmt.Errorf("heartbeat misses must be positive, got %d", c.HeartbeatMisses)
	}
	if c.MessageQueueSize <= 0 {
		return fmt.Errorf("message queue size must be positive, got %d", c.MessageQueueSize)
	}
	return nil
}

// backoffDelay returns the delay before reconnect attempt n (1-based):
// ReconnectInterval * 2^(n-1), capped at maxReconnectDelay.
func (c Config) backoffDelay(attempt int) time.Duration {
	delay := c.ReconnectInterval
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxReconnectDelay {
			return maxReconnectDelay
		}
	}
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}
