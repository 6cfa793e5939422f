// Package transport defines the channel abstraction the connection manager
// drives, and the adapters that back it: a websocket adapter for raw-socket
// channels, a Redis pub/sub adapter for broker channels, and an in-process
// adapter for tests and demos.
package transport

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// OpenResult reports the outcome of opening a channel.
type OpenResult int

const (
	// OpenSubscribed means the channel is open and the subscription is
	// acknowledged by the underlying service.
	OpenSubscribed OpenResult = iota
	// OpenTimedOut means the open did not complete within the adapter's
	// deadline.
	OpenTimedOut
	// OpenErrored means the open failed.
	OpenErrored
)

func (r OpenResult) String() string {
	switch r {
	case OpenSubscribed:
		return "subscribed"
	case OpenTimedOut:
		return "timed_out"
	case OpenErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Adapter wraps one underlying named channel. Implementations must be safe
// for concurrent Send calls. OnInbound and OnClose must be set before Open;
// the inbound handler is the single callback invoked for every inbound
// frame, and OnClose fires at most once when the transport fails or closes
// underneath the manager.
type Adapter interface {
	Open(ctx context.Context, name string) (OpenResult, error)
	Send(ctx context.Context, frame []byte) error
	OnInbound(handler func(frame []byte))
	OnClose(handler func(err error))
	Close(ctx context.Context) error
}

// Channel identifies one logical channel to a Factory. SessionToken is
// optional and adapter-specific (the websocket adapter sends it as a bearer
// credential; the broker adapters ignore it).
type Channel struct {
	Name         string
	SessionToken string
}

// Factory creates a fresh Adapter for a channel. The connection manager
// calls it once per connect attempt.
type Factory func(channel Channel) Adapter

// Kind selects which Adapter implementation backs new connections.
type Kind string

const (
	KindWebsocket Kind = "websocket"
	KindRedis     Kind = "redis"
	KindMemory    Kind = "memory"
)

// Options configures a Factory. URL is the websocket base URL or the Redis
// address, depending on the kind.
type Options struct {
	Logger      *zap.Logger
	URL         string
	DialTimeout time.Duration
}

// NewFactory returns a Factory for the given transport kind.
func NewFactory(kind Kind, opts Options) (Factory, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}

	switch kind {
	case KindWebsocket:
		if opts.URL == "" {
			return nil, fmt.Errorf("websocket transport requires a URL")
		}
		return websocketFactory(opts), nil
	case KindRedis:
		if opts.URL == "" {
			return nil, fmt.Errorf("redis transport requires an address")
		}
		return redisFactory(opts), nil
	case KindMemory:
		return NewMemoryBroker().Factory(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}
