// Package tether manages multiplexed publish/subscribe connections for
// realtime features: it opens named channels through a pluggable transport,
// keeps them alive with heartbeats and automatic reconnection, buffers
// outbound messages while a connection is down, and routes inbound traffic
// to per-connection, global, and per-message-type listeners.
package tether

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/tetherlabs/tether/pkg/tether/o11y"
	"github.com/tetherlabs/tether/pkg/tether/transport"
)

// Registry is the top-level connection manager. It owns the map of
// connection id to state machine, exposes the public API, and coordinates
// teardown. Construct one with NewRegistry and inject it into callers; it
// is safe for concurrent use.
type Registry struct {
	logger     *zap.Logger
	cfg        Config
	factory    transport.Factory
	dispatcher *dispatcher
	obs        *registryMetrics
	tracing    o11y.TracingProvider

	mu    sync.RWMutex
	conns map[string]*connection
}

// ConnectOption customizes a single Connect call.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	sessionToken string
}

// WithSessionToken attaches a session credential to the underlying channel
// open. How the credential is presented is transport-specific.
func WithSessionToken(token string) ConnectOption {
	return func(o *connectOptions) {
		o.sessionToken = token
	}
}

// Connect creates the named connection if absent and drives it to the
// connected state. Connecting an id that is already connected returns
// immediately without opening a second transport. Connect blocks through
// the initial attempt and its backoff retries; on retry exhaustion the
// connection is left in the error state and the error is returned.
func (r *Registry) Connect(ctx context.Context, id string, opts ...ConnectOption) error {
	if r.tracing != nil {
		var span o11y.Span
		ctx, span = r.tracing.StartSpan(ctx, "tether.connect")
		defer span.End()

		span.SetAttributes(
			o11y.Label{Key: "connection_id", Value: id},
			o11y.Label{Key: "operation", Value: "connect"},
		)
	}

	if id == "" {
		return ErrEmptyConnectionID
	}

	var options connectOptions
	for _, opt := range opts {
		opt(&options)
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	if !ok {
		conn = newConnection(id, r.cfg, r.factory, r.dispatcher, r.obs, r.logger)
		r.conns[id] = conn
	}
	r.mu.Unlock()

	if options.sessionToken != "" {
		conn.setSessionToken(options.sessionToken)
	}

	return conn.connect(ctx)
}

// Disconnect tears down the named connection and removes it from the
// registry. Disconnecting an unknown id is a no-op.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	if r.tracing != nil {
		var span o11y.Span
		ctx, span = r.tracing.StartSpan(ctx, "tether.disconnect")
		defer span.End()

		span.SetAttributes(
			o11y.Label{Key: "connection_id", Value: id},
			o11y.Label{Key: "operation", Value: "disconnect"},
		)
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := r.closeConnection(ctx, conn); err != nil {
		return fmt.Errorf("disconnect %s: %w", id, err)
	}
	return nil
}

// Send stamps the message with a generated id and timestamp and delivers
// it on the named connection. While the connection is not connected the
// message is buffered (subject to the queue bound) and Send returns once
// enqueued. Sending on an unknown id fails with ErrConnectionNotFound.
func (r *Registry) Send(ctx context.Context, id string, msg Message) error {
	if r.tracing != nil {
		var span o11y.Span
		ctx, span = r.tracing.StartSpan(ctx, "tether.send")
		defer span.End()

		span.SetAttributes(
			o11y.Label{Key: "connection_id", Value: id},
			o11y.Label{Key: "message_type", Value: string(msg.Type)},
		)
	}

	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	return conn.send(ctx, msg)
}

// Broadcast sends the message to every tracked connection independently.
// A delivery failure on one connection is logged and does not prevent
// delivery attempts on the others; Broadcast never returns a send error.
func (r *Registry) Broadcast(ctx context.Context, msg Message) error {
	if r.tracing != nil {
		var span o11y.Span
		ctx, span = r.tracing.StartSpan(ctx, "tether.broadcast")
		defer span.End()

		span.SetAttributes(
			o11y.Label{Key: "message_type", Value: string(msg.Type)},
		)
	}

	r.mu.RLock()
	conns := make([]*connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.send(ctx, msg); err != nil {
			r.logger.Warn("broadcast delivery failed",
				zap.String("connection_id", conn.id),
				zap.Error(err),
			)
		}
	}
	return nil
}

// OnMessage registers a handler for every inbound message of the given
// type across all connections.
func (r *Registry) OnMessage(msgType MessageType, handler MessageHandler) Unsubscribe {
	return r.dispatcher.onMessage(msgType, handler)
}

// On registers a handler scoped to one connection's events. The connection
// does not have to exist yet, so callers may subscribe before connecting;
// the returned unsubscribe is always valid.
func (r *Registry) On(id string, kind EventKind, handler EventHandler) Unsubscribe {
	return r.dispatcher.on(id, kind, handler)
}

// OnGlobal registers a handler for the given event kind across all
// connections, present and future.
func (r *Registry) OnGlobal(kind EventKind, handler EventHandler) Unsubscribe {
	return r.dispatcher.onGlobal(kind, handler)
}

// State returns the named connection's state. ok is false for unknown ids.
func (r *Registry) State(id string) (ConnectionState, bool) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return StateDisconnected, false
	}
	return conn.currentState(), true
}

// MetricsFor returns a snapshot of the named connection's metrics. ok is
// false for unknown ids.
func (r *Registry) MetricsFor(id string) (Metrics, bool) {
	r.mu.RLock()
	conn, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		return Metrics{}, false
	}
	return conn.snapshot(), true
}

// ConnectionIDs returns the ids of every tracked connection.
func (r *Registry) ConnectionIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// ConnectionCount returns the number of tracked connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// IsConnected reports whether the named connection exists and is connected.
func (r *Registry) IsConnected(id string) bool {
	state, ok := r.State(id)
	return ok && state == StateConnected
}

// Cleanup disconnects every tracked connection, clears every registered
// listener, and resets the registry to empty. Safe to call multiple times.
func (r *Registry) Cleanup(ctx context.Context) error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*connection)
	r.mu.Unlock()

	for _, conn := range conns {
		if err := r.closeConnection(ctx, conn); err != nil {
			r.logger.Warn("cleanup close failed",
				zap.String("connection_id", conn.id),
				zap.Error(err),
			)
		}
	}

	r.dispatcher.clear()
	r.logger.Info("registry cleaned up", zap.Int("connections_closed", len(conns)))
	return nil
}

func (r *Registry) closeConnection(ctx context.Context, conn *connection) error {
	return conn.close(ctx)
}
