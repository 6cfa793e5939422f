package tether

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tetherlabs/tether/pkg/tether/transport"
)

// connection is the state machine for one logical multiplexed channel. It
// owns the transport adapter, the outbound queue, the heartbeat scheduler,
// and the per-connection metrics. All state is guarded by mu; wire writes
// are serialized separately by writeMu so that slow sends do not block
// state reads.
type connection struct {
	id         string
	logger     *zap.Logger
	cfg        Config
	factory    transport.Factory
	dispatcher *dispatcher
	obs        *registryMetrics

	writeMu sync.Mutex

	mu                sync.Mutex
	state             ConnectionState
	adapter           transport.Adapter
	queue             *messageQueue
	hb                *heartbeat
	channel           transport.Channel
	connectedAt       *time.Time
	messagesSent      int64
	messagesReceived  int64
	errorCount        int64
	reconnectAttempts int
	lastStamp         int64
	closed            bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

func newConnection(id string, cfg Config, factory transport.Factory, d *dispatcher,
	obs *registryMetrics, logger *zap.Logger) *connection {
	return &connection{
		id:         id,
		logger:     logger.With(zap.String("connection_id", id)),
		cfg:        cfg,
		factory:    factory,
		dispatcher: d,
		obs:        obs,
		state:      StateDisconnected,
		queue:      newMessageQueue(cfg.MessageQueueSize),
		channel:    transport.Channel{Name: id},
		closeCh:    make(chan struct{}),
	}
}

// connect drives the machine from disconnected (or errored) to connected,
// retrying with exponential backoff up to the configured ceiling. It is a
// no-op when the connection is already connected or an attempt is in
// flight, so concurrent callers perform at most one transport open.
func (c *connection) connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, c.id)
	}
	switch c.state {
	case StateConnected, StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	// An explicit connect starts a fresh retry budget.
	c.reconnectAttempts = 0
	c.mu.Unlock()

	if err := c.attemptOpen(ctx); err != nil {
		c.recordError()
		c.emit(EventError, err)
		return c.retryLoop(ctx)
	}
	return nil
}

// attemptOpen performs a single transport open and, on success, moves the
// connection to the connected state.
func (c *connection) attemptOpen(ctx context.Context) error {
	adapter := c.factory(c.channelSpec())
	adapter.OnInbound(c.handleInbound)
	adapter.OnClose(func(err error) {
		c.transportLost(adapter, err)
	})

	result, err := adapter.Open(ctx, c.id)
	if err != nil || result != transport.OpenSubscribed {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = adapter.Close(closeCtx)
		cancel()

		if err == nil {
			err = fmt.Errorf("open returned %s", result)
		}
		return fmt.Errorf("%w: %v", ErrTransportOpen, err)
	}

	c.becomeConnected(adapter)
	return nil
}

// becomeConnected installs the adapter, starts the heartbeat, and flushes
// the queue in FIFO order. The drain runs under writeMu, so a Send issued
// after the transition blocks until every queued message is on the wire.
// It must not run under mu: loopback transports deliver flushed frames
// back synchronously, and the inbound path takes mu.
func (c *connection) becomeConnected(adapter transport.Adapter) {
	c.writeMu.Lock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.writeMu.Unlock()
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = adapter.Close(closeCtx)
		cancel()
		return
	}

	c.adapter = adapter
	c.state = StateConnected
	c.reconnectAttempts = 0
	now := time.Now()
	c.connectedAt = &now

	hb := newHeartbeat(c.cfg.HeartbeatInterval, c.cfg.HeartbeatMisses, c.logger,
		c.sendHeartbeat,
		func(err error) { c.transportLost(adapter, err) },
	)
	c.hb = hb
	queued := c.queue.drain()
	c.mu.Unlock()

	var flushed int64
	for _, msg := range queued {
		frame, err := msg.Encode()
		if err != nil {
			c.logger.Error("failed to encode queued message", zap.String("message_id", msg.ID), zap.Error(err))
			c.recordError()
			continue
		}
		if err := adapter.Send(context.Background(), frame); err != nil {
			c.logger.Warn("failed to flush queued message", zap.String("message_id", msg.ID), zap.Error(err))
			c.recordError()
			continue
		}
		flushed++
		c.obs.countSent(c.id)
	}
	c.writeMu.Unlock()

	if flushed > 0 {
		c.mu.Lock()
		c.messagesSent += flushed
		c.mu.Unlock()
	}

	hb.start()
	c.logger.Info("connected")
	c.obs.countConnected(c.id)
	c.emit(EventConnected, nil)
}

// send stamps the message and either hands it to the adapter (connected)
// or buffers it (any other state). Queue overflow drops the new message
// and surfaces as a warning event, not a failed call.
func (c *connection) send(ctx context.Context, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, c.id)
	}
	c.lastStamp = msg.stamp(c.id, c.lastStamp)

	if c.state != StateConnected {
		if err := c.queue.push(msg); err != nil {
			c.mu.Unlock()
			c.logger.Warn("message queue full, dropping newest message",
				zap.String("message_id", msg.ID),
				zap.Int("capacity", c.cfg.MessageQueueSize),
			)
			c.obs.countDropped(c.id)
			c.emitMessageEvent(EventQueueOverflow, msg, ErrQueueOverflow)
			return nil
		}
		c.mu.Unlock()
		return nil
	}

	adapter := c.adapter
	c.mu.Unlock()

	frame, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := adapter.Send(ctx, frame); err != nil {
		c.recordError()
		return fmt.Errorf("send on %s: %w", c.id, err)
	}

	c.mu.Lock()
	c.messagesSent++
	c.mu.Unlock()
	c.obs.countSent(c.id)
	return nil
}

// sendHeartbeat pushes one ping-typed message through the adapter.
// Heartbeats are internal traffic: they are not counted in the
// connection's send metrics.
func (c *connection) sendHeartbeat(ctx context.Context) error {
	msg := Message{Type: MessageHeartbeat, Payload: map[string]string{"connectionId": c.id}}

	c.mu.Lock()
	c.lastStamp = msg.stamp(c.id, c.lastStamp)
	adapter := c.adapter
	c.mu.Unlock()

	if adapter == nil {
		return fmt.Errorf("no adapter for %s", c.id)
	}

	frame, err := msg.Encode()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return adapter.Send(ctx, frame)
}

// handleInbound is the single inbound callback registered on the adapter.
// Any frame acknowledges liveness. Heartbeat frames are liveness traffic
// only and are not dispatched or counted.
func (c *connection) handleInbound(frame []byte) {
	msg, err := DecodeMessage(frame)
	if err != nil {
		c.logger.Warn("failed to decode inbound frame", zap.Error(err))
		return
	}

	c.mu.Lock()
	hb := c.hb
	if msg.Type != MessageHeartbeat {
		c.messagesReceived++
	}
	c.mu.Unlock()

	if hb != nil {
		hb.ack()
	}
	if msg.Type == MessageHeartbeat {
		return
	}

	c.obs.countReceived(c.id)
	c.dispatcher.dispatchMessage(c.id, msg)
}

// transportLost handles heartbeat timeouts and transport drops while
// connected: it stops the heartbeat, emits disconnected, and starts the
// backoff-scheduled reconnect loop. Stale callbacks from an already
// replaced adapter are ignored.
func (c *connection) transportLost(adapter transport.Adapter, cause error) {
	c.mu.Lock()
	if c.closed || c.state != StateConnected || c.adapter != adapter {
		c.mu.Unlock()
		return
	}
	hb := c.hb
	c.hb = nil
	c.adapter = nil
	c.state = StateReconnecting
	c.errorCount++
	c.mu.Unlock()

	if hb != nil {
		hb.stop()
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	_ = adapter.Close(closeCtx)
	cancel()

	c.logger.Warn("transport lost", zap.Error(cause))
	c.obs.countDisconnected(c.id)
	c.emit(EventDisconnected, cause)

	go func() {
		_ = c.retryLoop(context.Background())
	}()
}

// retryLoop schedules reconnect attempts with exponential backoff until
// one succeeds, the attempt ceiling is reached (terminal error state), or
// the connection is torn down.
func (c *connection) retryLoop(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		if c.reconnectAttempts >= c.cfg.MaxReconnectAttempts {
			c.state = StateErrored
			c.mu.Unlock()

			err := fmt.Errorf("%w: retries exhausted after %d attempts", ErrTransportOpen, c.cfg.MaxReconnectAttempts)
			c.logger.Error("reconnect attempts exhausted", zap.Int("attempts", c.cfg.MaxReconnectAttempts))
			c.emit(EventError, err)
			return err
		}
		c.state = StateReconnecting
		c.reconnectAttempts++
		attempt := c.reconnectAttempts
		c.mu.Unlock()

		delay := c.cfg.backoffDelay(attempt)
		c.logger.Info("scheduling reconnect attempt",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		c.obs.countReconnect(c.id)

		select {
		case <-ctx.Done():
			// Abandoning the loop mid-backoff must leave the connection
			// in a state an explicit connect can recover from.
			c.mu.Lock()
			closed := c.closed
			if !closed {
				c.state = StateErrored
			}
			c.mu.Unlock()

			if !closed {
				c.logger.Warn("reconnect abandoned", zap.Error(ctx.Err()))
				c.emit(EventError, ctx.Err())
			}
			return ctx.Err()
		case <-c.closeCh:
			return nil
		case <-time.After(delay):
		}

		if err := c.attemptOpen(ctx); err != nil {
			c.recordError()
			c.emit(EventError, err)
			continue
		}
		return nil
	}
}

// close tears the connection down from any state: timers and any pending
// backoff are cancelled synchronously, the adapter is closed, and a single
// disconnected event is emitted.
func (c *connection) close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hb := c.hb
	c.hb = nil
	adapter := c.adapter
	c.adapter = nil
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closeCh) })
	if hb != nil {
		hb.stop()
	}

	var err error
	if adapter != nil {
		err = adapter.Close(ctx)
	}

	c.logger.Info("disconnected")
	if wasConnected {
		c.obs.countDisconnected(c.id)
	}
	c.emit(EventDisconnected, nil)
	return err
}

// currentState returns the connection's state.
func (c *connection) currentState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// snapshot returns a copy of the connection's metrics.
func (c *connection) snapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := Metrics{
		MessagesSent:      c.messagesSent,
		MessagesReceived:  c.messagesReceived,
		Errors:            c.errorCount,
		ReconnectAttempts: c.reconnectAttempts,
	}
	if c.connectedAt != nil {
		at := *c.connectedAt
		m.ConnectedAt = &at
	}
	return m
}

func (c *connection) channelSpec() transport.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

func (c *connection) setSessionToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channel.SessionToken = token
}

func (c *connection) recordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
	c.obs.countError(c.id)
}

func (c *connection) emit(kind EventKind, err error) {
	c.dispatcher.dispatchLifecycle(Event{
		Kind:         kind,
		ConnectionID: c.id,
		Err:          err,
		At:           time.Now(),
	})
}

func (c *connection) emitMessageEvent(kind EventKind, msg Message, err error) {
	c.dispatcher.dispatchLifecycle(Event{
		Kind:         kind,
		ConnectionID: c.id,
		Message:      &msg,
		Err:          err,
		At:           time.Now(),
	})
}
