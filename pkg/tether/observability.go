package tether

import (
	"context"
	"sync/atomic"

	"github.com/tetherlabs/tether/pkg/tether/o11y"
)

// registryMetrics holds the pre-created instruments for a Registry. A nil
// receiver (observability not configured) makes every recording a no-op.
type registryMetrics struct {
	connects     o11y.Counter
	disconnects  o11y.Counter
	sent         o11y.Counter
	received     o11y.Counter
	reconnects   o11y.Counter
	errors       o11y.Counter
	queueDropped o11y.Counter
	active       o11y.Gauge

	activeCount atomic.Int64
}

func newRegistryMetrics(provider o11y.MetricsProvider) *registryMetrics {
	if provider == nil {
		return nil
	}
	return &registryMetrics{
		connects:     provider.Counter("tether_connections_opened_total"),
		disconnects:  provider.Counter("tether_connections_closed_total"),
		sent:         provider.Counter("tether_messages_sent_total"),
		received:     provider.Counter("tether_messages_received_total"),
		reconnects:   provider.Counter("tether_reconnect_attempts_total"),
		errors:       provider.Counter("tether_connection_errors_total"),
		queueDropped: provider.Counter("tether_queue_dropped_total"),
		active:       provider.Gauge("tether_active_connections"),
	}
}

func (m *registryMetrics) countConnected(id string) {
	if m == nil {
		return
	}
	m.connects.Add(context.Background(), 1, o11y.Label{Key: "connection_id", Value: id})
	m.active.Set(context.Background(), float64(m.activeCount.Add(1)))
}

func (m *registryMetrics) countDisconnected(id string) {
	if m == nil {
		return
	}
	m.disconnects.Add(context.Background(), 1, o11y.Label{Key: "connection_id", Value: id})
	m.active.Set(context.Background(), float64(m.activeCount.Add(-1)))
}

func (m *registryMetrics) countSent(id string) {
	if m == nil {
		return
	}
	m.sent.Add(context.Background(), 1, o11y.Label{Key: "connection_id", Value: id})
}

func (m *registryMetrics) countReceived(id string) {
	if m == nil {
		return
	}
	m.received.Add(context.Background(), 1, o11y.Label{Key: "connection_id", Value: id})
}

func (m *registryMetrics) countReconnect(id string) {
	if m == nil {
		return
	}
	m.reconnects.Add(context.Background(), 1, o11y.Label{Key: "connection_id", Value: id})
}

func (m *registryMetrics) countError(id string) {
	if m == nil {
		return
	}
	m.errors.Add(context.Background(), 1, o11y.Label{Key: "connection_id", Value: id})
}

func (m *registryMetrics) countDropped(id string) {
	if m == nil {
		return
	}
	m.queueDropped.Add(context.Background(), 1, o11y.Label{Key: "connection_id", Value: id})
}
