package tether

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tetherlabs/tether/pkg/tether/o11y"
)

// countingMetricsProvider implements o11y.MetricsProvider for testing.
type countingMetricsProvider struct {
	counts atomic.Int64
}

func (p *countingMetricsProvider) Counter(name string) o11y.Counter     { return &countingCounter{p: p} }
func (p *countingMetricsProvider) Histogram(name string) o11y.Histogram { return noopHistogram{} }
func (p *countingMetricsProvider) Gauge(name string) o11y.Gauge         { return noopGauge{} }

type countingCounter struct{ p *countingMetricsProvider }

func (c *countingCounter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.p.counts.Add(value)
}

type noopHistogram struct{}

func (noopHistogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {}

type noopGauge struct{}

func (noopGauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {}

// countingTracingProvider implements o11y.TracingProvider for testing.
type countingTracingProvider struct {
	spans atomic.Int64
}

func (p *countingTracingProvider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	p.spans.Add(1)
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttributes(labels ...o11y.Label)                     {}
func (noopSpan) SetStatus(code o11y.SpanStatusCode, description string) {}
func (noopSpan) End()                                                   {}

func TestRegistryBuilder_RequiresTransport(t *testing.T) {
	_, err := NewRegistry().
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport")
}

func TestRegistryBuilder_RejectsInvalidConfig(t *testing.T) {
	mt := &mockTransport{}
	cfg := DefaultConfig()
	cfg.MessageQueueSize = 0

	_, err := NewRegistry().
		WithConfig(cfg).
		WithTransport(mt.factory).
		Build()
	require.Error(t, err)
}

func TestRegistryBuilder_Defaults(t *testing.T) {
	mt := &mockTransport{}

	registry, err := NewRegistry().
		WithTransport(mt.factory).
		Build()
	require.NoError(t, err)
	require.NotNil(t, registry)

	assert.Equal(t, DefaultConfig(), registry.cfg)
	assert.NotNil(t, registry.logger)
	assert.Nil(t, registry.obs)
	assert.Equal(t, 0, registry.ConnectionCount())
}

func TestRegistryBuilder_WithMetrics(t *testing.T) {
	mt := &mockTransport{}
	provider := &countingMetricsProvider{}

	registry, err := NewRegistry().
		WithLogger(zaptest.NewLogger(t)).
		WithTransport(mt.factory).
		WithMetrics(provider).
		Build()
	require.NoError(t, err)
	require.NotNil(t, registry.obs)

	ctx := context.Background()
	require.NoError(t, registry.Connect(ctx, "conn-1"))
	require.NoError(t, registry.Send(ctx, "conn-1", Message{Type: MessageChat, Payload: "hi"}))
	require.NoError(t, registry.Cleanup(ctx))

	// Connect, send, and disconnect each bump a counter.
	assert.GreaterOrEqual(t, provider.counts.Load(), int64(3))
}

func TestRegistryBuilder_WithObservability(t *testing.T) {
	mt := &mockTransport{}
	metrics := &countingMetricsProvider{}
	tracing := &countingTracingProvider{}

	registry, err := NewRegistry().
		WithLogger(zaptest.NewLogger(t)).
		WithTransport(mt.factory).
		WithObservability(metrics, tracing).
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, registry.Connect(ctx, "conn-1"))
	require.NoError(t, registry.Send(ctx, "conn-1", Message{Type: MessageChat}))
	require.NoError(t, registry.Broadcast(ctx, Message{Type: MessageSystem}))
	require.NoError(t, registry.Disconnect(ctx, "conn-1"))

	// Connect, send, broadcast, and disconnect each open a span.
	assert.Equal(t, int64(4), tracing.spans.Load())
}

func TestRegistryBuilder_IsValid(t *testing.T) {
	mt := &mockTransport{}

	builder := NewRegistry()
	assert.Error(t, builder.IsValid())

	builder = builder.WithTransport(mt.factory)
	assert.NoError(t, builder.IsValid())
}
