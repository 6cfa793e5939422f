// Package otel backs the o11y provider interfaces with OpenTelemetry
// instruments and spans.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tetherlabs/tether/pkg/tether/o11y"
)

// Provider implements o11y.MetricsProvider and o11y.TracingProvider on the
// globally registered OpenTelemetry meter and tracer providers.
type Provider struct {
	meter  metric.Meter
	tracer trace.Tracer
}

// NewProvider creates a Provider scoped to the given instrumentation name
// and version.
func NewProvider(serviceName, serviceVersion string) *Provider {
	return &Provider{
		meter:  otel.Meter(serviceName, metric.WithInstrumentationVersion(serviceVersion)),
		tracer: otel.Tracer(serviceName, trace.WithInstrumentationVersion(serviceVersion)),
	}
}

func (p *Provider) Counter(name string) o11y.Counter {
	counter, _ := p.meter.Int64Counter(name)
	return counter64{counter}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	histogram, _ := p.meter.Float64Histogram(name)
	return histogram64{histogram}
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	gauge, _ := p.meter.Float64Gauge(name)
	return gauge64{gauge}
}

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, o11y.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, wrappedSpan{span}
}

func attrs(labels []o11y.Label) attribute.Set {
	kvs := make([]attribute.KeyValue, len(labels))
	for i, label := range labels {
		kvs[i] = attribute.String(label.Key, label.Value)
	}
	return attribute.NewSet(kvs...)
}

type counter64 struct {
	counter metric.Int64Counter
}

func (c counter64) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	c.counter.Add(ctx, value, metric.WithAttributeSet(attrs(labels)))
}

type histogram64 struct {
	histogram metric.Float64Histogram
}

func (h histogram64) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	h.histogram.Record(ctx, value, metric.WithAttributeSet(attrs(labels)))
}

type gauge64 struct {
	gauge metric.Float64Gauge
}

func (g gauge64) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	g.gauge.Record(ctx, value, metric.WithAttributeSet(attrs(labels)))
}

type wrappedSpan struct {
	span trace.Span
}

func (s wrappedSpan) SetAttributes(labels ...o11y.Label) {
	kvs := make([]attribute.KeyValue, len(labels))
	for i, label := range labels {
		kvs[i] = attribute.String(label.Key, label.Value)
	}
	s.span.SetAttributes(kvs...)
}

func (s wrappedSpan) SetStatus(code o11y.SpanStatusCode, description string) {
	var otelCode codes.Code
	switch code {
	case o11y.SpanStatusOK:
		otelCode = codes.Ok
	case o11y.SpanStatusError:
		otelCode = codes.Error
	default:
		otelCode = codes.Unset
	}
	s.span.SetStatus(otelCode, description)
}

func (s wrappedSpan) End() {
	s.span.End()
}
