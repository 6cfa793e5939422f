package tether

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tetherlabs/tether/pkg/tether/o11y"
	"github.com/tetherlabs/tether/pkg/tether/transport"
)

// RegistryBuilder provides a fluent interface for building a Registry.
type RegistryBuilder struct {
	logger          *zap.Logger
	cfg             Config
	factory         transport.Factory
	metricsProvider o11y.MetricsProvider
	tracingProvider o11y.TracingProvider
}

// NewRegistry creates a new RegistryBuilder with default configuration.
func NewRegistry() *RegistryBuilder {
	return &RegistryBuilder{
		cfg: DefaultConfig(),
	}
}

// WithLogger sets the logger for the Registry and its connections.
func (b *RegistryBuilder) WithLogger(logger *zap.Logger) *RegistryBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithConfig replaces the whole configuration.
func (b *RegistryBuilder) WithConfig(cfg Config) *RegistryBuilder {
	b.cfg = cfg
	return b
}

// WithTransport sets the factory that backs new connections with transport
// adapters.
func (b *RegistryBuilder) WithTransport(factory transport.Factory) *RegistryBuilder {
	b.factory = factory
	return b
}

// WithMetrics sets an optional metrics provider for registry-level
// instruments.
func (b *RegistryBuilder) WithMetrics(provider o11y.MetricsProvider) *RegistryBuilder {
	b.metricsProvider = provider
	return b
}

// WithTracing sets an optional tracing provider; registry operations are
// wrapped in spans when one is present.
func (b *RegistryBuilder) WithTracing(provider o11y.TracingProvider) *RegistryBuilder {
	b.tracingProvider = provider
	return b
}

// WithObservability sets both metrics and tracing providers.
func (b *RegistryBuilder) WithObservability(metrics o11y.MetricsProvider, tracing o11y.TracingProvider) *RegistryBuilder {
	b.metricsProvider = metrics
	b.tracingProvider = tracing
	return b
}

// IsValid checks that all required configuration is present.
func (b *RegistryBuilder) IsValid() error {
	if b.factory == nil {
		return fmt.Errorf("transport factory is required")
	}
	if err := b.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Build creates and returns a new Registry with the configured options.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if err := b.IsValid(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		logger:     logger,
		cfg:        b.cfg,
		factory:    b.factory,
		dispatcher: newDispatcher(logger),
		obs:        newRegistryMetrics(b.metricsProvider),
		tracing:    b.tracingProvider,
		conns:      make(map[string]*connection),
	}, nil
}
