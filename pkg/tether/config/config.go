// Package config loads connection manager settings from YAML files and
// the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tetherlabs/tether/pkg/tether"
	"github.com/tetherlabs/tether/pkg/tether/transport"
)

// Config is the on-disk / environment shape of the manager configuration.
type Config struct {
	ReconnectInterval    time.Duration `envconfig:"TETHER_RECONNECT_INTERVAL" yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `envconfig:"TETHER_MAX_RECONNECT_ATTEMPTS" yaml:"max_reconnect_attempts"`
	HeartbeatInterval    time.Duration `envconfig:"TETHER_HEARTBEAT_INTERVAL" yaml:"heartbeat_interval"`
	HeartbeatMisses      int           `envconfig:"TETHER_HEARTBEAT_MISSES" yaml:"heartbeat_misses"`
	MessageQueueSize     int           `envconfig:"TETHER_MESSAGE_QUEUE_SIZE" yaml:"message_queue_size"`

	Transport TransportConfig `yaml:"transport"`
}

// TransportConfig selects and configures the adapter implementation that
// backs new connections.
type TransportConfig struct {
	Kind        string        `envconfig:"TETHER_TRANSPORT" yaml:"kind"`
	URL         string        `envconfig:"TETHER_TRANSPORT_URL" yaml:"url"`
	DialTimeout time.Duration `envconfig:"TETHER_TRANSPORT_DIAL_TIMEOUT" yaml:"dial_timeout"`
}

// Load reads a YAML config file, expanding ${VAR} environment references,
// and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// FromEnv builds a Config from TETHER_* environment variables, applying
// defaults for anything unset.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = tether.DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = tether.DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = tether.DefaultHeartbeatInterval
	}
	if c.HeartbeatMisses <= 0 {
		c.HeartbeatMisses = tether.DefaultHeartbeatMisses
	}
	if c.MessageQueueSize <= 0 {
		c.MessageQueueSize = tether.DefaultMessageQueueSize
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = string(transport.KindMemory)
	}
}

// Validate checks the configuration, including the transport selection.
func (c *Config) Validate() error {
	if err := c.Manager().Validate(); err != nil {
		return err
	}

	switch transport.Kind(c.Transport.Kind) {
	case transport.KindMemory:
	case transport.KindWebsocket, transport.KindRedis:
		if c.Transport.URL == "" {
			return fmt.Errorf("transport %q requires a url", c.Transport.Kind)
		}
	default:
		return fmt.Errorf("unknown transport kind %q", c.Transport.Kind)
	}
	return nil
}

// Factory builds the transport factory the configuration selects.
func (c *Config) Factory(logger *zap.Logger) (transport.Factory, error) {
	return transport.NewFactory(transport.Kind(c.Transport.Kind), transport.Options{
		Logger:      logger,
		URL:         c.Transport.URL,
		DialTimeout: c.Transport.DialTimeout,
	})
}

// Manager converts the loaded settings into the Registry configuration.
func (c *Config) Manager() tether.Config {
	return tether.Config{
		ReconnectInterval:    c.ReconnectInterval,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		HeartbeatInterval:    c.HeartbeatInterval,
		HeartbeatMisses:      c.HeartbeatMisses,
		MessageQueueSize:     c.MessageQueueSize,
	}
}
