package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tetherlabs/tether/pkg/tether"
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <channel> [channels...]",
	Short: "Connect to channels and print inbound messages",
	Long: `Connect to one or more channels and print every inbound message to
stdout until interrupted.

The transport is taken from the config file or TETHER_* environment
variables. Connections reconnect automatically with exponential backoff
if the transport drops.

Examples:
  tether listen orders
  tether --config tether.yaml listen orders alerts
  TETHER_TRANSPORT=redis TETHER_TRANSPORT_URL=localhost:6379 tether listen orders`,
	Args: cobra.MinimumNArgs(1),
	RunE: runListen,
}

var listenSessionToken string

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVar(&listenSessionToken, "session-token", "", "session token presented to the transport")
}

func runListen(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	factory, err := cfg.Factory(logger)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	registry, err := tether.NewRegistry().
		WithLogger(logger).
		WithConfig(cfg.Manager()).
		WithTransport(factory).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build registry: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting listener",
		zap.Strings("channels", args),
		zap.String("transport", cfg.Transport.Kind),
	)

	registry.OnGlobal(tether.EventConnected, func(event tether.Event) {
		logger.Info("Channel connected", zap.String("channel", event.ConnectionID))
	})
	registry.OnGlobal(tether.EventDisconnected, func(event tether.Event) {
		logger.Warn("Channel disconnected", zap.String("channel", event.ConnectionID))
	})
	registry.OnGlobal(tether.EventError, func(event tether.Event) {
		logger.Error("Channel error",
			zap.String("channel", event.ConnectionID),
			zap.Error(event.Err),
		)
	})
	registry.OnGlobal(tether.EventMessage, func(event tether.Event) {
		if event.Message == nil {
			return
		}
		payload, err := json.Marshal(event.Message.Payload)
		if err != nil {
			logger.Warn("Failed to marshal payload", zap.Error(err))
			return
		}
		fmt.Printf("%s\t%s\t%s\n", event.ConnectionID, event.Message.Type, payload)
	})

	for _, channel := range args {
		var opts []tether.ConnectOption
		if listenSessionToken != "" {
			opts = append(opts, tether.WithSessionToken(listenSessionToken))
		}
		if err := registry.Connect(ctx, channel, opts...); err != nil {
			logger.Error("Failed to connect", zap.String("channel", channel), zap.Error(err))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Listening for messages... (Press Ctrl+C to exit)")

	select {
	case sig := <-sigChan:
		logger.Debug("Signal received, exiting", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down...")
	}

	if err := registry.Cleanup(context.Background()); err != nil {
		logger.Warn("Error during cleanup", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
