package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tetherlabs/tether/pkg/tether"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <channel> <message>",
	Short: "Connect to a channel and send one message",
	Long: `Connect to a channel, send a single message, and disconnect.

The first argument is the channel name, the second is the message
payload (JSON or plain text; plain text is wrapped as a JSON string).

Examples:
  tether send orders '{"sku":"A-1","qty":3}'
  tether send alerts "disk usage above 90%" --type system --priority high`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var (
	sendType     string
	sendPriority string
	sendTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendType, "type", string(tether.MessageChat), "message type (chat, system, custom)")
	sendCmd.Flags().StringVar(&sendPriority, "priority", "", "message priority (low, medium, high)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "total operation timeout")
}

func runSend(cmd *cobra.Command, args []string) error {
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

	channel := args[0]
	payload := json.RawMessage(args[1])
	if !json.Valid(payload) {
		wrapped, marshalErr := json.Marshal(args[1])
		if marshalErr != nil {
			return fmt.Errorf("failed to encode payload: %w", marshalErr)
		}
		payload = wrapped
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	logger.Info("Sending message",
		zap.String("channel", channel),
		zap.String("type", sendType),
		zap.Duration("timeout", sendTimeout),
	)

	if err := registry.Connect(ctx, channel); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if cleanupErr := registry.Cleanup(context.Background()); cleanupErr != nil {
			logger.Warn("Error during cleanup", zap.Error(cleanupErr))
		}
	}()

	msg := tether.Message{
		Type:     tether.MessageType(sendType),
		Payload:  payload,
		Priority: tether.Priority(sendPriority),
	}
	if err := registry.Send(ctx, channel, msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	logger.Info("Message sent", zap.String("channel", channel))
	return nil
}
