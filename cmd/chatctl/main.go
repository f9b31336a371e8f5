// Command chatctl is a terminal client for the chat relay.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chat-relay/internal/logging"
)

var (
	// Global flags
	serverURL   string
	identityID  string
	displayName string
	role        string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Terminal client for the chat relay",
	Long: `chatctl connects to a chat relay as one identity.

Use "chat" for a live conversation, "history" to page through stored
messages, and "conversations" to list the chats of an identity.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if identityID == "" {
			return fmt.Errorf("--identity is required")
		}
		level := "warn"
		if verbose {
			level = "debug"
		}
		var err error
		logger, err = logging.New(level)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8083", "relay base URL")
	rootCmd.PersistentFlags().StringVar(&identityID, "identity", "", "identity to act as")
	rootCmd.PersistentFlags().StringVar(&displayName, "name", "", "display name shown to others")
	rootCmd.PersistentFlags().StringVar(&role, "role", "customer", "role: customer, counterparty or admin")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(chatCmd, historyCmd, conversationsCmd)
}

// websocketURL maps the relay base URL to its websocket endpoint.
func websocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
