package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chatsync/internal/channels"
	"chatsync/internal/commands"
	"chatsync/internal/config"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "chatsync",
	Short:         "Realtime sync client for chat channels",
	Long:          "Keeps a local cache of conversations in step with the chat event stream.\nConfigured through CHATSYNC_* environment variables or the TOML file named by CHATSYNC_CONFIG.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var syncOpts commands.SyncOptions

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Connect and keep the local cache in sync",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(false)
		if err != nil {
			return err
		}
		return commands.Sync(cmd.Context(), cfg, logger, syncOpts)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local websocket pub/sub broker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(true)
		if err != nil {
			return err
		}
		return commands.Serve(cmd.Context(), cfg, logger)
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <channel> <event> [json]",
	Short: "Inject one event into a channel",
	Long:  "Publish an event as the server would.\nExample: chatsync publish chat:g1 group_deleted '{\"id\":\"g1\"}'",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(true)
		if err != nil {
			return err
		}
		var data json.RawMessage
		if len(args) == 3 {
			data = json.RawMessage(args[2])
		}
		return commands.Publish(cmd.Context(), cfg, logger, cmd.OutOrStdout(), args[0], channels.EventName(args[1]), data)
	},
}

var channelCmd = &cobra.Command{
	Use:   "channel <topic> <key>...",
	Short: "Print the channel name of a topic",
	Long:  "Print the wire channel name for a topic and its key arguments.\nExample: chatsync channel dm u1 u2",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return commands.Channel(cmd.OutOrStdout(), args[0], args[1:])
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncOpts.DMs, "dm", nil, "open the direct conversation with these users")
	syncCmd.Flags().StringSliceVar(&syncOpts.Groups, "group", nil, "open these group conversations")

	rootCmd.AddCommand(syncCmd, serveCmd, publishCmd, channelCmd)
}

func setup(serverMode bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(serverMode)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}
