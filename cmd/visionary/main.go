package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dgnsrekt/visionary/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "visionary",
		Short:         "Link preview bot: resolves chat links in a browser and replies with a snapshot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newStartCmd())
	return root
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [token]",
		Short: "Start listening to the chat",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, args, cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := setupLogger(cfg.Bot.LogLevel, cfg.Bot.LogFile); err != nil {
				return fmt.Errorf("logger setup failed: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("image-dir", "", "directory for page snapshots (VISIONARY_IMAGE_DIR)")
	f.String("chrome-path", "", "browser executable (CHROMIUM_PATH)")
	f.String("chat-name", "", "chat to listen to (VISIONARY_CHAT_NAME)")
	f.String("reply-chat-name", "", "chat to reply to, defaults to the listen chat (VISIONARY_REPLY_CHAT_NAME)")
	f.Int("tasks", 0, "concurrent workers (VISIONARY_TASKS)")
	f.Int("cache-size", 0, "snapshots kept on disk (VISIONARY_CACHE_SIZE)")
	return cmd
}

// applyFlags overrides cfg with the positional token and any flag set on the command line.
func applyFlags(cmd *cobra.Command, args []string, cfg *config.Config) error {
	if len(args) == 1 {
		cfg.VK.Token = args[0]
	}
	f := cmd.Flags()
	var err error
	if f.Changed("image-dir") {
		cfg.Bot.ImageDir, err = f.GetString("image-dir")
	}
	if err == nil && f.Changed("chrome-path") {
		cfg.Chromium.Path, err = f.GetString("chrome-path")
	}
	if err == nil && f.Changed("chat-name") {
		cfg.Bot.ChatName, err = f.GetString("chat-name")
	}
	if err == nil && f.Changed("reply-chat-name") {
		cfg.Bot.ReplyChatName, err = f.GetString("reply-chat-name")
	}
	if err == nil && f.Changed("tasks") {
		cfg.Bot.Tasks, err = f.GetInt("tasks")
	}
	if err == nil && f.Changed("cache-size") {
		cfg.Bot.CacheSize, err = f.GetInt("cache-size")
	}
	return err
}
