package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/daemon"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <config.json>",
	Short: "Run the mail-forwarding daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return runDaemon(args[0])
	},
}

// runDaemon loads the configuration, installs the signal trap and runs the
// hub until a clean shutdown. Configuration errors surface before any worker
// starts.
func runDaemon(configPath string) error {
	slog.Info("Parsing configuration file", "path", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration %s: %w", configPath, err)
	}
	slog.Info("Configuration loaded",
		"sources", len(cfg.Sources),
		"destinations", len(cfg.Destinations),
		"retry_agent", cfg.RetryAgent != nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon.Run(ctx, cfg)
	return nil
}
