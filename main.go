package main

import (
	"log/slog"
	"os"

	"github.com/meko-christian/idlemail/cmd"
)

func main() {
	// Default logger until the command line has been parsed; setupLogger
	// replaces it with the configured level.
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(handler))

	if err := cmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
