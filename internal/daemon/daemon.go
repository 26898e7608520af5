// Package daemon turns a validated configuration into a running hub: it
// instantiates the configured workers, wires them to the hub, and maps
// termination signals to an orderly shutdown.
package daemon

import (
	"context"
	"log/slog"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/destinations"
	"github.com/meko-christian/idlemail/internal/hub"
	"github.com/meko-christian/idlemail/internal/retry"
	"github.com/meko-christian/idlemail/internal/sources"
)

// BuildHub instantiates every configured worker and registers it with a new
// hub. The config has already been validated, so every tagged variant has
// exactly one arm set and the mapping table is referentially sound.
func BuildHub(cfg *config.Config) *hub.Hub {
	h := hub.New(cfg.Mappings)

	for name, dstcfg := range cfg.Destinations {
		switch dstcfg.Type {
		case "test":
			h.AddDestination(name, destinations.NewTestDestination(name, dstcfg.Test))
		case "smtp":
			h.AddDestination(name, destinations.NewSmtpDestination(name, dstcfg.Smtp))
		case "exec":
			h.AddDestination(name, destinations.NewExecDestination(name, dstcfg.Exec))
		}
	}

	for name, srccfg := range cfg.Sources {
		switch srccfg.Type {
		case "test":
			h.AddSource(name, sources.NewTestSource(name, srccfg.Test))
		case "imap_poll":
			h.AddSource(name, sources.NewImapPollSource(name, srccfg.ImapPoll))
		case "imap_idle":
			h.AddSource(name, sources.NewImapIdleSource(name, srccfg.ImapIdle))
		}
	}

	if cfg.RetryAgent != nil {
		switch cfg.RetryAgent.Type {
		case "memory":
			h.SetRetryAgent(retry.NewMemoryAgent(cfg.RetryAgent.Memory))
		case "filesystem":
			h.SetRetryAgent(retry.NewFilesystemAgent(cfg.RetryAgent.Filesystem))
		}
	}

	return h
}

// Run executes the hub until ctx is cancelled (the signal observer cancels
// it on SIGINT/SIGTERM) and the ordered shutdown has completed.
func Run(ctx context.Context, cfg *config.Config) {
	h := BuildHub(cfg)

	go func() {
		<-ctx.Done()
		slog.Info("Received termination signal, initiating shutdown")
		h.Stop()
	}()

	h.Run()
}
