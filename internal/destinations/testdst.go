// Package destinations implements the outbound workers: an SMTP relay, a
// child-process pipe and a test sink. Each destination drains its inbox to
// completion once the hub closes it and reports transient delivery failures
// back through its channel.
package destinations

import (
	"log/slog"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// TestDestination simulates a sink that fails its first fail_n_first
// deliveries and accepts everything afterwards.
type TestDestination struct {
	name string
	cfg  config.TestDestinationConfig
	done chan struct{}
}

// NewTestDestination creates the test destination.
func NewTestDestination(name string, cfg *config.TestDestinationConfig) *TestDestination {
	return &TestDestination{name: name, cfg: *cfg, done: make(chan struct{})}
}

// Start launches the worker goroutine.
func (d *TestDestination) Start(channel *hub.DestinationChannel) {
	log := slog.With("component", "dst[test:"+d.name+"]")
	log.Info("Starting")

	go func() {
		defer close(d.done)

		failsRemaining := d.cfg.FailNFirst
		for mail := range channel.Mails() {
			if failsRemaining > 0 {
				log.Info("Got mail, simulating send failure", "hash", mail.Hash)
				failsRemaining--
				channel.NotifyFailedSend(mail)
				continue
			}
			log.Info("Got mail, simulating success", "hash", mail.Hash)
		}
		log.Info("Stopping")
	}()
}

// Join blocks until the worker goroutine has exited.
func (d *TestDestination) Join() {
	<-d.done
}
