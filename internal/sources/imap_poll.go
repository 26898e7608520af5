package sources

import (
	"log/slog"
	"time"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// ImapPollSource harvests all mailboxes of an IMAP account on a fixed
// interval. The inter-poll sleep doubles as the stop check, so the source
// winds down before the next poll cycle would start.
type ImapPollSource struct {
	name string
	cfg  config.ImapPollSourceConfig
	done chan struct{}
}

// NewImapPollSource creates the polling IMAP source.
func NewImapPollSource(name string, cfg *config.ImapPollSourceConfig) *ImapPollSource {
	return &ImapPollSource{name: name, cfg: *cfg, done: make(chan struct{})}
}

// Start launches the worker goroutine.
func (s *ImapPollSource) Start(channel *hub.SourceChannel) {
	log := slog.With("component", "src[imap_poll:"+s.name+"]")
	log.Info("Starting")

	go func() {
		defer close(s.done)

		conn := newImapConnection(s.cfg.Server, s.cfg.Port, s.cfg.Auth, log)
		defer conn.close()

		interval := time.Duration(s.cfg.Interval) * time.Second
		for {
			log.Info("Polling for unread mails")
			err := conn.harvest("", s.cfg.Keep, func(data []byte) {
				channel.NotifyNewMail(hub.NewMailFromRFC822(s.name, data))
			})

			wait := interval
			if err != nil {
				// Local failure domain: log, back off briefly, poll again.
				log.Error("Harvest failed", "error", err)
				wait = ioRetryDelay
			}
			if channel.NextTimeout(wait) {
				log.Info("Stopping")
				return
			}
		}
	}()
}

// Join blocks until the worker goroutine has exited.
func (s *ImapPollSource) Join() {
	<-s.done
}
