package sources

import (
	"log/slog"
	"time"

	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// ImapIdleSource harvests all mailboxes once, then waits inside IMAP IDLE on
// its configured mailbox for the server to announce new mail. The IDLE
// session is renewed every renewinterval seconds to keep intermediaries from
// dropping the idle connection.
type ImapIdleSource struct {
	name string
	cfg  config.ImapIdleSourceConfig
	done chan struct{}
}

// NewImapIdleSource creates the IDLE IMAP source.
func NewImapIdleSource(name string, cfg *config.ImapIdleSourceConfig) *ImapIdleSource {
	return &ImapIdleSource{name: name, cfg: *cfg, done: make(chan struct{})}
}

// idleSession holds the channels of one running IDLE command.
type idleSession struct {
	updates chan client.Update
	done    chan error
	stop    chan struct{}
}

// Start launches the worker goroutine.
func (s *ImapIdleSource) Start(channel *hub.SourceChannel) {
	log := slog.With("component", "src[imap_idle:"+s.name+"]")
	log.Info("Starting")

	go func() {
		defer close(s.done)

		conn := newImapConnection(s.cfg.Server, s.cfg.Port, s.cfg.Auth, log)
		defer conn.close()

		for {
			err := conn.harvest("", s.cfg.Keep, func(data []byte) {
				channel.NotifyNewMail(hub.NewMailFromRFC822(s.name, data))
			})
			if err != nil {
				log.Error("Harvest failed", "error", err)
				if channel.NextTimeout(ioRetryDelay) {
					log.Info("Stopping")
					return
				}
				continue
			}

			session, err := s.enterIdle(conn)
			if err != nil {
				log.Error("Failed to enter IDLE state", "error", err)
				conn.close()
				if channel.NextTimeout(ioRetryDelay) {
					log.Info("Stopping")
					return
				}
				continue
			}
			log.Debug("Entered IDLE, waiting for server notification")

			select {
			case <-channel.Stopped():
				s.leaveIdle(log, conn, session)
				log.Info("Stopping")
				return
			case err := <-session.done:
				if err != nil {
					log.Error("IDLE terminated with error", "error", err)
					conn.close()
					if channel.NextTimeout(ioRetryDelay) {
						log.Info("Stopping")
						return
					}
				}
			case update := <-session.updates:
				if u, ok := update.(*client.MailboxUpdate); ok {
					log.Info("New mail announced", "exists", u.Mailbox.Messages, "recent", u.Mailbox.Recent)
				}
				s.leaveIdle(log, conn, session)
			}
		}
	}()
}

// Join blocks until the worker goroutine has exited.
func (s *ImapIdleSource) Join() {
	<-s.done
}

// enterIdle selects the configured mailbox and starts the IDLE command in
// its own goroutine.
func (s *ImapIdleSource) enterIdle(conn *imapConnection) (*idleSession, error) {
	var session *idleSession
	err := conn.run(func(imapClient *client.Client) error {
		if _, err := imapClient.Select(s.cfg.Path, true); err != nil {
			return err
		}

		idleClient := idle.NewClient(imapClient)
		idleClient.LogoutTimeout = time.Duration(s.cfg.RenewInterval) * time.Second

		updates := make(chan client.Update, 16)
		imapClient.Updates = updates

		done := make(chan error, 1)
		stop := make(chan struct{})
		go func() {
			done <- idleClient.Idle(stop)
			imapClient.Updates = nil
		}()

		session = &idleSession{updates: updates, done: done, stop: stop}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// leaveIdle stops the IDLE command and waits briefly for it to wind down, so
// the session is usable for the next harvest pass.
func (s *ImapIdleSource) leaveIdle(log *slog.Logger, conn *imapConnection, session *idleSession) {
	close(session.stop)
	select {
	case <-session.done:
		log.Debug("IDLE command finished")
	case <-time.After(5 * time.Second):
		log.Warn("IDLE command did not finish in time, resetting connection")
		conn.close()
	}
}
