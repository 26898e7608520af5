// Package sources implements the inbound workers: two IMAP harvesters (poll
// and IDLE) and a synthetic test source. A source emits mails into the hub
// and terminates only when its control channel closes; I/O failures are
// retried locally and never surfaced to the hub.
package sources

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/meko-christian/idlemail/internal/config"
)

const (
	// maxAttempts bounds how often an IMAP operation is attempted, each
	// retry with a fresh session, before the error is handed to the caller.
	maxAttempts = 3
	// ioRetryDelay is the local backoff after a failed harvest pass.
	ioRetryDelay = 5 * time.Second
)

// imapConnection owns the one authenticated session a source reuses across
// poll and IDLE cycles. The session cell is nil while disconnected; every
// operation acquires it exclusively and a connection loss resets the cell so
// the next call reconnects. This is the only shared mutable state inside a
// source.
type imapConnection struct {
	server string
	port   uint16
	auth   config.Auth
	log    *slog.Logger

	mu      sync.Mutex
	session *client.Client
}

func newImapConnection(server string, port uint16, auth config.Auth, log *slog.Logger) *imapConnection {
	return &imapConnection{server: server, port: port, auth: auth, log: log}
}

// ensureSession connects and logs in if the cell is empty. Callers must hold
// the mutex.
func (c *imapConnection) ensureSession() (*client.Client, error) {
	if c.session != nil {
		return c.session, nil
	}

	address := fmt.Sprintf("%s:%d", c.server, c.port)
	tlsConfig := &tls.Config{ServerName: c.server}

	imapClient, err := client.DialTLS(address, tlsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	if err := imapClient.Login(c.auth.User, c.auth.Password); err != nil {
		_ = imapClient.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	c.session = imapClient
	return imapClient, nil
}

// reset throws away the cached session. Callers must hold the mutex.
func (c *imapConnection) reset() {
	if c.session == nil {
		return
	}
	_ = c.session.Logout()
	c.session = nil
}

// run executes fn against the live session, reconnecting and retrying for at
// most maxAttempts attempts in total. Any error invalidates the cached session, so a retry
// always starts from a fresh login.
func (c *imapConnection) run(fn func(*client.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		session, err := c.ensureSession()
		if err != nil {
			lastErr = err
			continue
		}
		if err := fn(session); err != nil {
			lastErr = err
			c.reset()
			continue
		}
		return nil
	}
	return fmt.Errorf("IMAP request failed: %w", lastErr)
}

// close logs out and drops the session.
func (c *imapConnection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// mailboxPath linearizes a mailbox name into a "/"-delimited absolute path,
// independent of the server's hierarchy delimiter.
func mailboxPath(info *imap.MailboxInfo) string {
	if info.Delimiter == "" {
		return info.Name
	}
	return strings.ReplaceAll(info.Name, info.Delimiter, "/")
}

// listMailboxes returns all mailboxes of the account whose path starts with
// filter; an empty filter matches everything.
func (c *imapConnection) listMailboxes(filter string) ([]string, error) {
	var names []string
	err := c.run(func(session *client.Client) error {
		infos := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- session.List("", "*", infos)
		}()

		names = names[:0]
		for info := range infos {
			if filter == "" || strings.HasPrefix(mailboxPath(info), filter) {
				names = append(names, info.Name)
			}
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// harvestMailbox fetches every unseen message of one mailbox, hands the raw
// bytes to notify, and batch-deletes the harvested messages unless keep is
// set. The fetch itself marks the messages seen, so keep leaves them behind
// without re-harvesting them on the next pass.
func (c *imapConnection) harvestMailbox(mailbox string, keep bool, notify func(data []byte)) error {
	return c.run(func(session *client.Client) error {
		if _, err := session.Select(mailbox, false); err != nil {
			return fmt.Errorf("failed to select %s: %w", mailbox, err)
		}

		criteria := imap.NewSearchCriteria()
		criteria.WithoutFlags = []string{imap.SeenFlag, imap.DeletedFlag}
		uids, err := session.UidSearch(criteria)
		if err != nil {
			return fmt.Errorf("failed to search %s: %w", mailbox, err)
		}
		if len(uids) == 0 {
			return nil
		}
		c.log.Debug("Unread mails found", "mailbox", mailbox, "count", len(uids))

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)
		section := &imap.BodySectionName{}
		items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

		messages := make(chan *imap.Message, len(uids))
		done := make(chan error, 1)
		go func() {
			done <- session.UidFetch(seqset, items, messages)
		}()

		harvested := new(imap.SeqSet)
		for msg := range messages {
			body := msg.GetBody(section)
			if body == nil {
				c.log.Warn("Message without body, skipping", "mailbox", mailbox, "uid", msg.Uid)
				continue
			}
			data, err := io.ReadAll(body)
			if err != nil {
				c.log.Warn("Failed to read message body, skipping", "mailbox", mailbox, "uid", msg.Uid, "error", err)
				continue
			}
			harvested.AddNum(msg.Uid)
			notify(data)
		}
		if err := <-done; err != nil {
			return fmt.Errorf("failed to fetch from %s: %w", mailbox, err)
		}

		if keep || harvested.Empty() {
			return nil
		}
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := session.UidStore(harvested, item, []any{imap.DeletedFlag}, nil); err != nil {
			return fmt.Errorf("failed to mark messages deleted in %s: %w", mailbox, err)
		}
		if err := session.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge %s: %w", mailbox, err)
		}
		return nil
	})
}

// harvest walks all matching mailboxes and forwards every unseen message.
func (c *imapConnection) harvest(filter string, keep bool, notify func(data []byte)) error {
	mailboxes, err := c.listMailboxes(filter)
	if err != nil {
		return err
	}
	for _, mailbox := range mailboxes {
		if err := c.harvestMailbox(mailbox, keep, notify); err != nil {
			return err
		}
	}
	return nil
}
