package destinations

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/textproto"

	"github.com/emersion/go-message"
	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
	gomail "gopkg.in/gomail.v2"
)

// SmtpDestination relays each mail verbatim to the configured recipient. The
// envelope uses a null reverse-path, so delivery failures at the next hop do
// not bounce back into the harvested account.
type SmtpDestination struct {
	name string
	cfg  config.SmtpDestinationConfig
	done chan struct{}
}

// NewSmtpDestination creates the SMTP relay destination.
func NewSmtpDestination(name string, cfg *config.SmtpDestinationConfig) *SmtpDestination {
	return &SmtpDestination{name: name, cfg: *cfg, done: make(chan struct{})}
}

// rawMessage lets gomail send pre-rendered RFC 822 bytes unchanged.
type rawMessage []byte

func (m rawMessage) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m)
	return int64(n), err
}

// Start launches the worker goroutine.
func (d *SmtpDestination) Start(channel *hub.DestinationChannel) {
	log := slog.With("component", "dst[smtp:"+d.name+"]")
	log.Info("Starting")

	dialer := gomail.NewDialer(d.cfg.Server, int(d.cfg.Port), "", "")
	if d.cfg.Auth != nil && d.cfg.Auth.Type != "none" {
		// gomail negotiates PLAIN or LOGIN based on what the server offers.
		dialer.Username = d.cfg.Auth.User
		dialer.Password = d.cfg.Auth.Password
	}
	switch d.cfg.Encryption {
	case config.EncryptionSsl:
		dialer.SSL = true
		dialer.TLSConfig = &tls.Config{ServerName: d.cfg.Server}
	case config.EncryptionStarttls:
		dialer.TLSConfig = &tls.Config{ServerName: d.cfg.Server}
	case config.EncryptionNone:
		// Cleartext; gomail still upgrades via STARTTLS if the server
		// happens to offer it.
	}

	go func() {
		defer close(d.done)

		for mail := range channel.Mails() {
			if err := d.send(dialer, mail); err != nil {
				if isPermanent(err) {
					log.Warn("The destination server does not accept this mail, will not try again",
						"hash", mail.Hash, "error", err)
					continue
				}
				log.Error("Error while sending mail", "hash", mail.Hash, "error", err)
				channel.NotifyFailedSend(mail)
				continue
			}
			log.Info("Successfully sent mail", "hash", mail.Hash, "subject", subjectOf(mail))
		}
		log.Info("Stopping")
	}()
}

// send dials the relay and submits one mail with a null sender envelope.
func (d *SmtpDestination) send(dialer *gomail.Dialer, mail hub.Mail) error {
	sender, err := dialer.Dial()
	if err != nil {
		return err
	}
	defer sender.Close()
	return sender.Send("", []string{d.cfg.Recipient}, rawMessage(mail.Data))
}

// Join blocks until the worker goroutine has exited.
func (d *SmtpDestination) Join() {
	<-d.done
}

// isPermanent reports whether the SMTP server answered with a 5xx reply.
// Those mails are dropped instead of queued, preventing a retry storm on
// mails the server will never accept.
func isPermanent(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 500 && protoErr.Code < 600
	}
	return false
}

// subjectOf extracts the Subject header for log lines; the raw bytes stay
// untouched.
func subjectOf(mail hub.Mail) string {
	entity, err := message.Read(bytes.NewReader(mail.Data))
	if err != nil {
		return ""
	}
	return entity.Header.Get("Subject")
}
