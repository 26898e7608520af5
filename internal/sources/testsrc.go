package sources

import (
	"bytes"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// TestSource emits a synthetic multipart mail after an initial delay and
// then once per interval. It exists for end-to-end exercises of the routing
// and retry machinery without touching a real mailbox.
type TestSource struct {
	name string
	cfg  config.TestSourceConfig
	done chan struct{}
}

// NewTestSource creates the test source.
func NewTestSource(name string, cfg *config.TestSourceConfig) *TestSource {
	return &TestSource{name: name, cfg: *cfg, done: make(chan struct{})}
}

// Start launches the worker goroutine.
func (s *TestSource) Start(channel *hub.SourceChannel) {
	log := slog.With("component", "src[test:"+s.name+"]")
	log.Info("Starting")

	go func() {
		defer close(s.done)

		if channel.NextTimeout(time.Duration(s.cfg.Delay) * time.Second) {
			log.Info("Stopping")
			return
		}
		for {
			data, err := buildTestMail()
			if err != nil {
				log.Error("Failed to build test mail", "error", err)
			} else {
				log.Info("Emitting test mail")
				channel.NotifyNewMail(hub.NewMailFromRFC822(s.name, data))
			}
			if channel.NextTimeout(time.Duration(s.cfg.Interval) * time.Second) {
				log.Info("Stopping")
				return
			}
		}
	}()
}

// Join blocks until the worker goroutine has exited.
func (s *TestSource) Join() {
	<-s.done
}

// buildTestMail renders a small multipart/alternative message with a plain
// and an HTML body.
func buildTestMail() ([]byte, error) {
	var buf bytes.Buffer

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: "sender@example.org"}})
	header.SetAddressList("To", []*mail.Address{{Address: "receiver@example.org"}})
	header.SetSubject("Test Email")

	inline, err := mail.CreateInlineWriter(&buf, header)
	if err != nil {
		return nil, err
	}

	var textHeader mail.InlineHeader
	textHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	textPart, err := inline.CreatePart(textHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(textPart, "text/plain"); err != nil {
		return nil, err
	}
	_ = textPart.Close()

	var htmlHeader mail.InlineHeader
	htmlHeader.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	htmlPart, err := inline.CreatePart(htmlHeader)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(htmlPart, "<b>text/html</b>"); err != nil {
		return nil, err
	}
	_ = htmlPart.Close()

	_ = inline.Close()

	return buf.Bytes(), nil
}
