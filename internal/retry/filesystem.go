package retry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// retryFileRecord is the on-disk shape of one pending retry.
type retryFileRecord struct {
	DueTime     time.Time `json:"due_time"`
	DstName     string    `json:"dstname"`
	MailFromSrc string    `json:"mail_from_src"`
	MailData    []byte    `json:"mail_data"`
}

// queuedFileMail is one pending retry together with its backing file.
type queuedFileMail struct {
	queuedMail
	filePath string
}

// FilesystemAgent persists failed deliveries as JSON files in a flat
// directory. The directory is both the source of truth and the working set:
// files are loaded at start, written on intake and deleted after
// re-emission, so pending retries survive a restart.
type FilesystemAgent struct {
	delay time.Duration
	path  string
	done  chan struct{}
	log   *slog.Logger
}

// NewFilesystemAgent creates the durable retry agent. The directory must
// exist; configuration validation checks that before the hub starts.
func NewFilesystemAgent(cfg *config.FilesystemRetryAgentConfig) *FilesystemAgent {
	return &FilesystemAgent{
		delay: time.Duration(cfg.Delay) * time.Second,
		path:  cfg.Path,
		done:  make(chan struct{}),
		log:   slog.With("component", "retry[filesystem]"),
	}
}

// loadFromDisk parses every *.json file in the directory into the initial
// queue, sorted by due time. Unparseable files (a crash may leave a partial
// write behind) are logged and skipped.
func (a *FilesystemAgent) loadFromDisk() []queuedFileMail {
	entries, err := os.ReadDir(a.path)
	if err != nil {
		a.log.Error("Failed to list retry directory", "path", a.path, "error", err)
		return nil
	}

	var restored []queuedFileMail
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		filePath := filepath.Join(a.path, entry.Name())
		data, err := os.ReadFile(filePath)
		if err != nil {
			a.log.Error("Failed to open retry file", "file", filePath, "error", err)
			continue
		}
		var record retryFileRecord
		if err := json.Unmarshal(data, &record); err != nil {
			a.log.Error("Failed to parse retry file, skipping", "file", filePath, "error", err)
			continue
		}
		a.log.Info("Restored retry file", "file", filePath, "destination", record.DstName)
		restored = append(restored, queuedFileMail{
			queuedMail: queuedMail{
				dueTime: record.DueTime,
				dstname: record.DstName,
				mail:    hub.NewMailFromRFC822(record.MailFromSrc, record.MailData),
			},
			filePath: filePath,
		})
	}

	sort.Slice(restored, func(i, j int) bool {
		return restored[i].dueTime.Before(restored[j].dueTime)
	})
	return restored
}

// persist writes the entry to a fresh file, trying ten suffix indices so
// that the same mail failing repeatedly towards the same destination does
// not collide with its earlier files. Returns the chosen path.
func (a *FilesystemAgent) persist(dstname string, mail hub.Mail, dueTime time.Time) (string, error) {
	record := retryFileRecord{
		DueTime:     dueTime,
		DstName:     dstname,
		MailFromSrc: mail.FromSrc,
		MailData:    mail.Data,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return "", fmt.Errorf("failed to encode retry record: %w", err)
	}

	var lastErr error
	for i := 0; i < 10; i++ {
		filePath := filepath.Join(a.path, fmt.Sprintf("%s_to_%s-%d.json", mail.Hash, dstname, i))
		f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			lastErr = err
			continue
		}
		_, werr := f.Write(data)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			lastErr = fmt.Errorf("failed to write retry file %s: %w", filePath, werr)
			continue
		}
		return filePath, nil
	}
	return "", fmt.Errorf("no free retry file name for mail %s: %w", mail.Hash, lastErr)
}

// Start loads the pending retries from disk and launches the agent
// goroutine.
func (a *FilesystemAgent) Start(channel *hub.RetryAgentChannel) {
	a.log.Info("Loading pending retries", "path", a.path)
	restored := a.loadFromDisk()

	go func() {
		defer close(a.done)

		queue := restored
		suspended := false

		for {
			select {
			case msg, ok := <-channel.Control():
				if !ok {
					a.log.Info("Stopping")
					return
				}
				switch m := msg.(type) {
				case hub.QueueRetryMessage:
					dueTime := time.Now().Add(a.delay)
					a.log.Info("Queueing mail for retransmission",
						"destination", m.DstName, "hash", m.Mail.Hash, "delay", a.delay)
					filePath, err := a.persist(m.DstName, m.Mail, dueTime)
					if err != nil {
						// Best effort: without a file the mail would be lost
						// on restart, but it still gets its in-memory retry.
						a.log.Error("Failed to persist retry mail", "hash", m.Mail.Hash, "error", err)
					} else {
						a.log.Debug("Stored retry mail", "file", filePath)
					}
					queue = append(queue, queuedFileMail{
						queuedMail: queuedMail{dueTime: dueTime, dstname: m.DstName, mail: m.Mail},
						filePath:   filePath,
					})
				case hub.SuspendMessage:
					a.log.Info("Suspending retransmissions")
					suspended = true
					channel.NotifySuspended()
				}
			case <-time.After(time.Second):
			}

			if suspended {
				continue
			}

			now := time.Now()
			for len(queue) > 0 && queue[0].dueTime.Before(now) {
				entry := queue[0]
				queue = queue[1:]
				a.log.Info("Mail due for retransmission",
					"destination", entry.dstname, "hash", entry.mail.Hash)
				channel.NotifyRetryMail(entry.dstname, entry.mail)
				if entry.filePath == "" {
					continue
				}
				if err := os.Remove(entry.filePath); err != nil {
					a.log.Warn("Failed to delete retry file", "file", entry.filePath, "error", err)
				} else {
					a.log.Debug("Deleted retry file", "file", entry.filePath)
				}
			}
		}
	}()
}

// Join blocks until the agent goroutine has exited.
func (a *FilesystemAgent) Join() {
	<-a.done
}
