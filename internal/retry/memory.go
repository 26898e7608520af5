// Package retry implements the two retry-agent backends: a volatile
// in-memory queue and a durable on-disk queue. Both buffer failed
// deliveries, re-emit them into the hub after a fixed delay, and support a
// suspend request that halts re-emission while keeping intake open for the
// shutdown flush.
package retry

import (
	"log/slog"
	"time"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// queuedMail is one pending retry. The queue stays ordered by ascending due
// time because every entry shares the same delay offset.
type queuedMail struct {
	dueTime time.Time
	dstname string
	mail    hub.Mail
}

// MemoryAgent buffers failed deliveries in memory. Pending retries are lost
// when the daemon stops.
type MemoryAgent struct {
	delay time.Duration
	done  chan struct{}
}

// NewMemoryAgent creates the volatile retry agent.
func NewMemoryAgent(cfg *config.MemoryRetryAgentConfig) *MemoryAgent {
	return &MemoryAgent{
		delay: time.Duration(cfg.Delay) * time.Second,
		done:  make(chan struct{}),
	}
}

// Start launches the agent goroutine.
func (a *MemoryAgent) Start(channel *hub.RetryAgentChannel) {
	log := slog.With("component", "retry[memory]")
	log.Info("Starting")

	go func() {
		defer close(a.done)

		var queue []queuedMail
		suspended := false

		for {
			// Bounded receive so due-time checks run at least once a second.
			select {
			case msg, ok := <-channel.Control():
				if !ok {
					log.Info("Stopping")
					return
				}
				switch m := msg.(type) {
				case hub.QueueRetryMessage:
					log.Info("Queueing mail for retransmission",
						"destination", m.DstName, "hash", m.Mail.Hash, "delay", a.delay)
					queue = append(queue, queuedMail{
						dueTime: time.Now().Add(a.delay),
						dstname: m.DstName,
						mail:    m.Mail,
					})
				case hub.SuspendMessage:
					log.Info("Suspending retransmissions")
					suspended = true
					channel.NotifySuspended()
				}
			case <-time.After(time.Second):
			}

			if suspended {
				continue
			}

			// The entries are stored in arrival order; if the first is not
			// due, neither is anything behind it.
			now := time.Now()
			for len(queue) > 0 && queue[0].dueTime.Before(now) {
				entry := queue[0]
				queue = queue[1:]
				log.Info("Mail due for retransmission",
					"destination", entry.dstname, "hash", entry.mail.Hash)
				channel.NotifyRetryMail(entry.dstname, entry.mail)
			}
		}
	}()
}

// Join blocks until the agent goroutine has exited.
func (a *MemoryAgent) Join() {
	<-a.done
}
