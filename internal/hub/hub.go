package hub

import (
	"fmt"
	"log/slog"
	"sync"
)

// Hub owns every worker, routes mails according to the configured
// source→destinations mapping, and orchestrates the ordered shutdown. All
// cross-worker communication runs through the channel fabric anchored here;
// no worker holds a reference to another worker.
type Hub struct {
	sources      map[string]Source
	destinations map[string]Destination
	retry        RetryAgent

	mappings map[string][]string

	inbox     *Queue[Message]
	srcCtrl   map[string]chan struct{}
	dstInbox  map[string]*Queue[Mail]
	retryCtrl *Queue[RetryMessage]

	stopOnce sync.Once
}

// New creates an empty hub for the given routing table. Workers are added
// with AddSource/AddDestination/SetRetryAgent before Run; the registries are
// never modified afterwards.
func New(mappings map[string][]string) *Hub {
	return &Hub{
		sources:      make(map[string]Source),
		destinations: make(map[string]Destination),
		mappings:     mappings,
		inbox:        NewQueue[Message](),
		srcCtrl:      make(map[string]chan struct{}),
		dstInbox:     make(map[string]*Queue[Mail]),
	}
}

// AddSource registers a source under its configured name.
func (h *Hub) AddSource(name string, src Source) {
	h.sources[name] = src
	h.srcCtrl[name] = make(chan struct{}, 1)
}

// AddDestination registers a destination under its configured name.
func (h *Hub) AddDestination(name string, dst Destination) {
	h.destinations[name] = dst
	h.dstInbox[name] = NewQueue[Mail]()
}

// SetRetryAgent registers the optional retry agent.
func (h *Hub) SetRetryAgent(agent RetryAgent) {
	h.retry = agent
	h.retryCtrl = NewQueue[RetryMessage]()
}

// Stop initiates the ordered shutdown. It is safe to call from any
// goroutine and idempotent under repeated signals.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.inbox.Push(ShutdownMessage{})
	})
}

// Run starts all workers, executes the routing loop until a shutdown is
// requested, and then winds the system down phase by phase. It returns once
// every worker has been joined.
func (h *Hub) Run() {
	log := slog.With("component", "hub")
	log.Info("Starting")

	// Destinations first, so their inboxes exist before anything can emit;
	// then the retry agent, so delivery failures have a receiver; sources
	// last.
	for name, dst := range h.destinations {
		log.Info("Starting destination", "destination", name)
		dst.Start(NewDestinationChannel(name, h.inbox, h.dstInbox[name]))
	}
	if h.retry != nil {
		log.Info("Starting retry agent")
		h.retry.Start(NewRetryAgentChannel(h.inbox, h.retryCtrl))
	}
	for name, src := range h.sources {
		log.Info("Starting source", "source", name)
		src.Start(NewSourceChannel(name, h.inbox, h.srcCtrl[name]))
	}

	log.Info("Entering distribution loop")
	for msg := range h.inbox.Receive() {
		if _, ok := msg.(ShutdownMessage); ok {
			break
		}
		h.dispatch(log, msg)
	}
	log.Info("Exited distribution loop, shutting down")

	// Phase 1: stop sources. Afterwards no further NewMail can arrive.
	for name := range h.sources {
		log.Info("Stopping source", "source", name)
		close(h.srcCtrl[name])
	}
	for name, src := range h.sources {
		src.Join()
		log.Debug("Source stopped", "source", name)
	}

	// Phase 2: suspend the retry agent and drain the inbox until it
	// acknowledges. Messages consumed here are dispatched normally, so any
	// in-flight retry, and any mail a source emitted while the shutdown
	// request was already queued, still reaches its destination. Without a
	// retry agent a marker posted after the sources joined bounds the same
	// drain.
	if h.retry != nil {
		log.Info("Suspending retry agent")
		h.retryCtrl.Push(SuspendMessage{})
	} else {
		h.inbox.Push(drainMarkerMessage{})
	}
	for msg := range h.inbox.Receive() {
		if _, ok := msg.(RetryAgentSuspendedMessage); ok {
			break
		}
		if _, ok := msg.(drainMarkerMessage); ok {
			break
		}
		h.dispatch(log, msg)
	}
	log.Debug("Inbox drained", "retry_agent_suspended", h.retry != nil)

	// Phase 3: stop destinations. Each one drains its inbox to completion
	// before exiting; failures raised during that drain land on the hub
	// inbox and are flushed below.
	for name := range h.destinations {
		log.Info("Stopping destination", "destination", name)
		h.dstInbox[name].Close()
	}
	for name, dst := range h.destinations {
		dst.Join()
		log.Debug("Destination stopped", "destination", name)
	}

	// Phase 4: flush. Every producer has stopped now, so closing the inbox
	// and draining it consumes exactly the leftovers. Delivery failures are
	// still forwarded to the (suspended) retry agent, which persists them
	// for the next start on the durable backend.
	h.inbox.Close()
	for msg := range h.inbox.Receive() {
		h.flush(log, msg)
	}

	// Phase 5: stop the retry agent.
	if h.retry != nil {
		log.Info("Stopping retry agent")
		h.retryCtrl.Close()
		h.retry.Join()
	}

	log.Info("Shutdown complete")
}

// dispatch handles one inbox message during the steady state and the
// suspend drain.
func (h *Hub) dispatch(log *slog.Logger, msg Message) {
	switch m := msg.(type) {
	case NewMailMessage:
		log.Info("Mail from source", "source", m.SrcName, "hash", m.Mail.Hash)
		for _, dstname := range h.mappings[m.SrcName] {
			log.Info("Distributing mail", "source", m.SrcName, "destination", dstname)
			h.deliver(dstname, m.Mail)
		}
	case DeliveryFailedMessage:
		if h.retry == nil {
			log.Warn("Delivery failed and no retry agent configured, dropping mail",
				"destination", m.DstName, "hash", m.Mail.Hash)
			return
		}
		h.retryCtrl.Push(QueueRetryMessage{DstName: m.DstName, Mail: m.Mail})
	case RetryMailMessage:
		// The retry agent already applied the delay; redeliver right away.
		log.Info("Redelivering mail", "destination", m.DstName, "hash", m.Mail.Hash)
		h.deliver(m.DstName, m.Mail)
	case RetryAgentSuspendedMessage:
		// Only expected while draining towards the suspend ack.
		log.Warn("Unexpected retry agent suspension ack")
	case ShutdownMessage:
		// A repeated signal during the drain; the shutdown is already
		// underway.
	}
}

// flush handles the messages left on the inbox after destinations have
// stopped. By then only delivery failures (and repeated shutdown requests)
// can remain.
func (h *Hub) flush(log *slog.Logger, msg Message) {
	switch m := msg.(type) {
	case DeliveryFailedMessage:
		if h.retry == nil {
			log.Warn("Delivery failed during shutdown and no retry agent configured, dropping mail",
				"destination", m.DstName, "hash", m.Mail.Hash)
			return
		}
		h.retryCtrl.Push(QueueRetryMessage{DstName: m.DstName, Mail: m.Mail})
	case ShutdownMessage:
	default:
		log.Warn("Unexpected message during shutdown flush", "message", fmt.Sprintf("%T", msg))
	}
}

// deliver puts a mail on the named destination's inbox. Configuration
// validation guarantees the destination exists; a miss here is a bug, not a
// runtime condition.
func (h *Hub) deliver(dstname string, mail Mail) {
	inbox, ok := h.dstInbox[dstname]
	if !ok {
		panic(fmt.Sprintf("hub: dispatch to unknown destination %q", dstname))
	}
	inbox.Push(mail)
}
