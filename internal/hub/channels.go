package hub

import "time"

// Message is one item on the hub inbox. The concrete kinds are the five
// exported structs below plus the hub-internal drain marker; the hub's
// routing loop type-switches over them.
type Message interface {
	hubMessage()
}

// NewMailMessage is posted by a source for every harvested mail.
type NewMailMessage struct {
	SrcName string
	Mail    Mail
}

// DeliveryFailedMessage is posted by a destination after a transient
// delivery failure.
type DeliveryFailedMessage struct {
	DstName string
	Mail    Mail
}

// RetryMailMessage is posted by the retry agent once a queued mail is due.
type RetryMailMessage struct {
	DstName string
	Mail    Mail
}

// ShutdownMessage is posted by the signal observer (or a test harness) to
// initiate the ordered shutdown.
type ShutdownMessage struct{}

// RetryAgentSuspendedMessage acknowledges a previously sent suspend request.
type RetryAgentSuspendedMessage struct{}

// drainMarkerMessage bounds the shutdown drain when no retry agent (and
// therefore no suspension ack) is configured.
type drainMarkerMessage struct{}

func (NewMailMessage) hubMessage()             {}
func (drainMarkerMessage) hubMessage()         {}
func (DeliveryFailedMessage) hubMessage()      {}
func (RetryMailMessage) hubMessage()           {}
func (ShutdownMessage) hubMessage()            {}
func (RetryAgentSuspendedMessage) hubMessage() {}

// RetryMessage is one item on the retry-agent control channel.
type RetryMessage interface {
	retryMessage()
}

// QueueRetryMessage hands a failed delivery to the retry agent.
type QueueRetryMessage struct {
	DstName string
	Mail    Mail
}

// SuspendMessage tells the retry agent to stop re-emitting while continuing
// to accept intake.
type SuspendMessage struct{}

func (QueueRetryMessage) retryMessage() {}
func (SuspendMessage) retryMessage()    {}

// SourceChannel is the source-side endpoint handed to a source at start. It
// carries new-mail notifications towards the hub and exposes the stop signal,
// which is the closure of the control channel.
type SourceChannel struct {
	srcname string
	hub     *Queue[Message]
	ctrl    <-chan struct{}
}

// NewSourceChannel builds the endpoint for the named source.
func NewSourceChannel(srcname string, hub *Queue[Message], ctrl <-chan struct{}) *SourceChannel {
	return &SourceChannel{srcname: srcname, hub: hub, ctrl: ctrl}
}

// NotifyNewMail posts the mail on the hub inbox.
func (c *SourceChannel) NotifyNewMail(mail Mail) {
	c.hub.Push(NewMailMessage{SrcName: c.srcname, Mail: mail})
}

// Stopped is closed when the hub asks the source to wind down. Sources that
// multiplex the stop signal with their own I/O select on it directly.
func (c *SourceChannel) Stopped() <-chan struct{} {
	return c.ctrl
}

// NextTimeout waits up to d for the stop signal. It returns true when the
// source should exit, false when the timeout elapsed. Polling sources use it
// as both their inter-poll sleep and their stop check.
func (c *SourceChannel) NextTimeout(d time.Duration) bool {
	select {
	case <-c.ctrl:
		return true
	case <-time.After(d):
		return false
	}
}

// DestinationChannel is the destination-side endpoint handed to a
// destination at start: its mail inbox plus the failure path back to the hub.
type DestinationChannel struct {
	dstname string
	hub     *Queue[Message]
	inbox   *Queue[Mail]
}

// NewDestinationChannel builds the endpoint for the named destination.
func NewDestinationChannel(dstname string, hub *Queue[Message], inbox *Queue[Mail]) *DestinationChannel {
	return &DestinationChannel{dstname: dstname, hub: hub, inbox: inbox}
}

// Mails yields queued deliveries in FIFO order. The channel closes once the
// hub has closed the inbox and the destination has drained it; the
// destination must process every received mail before exiting.
func (c *DestinationChannel) Mails() <-chan Mail {
	return c.inbox.Receive()
}

// NotifyFailedSend reports a transient delivery failure to the hub.
func (c *DestinationChannel) NotifyFailedSend(mail Mail) {
	c.hub.Push(DeliveryFailedMessage{DstName: c.dstname, Mail: mail})
}

// RetryAgentChannel is the retry-agent-side endpoint: its control queue plus
// the re-emission path back to the hub.
type RetryAgentChannel struct {
	hub  *Queue[Message]
	ctrl *Queue[RetryMessage]
}

// NewRetryAgentChannel builds the retry-agent endpoint.
func NewRetryAgentChannel(hub *Queue[Message], ctrl *Queue[RetryMessage]) *RetryAgentChannel {
	return &RetryAgentChannel{hub: hub, ctrl: ctrl}
}

// Control yields control messages in FIFO order. Closure of the channel is
// the terminate signal, from either agent state.
func (c *RetryAgentChannel) Control() <-chan RetryMessage {
	return c.ctrl.Receive()
}

// NotifyRetryMail re-emits a due mail into the hub.
func (c *RetryAgentChannel) NotifyRetryMail(dstname string, mail Mail) {
	c.hub.Push(RetryMailMessage{DstName: dstname, Mail: mail})
}

// NotifySuspended acknowledges a suspend request.
func (c *RetryAgentChannel) NotifySuspended() {
	c.hub.Push(RetryAgentSuspendedMessage{})
}

// Source produces mails from an external inbox. Start launches the worker
// goroutine and returns immediately; Join blocks until it has exited. A
// source terminates only on closure of its control channel, never
// spontaneously on error.
type Source interface {
	Start(channel *SourceChannel)
	Join()
}

// Destination consumes mails and delivers them to an external sink. It
// drains its inbox to completion after closure and reports transient
// failures through the channel.
type Destination interface {
	Start(channel *DestinationChannel)
	Join()
}

// RetryAgent buffers failed deliveries and re-submits them after a fixed
// delay. It must acknowledge a suspend request promptly and keep accepting
// intake while suspended.
type RetryAgent interface {
	Start(channel *RetryAgentChannel)
	Join()
}
