package destinations

import (
	"testing"
	"time"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

// dstHarness wires a destination to fresh queues so tests can feed its
// inbox and observe failure reports.
type dstHarness struct {
	inbox *hub.Queue[hub.Message]
	mails *hub.Queue[hub.Mail]
}

func newDstHarness() *dstHarness {
	return &dstHarness{
		inbox: hub.NewQueue[hub.Message](),
		mails: hub.NewQueue[hub.Mail](),
	}
}

func (h *dstHarness) channel(dstname string) *hub.DestinationChannel {
	return hub.NewDestinationChannel(dstname, h.inbox, h.mails)
}

// expectFailure waits for one DeliveryFailed report.
func (h *dstHarness) expectFailure(t *testing.T, timeout time.Duration) hub.DeliveryFailedMessage {
	t.Helper()
	select {
	case msg := <-h.inbox.Receive():
		failed, ok := msg.(hub.DeliveryFailedMessage)
		if !ok {
			t.Fatalf("expected DeliveryFailedMessage, got %T", msg)
		}
		return failed
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for failure report")
		return hub.DeliveryFailedMessage{}
	}
}

// expectNoFailure asserts that no failure report arrives for the given
// duration.
func (h *dstHarness) expectNoFailure(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case msg := <-h.inbox.Receive():
		t.Fatalf("unexpected hub message %T", msg)
	case <-time.After(d):
	}
}

func sampleMail(src string) hub.Mail {
	return hub.NewMailFromRFC822(src, []byte("Subject: sample\r\n\r\nbody\r\n"))
}

func TestTestDestination_FailsFirstNThenSucceeds(t *testing.T) {
	t.Parallel()

	harness := newDstHarness()
	dst := NewTestDestination("dst", &config.TestDestinationConfig{FailNFirst: 2})
	dst.Start(harness.channel("dst"))

	mail := sampleMail("src")
	for i := 0; i < 3; i++ {
		harness.mails.Push(mail)
	}

	// Exactly the first two deliveries fail.
	first := harness.expectFailure(t, 2*time.Second)
	if first.DstName != "dst" || first.Mail.Hash != mail.Hash {
		t.Errorf("failure report carries wrong routing: %+v", first)
	}
	harness.expectFailure(t, 2*time.Second)
	harness.expectNoFailure(t, 500*time.Millisecond)

	harness.mails.Close()
	dst.Join()
}

func TestTestDestination_DrainsInboxOnClosure(t *testing.T) {
	t.Parallel()

	harness := newDstHarness()
	dst := NewTestDestination("dst", &config.TestDestinationConfig{FailNFirst: 5})
	dst.Start(harness.channel("dst"))

	mail := sampleMail("src")
	for i := 0; i < 5; i++ {
		harness.mails.Push(mail)
	}
	harness.mails.Close()

	// All five queued mails are still processed after closure.
	for i := 0; i < 5; i++ {
		harness.expectFailure(t, 2*time.Second)
	}
	dst.Join()
}
