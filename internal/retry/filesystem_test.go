package retry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/meko-christian/idlemail/internal/hub"
)

func listRetryFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		t.Fatalf("failed to list retry files: %v", err)
	}
	return matches
}

func TestFilesystemAgent_PersistsBeforeDue(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	harness := newAgentHarness()
	agent := NewFilesystemAgent(&config.FilesystemRetryAgentConfig{Delay: 60, Path: dir})
	agent.Start(harness.channel())

	mail := testMail("src")
	harness.ctrl.Push(hub.QueueRetryMessage{DstName: "dst", Mail: mail})

	// The file must exist long before the 60s delay elapses.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(listRetryFiles(t, dir)) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	files := listRetryFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("expected one retry file, got %v", files)
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("failed to read retry file: %v", err)
	}
	var record retryFileRecord
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("retry file is not valid JSON: %v", err)
	}
	if record.DstName != "dst" || record.MailFromSrc != "src" {
		t.Errorf("retry record carries wrong routing: %+v", record)
	}
	if string(record.MailData) != string(mail.Data) {
		t.Errorf("retry record carries wrong mail bytes")
	}

	harness.ctrl.Close()
	agent.Join()
}

func TestFilesystemAgent_DeletesFileAfterReemission(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	harness := newAgentHarness()
	agent := NewFilesystemAgent(&config.FilesystemRetryAgentConfig{Delay: 1, Path: dir})
	agent.Start(harness.channel())

	harness.ctrl.Push(hub.QueueRetryMessage{DstName: "dst", Mail: testMail("src")})

	msg := harness.expectMessage(t, 5*time.Second)
	if _, ok := msg.(hub.RetryMailMessage); !ok {
		t.Fatalf("expected RetryMailMessage, got %T", msg)
	}

	// File removal happens right after the re-emission.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(listRetryFiles(t, dir)) == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if files := listRetryFiles(t, dir); len(files) != 0 {
		t.Errorf("expected retry file to be deleted, still present: %v", files)
	}

	harness.ctrl.Close()
	agent.Join()
}

func TestFilesystemAgent_RestoresPendingFilesOnStart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mail := testMail("restored")

	// Simulate the leftovers of a crashed run: one due record and one file
	// of garbage.
	record := retryFileRecord{
		DueTime:     time.Now().Add(-time.Second),
		DstName:     "dst",
		MailFromSrc: mail.FromSrc,
		MailData:    mail.Data,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		t.Fatalf("failed to encode record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, mail.Hash+"_to_dst-0.json"), data, 0o644); err != nil {
		t.Fatalf("failed to write retry file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to write broken file: %v", err)
	}

	harness := newAgentHarness()
	agent := NewFilesystemAgent(&config.FilesystemRetryAgentConfig{Delay: 60, Path: dir})
	agent.Start(harness.channel())

	msg := harness.expectMessage(t, 5*time.Second)
	retryMsg, ok := msg.(hub.RetryMailMessage)
	if !ok {
		t.Fatalf("expected RetryMailMessage, got %T", msg)
	}
	if retryMsg.DstName != "dst" {
		t.Errorf("unexpected destination %q", retryMsg.DstName)
	}
	if retryMsg.Mail.FromSrc != "restored" {
		t.Errorf("restored mail carries wrong origin %q", retryMsg.Mail.FromSrc)
	}
	if string(retryMsg.Mail.Data) != string(mail.Data) {
		t.Errorf("restored mail bytes differ")
	}

	// The broken file stays behind untouched; the restored one is gone.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(listRetryFiles(t, dir)) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	files := listRetryFiles(t, dir)
	if len(files) != 1 || filepath.Base(files[0]) != "broken.json" {
		t.Errorf("expected only broken.json to remain, got %v", files)
	}

	harness.ctrl.Close()
	agent.Join()
}

func TestFilesystemAgent_SuspendedIntakeStillPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	harness := newAgentHarness()
	agent := NewFilesystemAgent(&config.FilesystemRetryAgentConfig{Delay: 1, Path: dir})
	agent.Start(harness.channel())

	harness.ctrl.Push(hub.SuspendMessage{})
	msg := harness.expectMessage(t, 2*time.Second)
	if _, ok := msg.(hub.RetryAgentSuspendedMessage); !ok {
		t.Fatalf("expected suspension ack, got %T", msg)
	}

	// Intake during suspension is persisted for the next start but never
	// re-emitted.
	harness.ctrl.Push(hub.QueueRetryMessage{DstName: "dst", Mail: testMail("src")})
	harness.expectSilence(t, 3*time.Second)

	if files := listRetryFiles(t, dir); len(files) != 1 {
		t.Errorf("expected one persisted retry file, got %v", files)
	}

	harness.ctrl.Close()
	agent.Join()
}

func TestFilesystemAgent_CollisionSuffixes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	harness := newAgentHarness()
	agent := NewFilesystemAgent(&config.FilesystemRetryAgentConfig{Delay: 60, Path: dir})
	agent.Start(harness.channel())

	// Same mail failing towards the same destination three times must
	// produce three distinct files.
	mail := testMail("src")
	for i := 0; i < 3; i++ {
		harness.ctrl.Push(hub.QueueRetryMessage{DstName: "dst", Mail: mail})
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(listRetryFiles(t, dir)) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if files := listRetryFiles(t, dir); len(files) != 3 {
		t.Errorf("expected three retry files with distinct suffixes, got %v", files)
	}

	harness.ctrl.Close()
	agent.Join()
}
