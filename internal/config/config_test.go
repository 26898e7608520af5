package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func validConfig(t *testing.T, retryPath string) string {
	t.Helper()
	return `{
		"sources": {
			"inbox": {
				"type": "imap_idle",
				"server": "imap.example.org",
				"port": 993,
				"path": "INBOX",
				"renewinterval": 1200,
				"keep": false,
				"auth": {"type": "login", "user": "u", "password": "p"}
			},
			"poller": {
				"type": "imap_poll",
				"server": "imap.example.org",
				"port": 993,
				"interval": 300,
				"keep": true,
				"auth": {"type": "plain", "user": "u", "password": "p"}
			}
		},
		"destinations": {
			"relay": {
				"type": "smtp",
				"server": "smtp.example.org",
				"port": 465,
				"encryption": "ssl",
				"auth": {"type": "plain", "user": "u", "password": "p"},
				"recipient": "t@example.org"
			},
			"printer": {
				"type": "exec",
				"executable": "/usr/bin/lp",
				"arguments": ["-d", "office"],
				"environment": {"LC_ALL": "C"}
			}
		},
		"mappings": {
			"inbox": ["relay", "printer"],
			"poller": ["relay"]
		},
		"retryagent": {"type": "filesystem", "delay": 300, "path": "` + retryPath + `"}
	}`
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Parallel()

	retryDir := t.TempDir()
	cfg, err := Load(writeConfig(t, validConfig(t, retryDir)))
	if err != nil {
		t.Fatalf("failed to load valid config: %v", err)
	}

	if len(cfg.Sources) != 2 || len(cfg.Destinations) != 2 {
		t.Errorf("unexpected source/destination counts: %d/%d", len(cfg.Sources), len(cfg.Destinations))
	}

	idle := cfg.Sources["inbox"]
	if idle.Type != "imap_idle" || idle.ImapIdle == nil {
		t.Fatalf("inbox source not decoded as imap_idle: %+v", idle)
	}
	if idle.ImapIdle.RenewInterval != 1200 || idle.ImapIdle.Path != "INBOX" {
		t.Errorf("imap_idle fields wrong: %+v", idle.ImapIdle)
	}
	if idle.ImapIdle.Auth.Type != "login" || idle.ImapIdle.Auth.User != "u" {
		t.Errorf("auth not decoded: %+v", idle.ImapIdle.Auth)
	}

	smtp := cfg.Destinations["relay"]
	if smtp.Type != "smtp" || smtp.Smtp == nil || smtp.Smtp.Encryption != EncryptionSsl {
		t.Errorf("smtp destination not decoded: %+v", smtp)
	}

	exec := cfg.Destinations["printer"]
	if exec.Exec == nil || len(exec.Exec.Arguments) != 2 || exec.Exec.Environment["LC_ALL"] != "C" {
		t.Errorf("exec destination not decoded: %+v", exec)
	}

	if cfg.RetryAgent == nil || cfg.RetryAgent.Filesystem == nil || cfg.RetryAgent.Filesystem.Delay != 300 {
		t.Errorf("retry agent not decoded: %+v", cfg.RetryAgent)
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {"s": {"type": "test", "delay": 0, "interval": 1, "bogus": true}},
		"destinations": {"d": {"type": "test", "fail_n_first": 0}},
		"mappings": {"s": ["d"]}
	}`))
	if err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestLoad_RejectsUnknownTopLevelField(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {},
		"destinations": {},
		"mappings": {},
		"extra": 1
	}`))
	if err == nil {
		t.Fatalf("expected unknown top-level field to be rejected")
	}
}

func TestLoad_RejectsUnknownVariantTag(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {"s": {"type": "pop3", "delay": 0}},
		"destinations": {},
		"mappings": {}
	}`))
	if err == nil || !strings.Contains(err.Error(), "unknown source type") {
		t.Fatalf("expected unknown source type error, got %v", err)
	}
}

func TestLoad_RejectsDanglingDestination(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {"s": {"type": "test", "delay": 0, "interval": 1}},
		"destinations": {"d": {"type": "test", "fail_n_first": 0}},
		"mappings": {"s": ["d", "ghost"]}
	}`))
	if err == nil || !strings.Contains(err.Error(), "unknown destination") {
		t.Fatalf("expected dangling destination error, got %v", err)
	}
}

func TestLoad_RejectsDanglingSource(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {"s": {"type": "test", "delay": 0, "interval": 1}},
		"destinations": {"d": {"type": "test", "fail_n_first": 0}},
		"mappings": {"s": ["d"], "ghost": ["d"]}
	}`))
	if err == nil || !strings.Contains(err.Error(), "unknown source") {
		t.Fatalf("expected dangling source error, got %v", err)
	}
}

func TestLoad_RejectsUnmappedSource(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {"s": {"type": "test", "delay": 0, "interval": 1}},
		"destinations": {"d": {"type": "test", "fail_n_first": 0}},
		"mappings": {}
	}`))
	if err == nil || !strings.Contains(err.Error(), "has no mapping") {
		t.Fatalf("expected unmapped source error, got %v", err)
	}
}

func TestLoad_RejectsMissingRetryDirectory(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {},
		"destinations": {},
		"mappings": {},
		"retryagent": {"type": "filesystem", "delay": 10, "path": "/does/not/exist"}
	}`))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing retry directory error, got %v", err)
	}
}

func TestLoad_RejectsAuthWithoutCredentials(t *testing.T) {
	t.Parallel()

	_, err := Load(writeConfig(t, `{
		"sources": {"s": {
			"type": "imap_poll",
			"server": "imap.example.org",
			"port": 993,
			"interval": 60,
			"keep": false,
			"auth": {"type": "login", "user": "u"}
		}},
		"destinations": {},
		"mappings": {"s": []}
	}`))
	if err == nil || !strings.Contains(err.Error(), "requires user and password") {
		t.Fatalf("expected auth validation error, got %v", err)
	}
}
