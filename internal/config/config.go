// Package config holds the daemon configuration: the sets of named sources
// and destinations, the source→destinations routing table, and the optional
// retry agent. The file is JSON; unknown fields and dangling references are
// rejected before the hub starts.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Config is the top-level configuration object.
type Config struct {
	Destinations map[string]DestinationConfig `json:"destinations"`
	Sources      map[string]SourceConfig      `json:"sources"`
	RetryAgent   *RetryAgentConfig            `json:"retryagent"`
	Mappings     map[string][]string          `json:"mappings"`
}

// Load reads, parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	var cfg Config
	if err := decodeStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks referential integrity of the mapping table and the
// filesystem retry agent's directory. Every mapping key must name a
// configured source, every mapping entry a configured destination, and every
// configured source must have a mapping.
func (c *Config) Validate() error {
	for srcname, dsts := range c.Mappings {
		if _, ok := c.Sources[srcname]; !ok {
			return fmt.Errorf("unknown source %q specified in mappings", srcname)
		}
		for _, dstname := range dsts {
			if _, ok := c.Destinations[dstname]; !ok {
				return fmt.Errorf("unknown destination %q specified in mappings", dstname)
			}
		}
	}
	for srcname := range c.Sources {
		if _, ok := c.Mappings[srcname]; !ok {
			return fmt.Errorf("source %q has no mapping", srcname)
		}
	}
	if c.RetryAgent != nil && c.RetryAgent.Filesystem != nil {
		info, err := os.Stat(c.RetryAgent.Filesystem.Path)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("filesystem retry agent: path %q does not exist", c.RetryAgent.Filesystem.Path)
		}
	}
	return nil
}

// decodeStrict unmarshals JSON while rejecting unknown fields. The tagged
// union types below funnel their variant payloads through it as well, so the
// whole file is checked field by field.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Auth holds the credentials shared by IMAP sources and the SMTP
// destination.
type Auth struct {
	Type     string
	User     string
	Password string
}

// UnmarshalJSON decodes the tagged auth object. "none" carries no
// credentials; "plain" and "login" require user and password.
func (a *Auth) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	switch tag.Type {
	case "none":
		var v struct {
			Type string `json:"type"`
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		*a = Auth{Type: v.Type}
	case "plain", "login":
		var v struct {
			Type     string `json:"type"`
			User     string `json:"user"`
			Password string `json:"password"`
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		if v.User == "" || v.Password == "" {
			return fmt.Errorf("auth %q requires user and password", tag.Type)
		}
		*a = Auth{Type: v.Type, User: v.User, Password: v.Password}
	default:
		return fmt.Errorf("unknown auth type %q", tag.Type)
	}
	return nil
}

// Encryption selects the transport security of the SMTP destination.
type Encryption string

const (
	EncryptionNone     Encryption = "none"
	EncryptionSsl      Encryption = "ssl"
	EncryptionStarttls Encryption = "starttls"
)

// UnmarshalJSON rejects anything but the three known modes.
func (e *Encryption) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Encryption(s) {
	case EncryptionNone, EncryptionSsl, EncryptionStarttls:
		*e = Encryption(s)
		return nil
	}
	return fmt.Errorf("unknown encryption %q", s)
}

// TestSourceConfig emits a synthetic mail after Delay seconds and then every
// Interval seconds.
type TestSourceConfig struct {
	Delay    uint64 `json:"delay"`
	Interval uint64 `json:"interval"`
}

// ImapPollSourceConfig polls all mailboxes of an IMAP account every Interval
// seconds. Keep leaves harvested messages on the server.
type ImapPollSourceConfig struct {
	Server   string `json:"server"`
	Port     uint16 `json:"port"`
	Interval uint64 `json:"interval"`
	Keep     bool   `json:"keep"`
	Auth     Auth   `json:"auth"`
}

// ImapIdleSourceConfig waits for server notifications on the mailbox at
// Path, renewing the IDLE session every RenewInterval seconds.
type ImapIdleSourceConfig struct {
	Server        string `json:"server"`
	Port          uint16 `json:"port"`
	Path          string `json:"path"`
	RenewInterval uint64 `json:"renewinterval"`
	Keep          bool   `json:"keep"`
	Auth          Auth   `json:"auth"`
}

// SourceConfig is the tagged source variant; exactly one arm is set.
type SourceConfig struct {
	Type     string
	Test     *TestSourceConfig
	ImapPoll *ImapPollSourceConfig
	ImapIdle *ImapIdleSourceConfig
}

// UnmarshalJSON dispatches on the "type" tag and strict-decodes the matching
// variant payload.
func (c *SourceConfig) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	c.Type = tag.Type
	switch tag.Type {
	case "test":
		var v struct {
			Type string `json:"type"`
			TestSourceConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		c.Test = &v.TestSourceConfig
	case "imap_poll":
		var v struct {
			Type string `json:"type"`
			ImapPollSourceConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		if v.Server == "" || v.Port == 0 {
			return fmt.Errorf("imap_poll source requires server and port")
		}
		c.ImapPoll = &v.ImapPollSourceConfig
	case "imap_idle":
		var v struct {
			Type string `json:"type"`
			ImapIdleSourceConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		if v.Server == "" || v.Port == 0 {
			return fmt.Errorf("imap_idle source requires server and port")
		}
		if v.Path == "" {
			return fmt.Errorf("imap_idle source requires a mailbox path")
		}
		c.ImapIdle = &v.ImapIdleSourceConfig
	default:
		return fmt.Errorf("unknown source type %q", tag.Type)
	}
	return nil
}

// TestDestinationConfig simulates a sink that fails its first FailNFirst
// deliveries and succeeds afterwards.
type TestDestinationConfig struct {
	FailNFirst uint16 `json:"fail_n_first"`
}

// SmtpDestinationConfig relays mails verbatim to a fixed recipient through
// an SMTP server.
type SmtpDestinationConfig struct {
	Server     string     `json:"server"`
	Port       uint16     `json:"port"`
	Encryption Encryption `json:"encryption"`
	Auth       *Auth      `json:"auth"`
	Recipient  string     `json:"recipient"`
}

// ExecDestinationConfig pipes each mail into a spawned child process.
type ExecDestinationConfig struct {
	Executable  string            `json:"executable"`
	Arguments   []string          `json:"arguments"`
	Environment map[string]string `json:"environment"`
}

// DestinationConfig is the tagged destination variant; exactly one arm is
// set.
type DestinationConfig struct {
	Type string
	Test *TestDestinationConfig
	Smtp *SmtpDestinationConfig
	Exec *ExecDestinationConfig
}

// UnmarshalJSON dispatches on the "type" tag and strict-decodes the matching
// variant payload.
func (c *DestinationConfig) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	c.Type = tag.Type
	switch tag.Type {
	case "test":
		var v struct {
			Type string `json:"type"`
			TestDestinationConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		c.Test = &v.TestDestinationConfig
	case "smtp":
		var v struct {
			Type string `json:"type"`
			SmtpDestinationConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		if v.Server == "" || v.Port == 0 {
			return fmt.Errorf("smtp destination requires server and port")
		}
		if v.Encryption == "" {
			return fmt.Errorf("smtp destination requires an encryption mode")
		}
		if v.Recipient == "" {
			return fmt.Errorf("smtp destination requires a recipient")
		}
		c.Smtp = &v.SmtpDestinationConfig
	case "exec":
		var v struct {
			Type string `json:"type"`
			ExecDestinationConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		if v.Executable == "" {
			return fmt.Errorf("exec destination requires an executable")
		}
		c.Exec = &v.ExecDestinationConfig
	default:
		return fmt.Errorf("unknown destination type %q", tag.Type)
	}
	return nil
}

// MemoryRetryAgentConfig buffers failed deliveries in memory for Delay
// seconds. Pending retries are lost on restart.
type MemoryRetryAgentConfig struct {
	Delay uint64 `json:"delay"`
}

// FilesystemRetryAgentConfig persists failed deliveries as JSON files under
// Path and re-emits them Delay seconds after the failure.
type FilesystemRetryAgentConfig struct {
	Delay uint64 `json:"delay"`
	Path  string `json:"path"`
}

// RetryAgentConfig is the tagged retry-agent variant; exactly one arm is
// set.
type RetryAgentConfig struct {
	Type       string
	Memory     *MemoryRetryAgentConfig
	Filesystem *FilesystemRetryAgentConfig
}

// UnmarshalJSON dispatches on the "type" tag and strict-decodes the matching
// variant payload.
func (c *RetryAgentConfig) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	c.Type = tag.Type
	switch tag.Type {
	case "memory":
		var v struct {
			Type string `json:"type"`
			MemoryRetryAgentConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		c.Memory = &v.MemoryRetryAgentConfig
	case "filesystem":
		var v struct {
			Type string `json:"type"`
			FilesystemRetryAgentConfig
		}
		if err := decodeStrict(data, &v); err != nil {
			return err
		}
		c.Filesystem = &v.FilesystemRetryAgentConfig
	default:
		return fmt.Errorf("unknown retry agent type %q", tag.Type)
	}
	return nil
}
