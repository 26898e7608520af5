package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const sampleConfig = `{
    "sources": {
        "mymailbox": {
            "type": "imap_idle",
            "server": "imap.example.org",
            "port": 993,
            "path": "INBOX",
            "renewinterval": 1200,
            "keep": false,
            "auth": { "type": "login", "user": "user@example.org", "password": "secret" }
        }
    },
    "destinations": {
        "myrelay": {
            "type": "smtp",
            "server": "smtp.example.org",
            "port": 465,
            "encryption": "ssl",
            "auth": { "type": "plain", "user": "user@example.org", "password": "secret" },
            "recipient": "target@example.org"
        }
    },
    "mappings": {
        "mymailbox": ["myrelay"]
    },
    "retryagent": {
        "type": "filesystem",
        "delay": 300,
        "path": "/var/lib/idlemail/retry"
    }
}
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample config.json to get started",
	RunE: func(_ *cobra.Command, _ []string) error {
		configFile := "config.json"

		if _, err := os.Stat(configFile); err == nil {
			fmt.Println("config.json already exists, not overwriting.")
			return nil
		}

		if err := os.WriteFile(configFile, []byte(sampleConfig), 0o600); err != nil {
			return fmt.Errorf("failed to write config.json: %w", err)
		}

		fmt.Println("config.json created. Adjust servers, credentials and the retry path, then run:")
		fmt.Println("  idlemail config.json")
		return nil
	},
}
