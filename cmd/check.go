package cmd

import (
	"fmt"

	"github.com/meko-christian/idlemail/internal/config"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <config.json>",
	Short: "Parse and validate a configuration file without starting the daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Configuration OK: %d source(s), %d destination(s), %d mapping(s)\n",
			len(cfg.Sources), len(cfg.Destinations), len(cfg.Mappings))
		if cfg.RetryAgent != nil {
			fmt.Printf("Retry agent: %s\n", cfg.RetryAgent.Type)
		}
		return nil
	},
}
