package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/websift/websift/internal/cache"
	"github.com/websift/websift/internal/config"
)

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove expired documents from the harvest cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Cache.Path == "" {
				return fmt.Errorf("no cache configured")
			}

			store, err := cache.Open(cfg.Cache.Path, cfg.Cache.TTL)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Purge(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired documents\n", n)
			return nil
		},
	}
}
