package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/handler"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Fold a legacy response database into the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfg.LegacyPath); os.IsNotExist(err) {
				fmt.Printf("No legacy database at %s.\n", cfg.LegacyPath)
				return nil
			}

			c, err := cache.FromLocalCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			migrated, err := handler.New(cfg, newLogger(cfg)).Migrate(c)
			if err != nil {
				return err
			}
			fmt.Printf("Migrated %d entries from %s.\n", migrated, cfg.LegacyPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	return cmd
}
