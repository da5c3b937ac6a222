package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recall-ai/recall/pkg/handler"
	"github.com/recall-ai/recall/pkg/remote"
)

func newSyncCmd() *cobra.Command {
	var (
		configPath  string
		cachePath   string
		description string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the cache with the remote cache server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Remote.Enabled() {
				return fmt.Errorf("no remote cache server configured; set remote.url in the config file")
			}
			logger := newLogger(cfg)

			c, err := handler.New(cfg, logger).Open(cachePath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			client := remote.NewHTTPClient(cfg.Remote, logger)
			sess := remote.NewSession(c, client, logger, remote.WithDescription(description))
			if err := sess.Begin(cmd.Context()); err != nil {
				return err
			}
			if err := sess.Close(cmd.Context()); err != nil {
				return err
			}

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Cache synchronized: %d entries (session %s).\n", stats.Entries, sess.ID())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	cmd.Flags().StringVar(&description, "description", "", "label attached to entries uploaded by this sync")
	return cmd
}
