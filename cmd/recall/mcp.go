package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/recall-ai/recall/pkg/handler"
	"github.com/recall-ai/recall/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		configPath string
		cachePath  string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the cache as MCP tools over stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			c, err := handler.New(cfg, logger).Open(cachePath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			srv := mcp.New(c, logger, version)
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	return cmd
}
