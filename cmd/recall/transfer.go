package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var (
		configPath string
		cachePath  string
	)

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write the cache to a .jsonl or .db file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath, cachePath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.WriteFile(args[0]); err != nil {
				return err
			}
			n, err := c.Len()
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d entries to %s.\n", n, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	return cmd
}

func newImportCmd() *cobra.Command {
	var (
		configPath string
		cachePath  string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Merge a .jsonl or .db cache file into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath, cachePath)
			if err != nil {
				return err
			}
			defer cleanup()

			before, err := c.Len()
			if err != nil {
				return err
			}
			if err := c.AddFromFile(args[0], true); err != nil {
				return err
			}
			after, err := c.Len()
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d new entries from %s.\n", after-before, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	return cmd
}
