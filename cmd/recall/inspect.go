package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/recall-ai/recall/pkg/cache"
	"github.com/recall-ai/recall/pkg/config"
	"github.com/recall-ai/recall/pkg/handler"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		cachePath  string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath, cachePath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Entries: %d\n", stats.Entries)

			counts, err := c.CountByModel()
			if err != nil {
				return err
			}
			if len(counts) > 0 {
				fmt.Print("\n" + formatModelCounts(counts))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	return cmd
}

func newKeysCmd() *cobra.Command {
	var (
		configPath string
		cachePath  string
	)

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "List all cache keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath, cachePath)
			if err != nil {
				return err
			}
			defer cleanup()

			keys, err := c.Keys()
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Println("Cache is empty.")
				return nil
			}
			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	return cmd
}

func newGetCmd() *cobra.Command {
	var (
		configPath string
		cachePath  string
		outputOnly bool
	)

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Show the cached entry for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath, cachePath)
			if err != nil {
				return err
			}
			defer cleanup()

			entry, err := c.Entry(args[0])
			if err != nil {
				return err
			}
			if outputOnly {
				fmt.Println(entry.Output)
				return nil
			}

			out, err := json.MarshalIndent(entry, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	cmd.Flags().BoolVar(&outputOnly, "output-only", false, "print only the model output")
	return cmd
}

func newRmCmd() *cobra.Command {
	var (
		configPath string
		cachePath  string
	)

	cmd := &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove a cached entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := openCache(configPath, cachePath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := c.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed %s.\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to recall config file")
	cmd.Flags().StringVar(&cachePath, "cache", "", "cache file to use instead of the configured one")
	return cmd
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func openCache(configPath, cachePath string) (*cache.Cache, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	c, err := handler.New(cfg, newLogger(cfg)).Open(cachePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}
	return c, func() { _ = c.Close() }, nil
}

func formatModelCounts(counts map[string]int64) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%-40s %8s\n", "MODEL", "COUNT")
	b.WriteString(strings.Repeat("-", 49) + "\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%-40s %8d\n", name, counts[name])
	}
	return b.String()
}
