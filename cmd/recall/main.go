package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "recall",
		Short:   "Recall — content-addressed cache for LLM responses",
		Version: version,
	}

	root.AddCommand(
		newStatsCmd(),
		newKeysCmd(),
		newGetCmd(),
		newRmCmd(),
		newExportCmd(),
		newImportCmd(),
		newMigrateCmd(),
		newSyncCmd(),
		newMCPCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
