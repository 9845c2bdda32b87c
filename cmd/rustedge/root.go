package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// dataDir is the directory every subcommand opens the store against.
var dataDir string

var rootCmd = &cobra.Command{
	Use:   "rustedge",
	Short: "A command-line client for the rustedge embeddable key-value store.",
	Long: `rustedge is a command-line interface for an embeddable LSM-tree
key-value store. Each invocation opens the store at --data, performs
one operation, and closes it again.`,
}

// Execute runs the root command. Called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "./data", "data directory for the store")

	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(demoCmd)
}
