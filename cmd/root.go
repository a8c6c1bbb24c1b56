// Package cmd defines the CLI commands for the graild executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "graild",
		Short: "Local render and extract daemon.",
		Long: `graild renders pages in a shared headless browser, extracts readable
text and metadata, and writes the artifacts to a bounded on-disk run cache.
It listens on localhost and is meant to be driven by local tools.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newHealthCmd(&cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
