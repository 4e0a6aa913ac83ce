// Package cmd implements the door-monitor command line.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/rdk-x5_smart-door/door-monitor/internal/version"
)

// rootCmd is the base command; running it without a subcommand serves.
var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	serve := newServeCommand()

	root := &cobra.Command{
		Use:          "door-monitor",
		Short:        "Door occupancy monitor with video spoofing alerts",
		Version:      version.Short(),
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newHashCommand(), newConfigCommand(), version.Command())
	return root
}

// Execute runs the door-monitor CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
