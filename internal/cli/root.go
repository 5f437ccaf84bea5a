// Package cli is the command tree of the bus-booking binary.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRoot returns the root command with every subcommand attached.
func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bus-booking",
		Short:         "Bus seat reservation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSweepCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newConsumeCmd())
	cmd.AddCommand(newTokenCmd())
	return cmd
}
