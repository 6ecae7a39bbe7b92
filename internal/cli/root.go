// Package cli implements the reflex command line: serve, validate, and
// version.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the reflex CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "reflex",
		Short:         "Reflex rule engine",
		Long:          "Reflex evaluates declarative rules over events and facts:\ntriggers, conditions, ordered actions, timers, and temporal patterns.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
