package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidefall/reflex/internal/loader"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|dir>...",
		Short: "Validate rule files without running the engine",
		Long: `Validate rule files without running the engine.

Each argument is a rule file or a directory of rule files. Schema,
structure, and template instantiations are checked; nothing is loaded
into an engine.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args)
		},
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return err
		}
		if info.IsDir() {
			inputs, err := loader.LoadDir(arg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rule(s) valid\n", arg, len(inputs))
			continue
		}
		paths = append(paths, arg)
	}
	if len(paths) > 0 {
		inputs, err := loader.LoadPaths(paths)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rule(s) valid\n", len(inputs))
	}
	return nil
}
