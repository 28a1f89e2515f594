package app

import (
	"github.com/spf13/cobra"
)

// NewDefuzzCommand creates the root command for the defuzz tool: the outer
// CLI orchestrating BatchSupervisor ("run") and Recheck ("recheck") over a
// target library's candidate queue.
func NewDefuzzCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "defuzz",
		Short: "Orchestrates the fuzz-driver sanitization and corpus-evolution pipeline.",
		Long:  `DeFuzz drives candidate fuzz drivers through sanitization and evolves a shared corpus from the ones that pass.`,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewRecheckCommand())

	return cmd
}
