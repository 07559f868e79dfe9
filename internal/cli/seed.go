package cli

import (
	"github.com/spf13/cobra"

	"github.com/workforge/orchestrator/internal/seed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the default phase graph, roles, and prompt templates",
	Long: `Install the standard six-phase delivery graph with its roles and one
active prompt template per role. Safe to run repeatedly: existing active
prompts are kept, phase and role definitions are refreshed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		return seed.Apply(cmd.Context(), a.store, a.logger)
	},
}
