package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the phase graph for configuration problems",
	Long: `Walk the configured phase graph and report every problem found: roles
that do not resolve to an active role, successors with no configuration,
cycles, and chains that exceed the transition ceiling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		problems, err := a.configs.ValidateGraph(cmd.Context())
		if err != nil {
			return fmt.Errorf("validating phase graph: %w", err)
		}

		if len(problems) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "phase graph is valid")
			return nil
		}
		for _, p := range problems {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", p.Phase, p.Message)
		}
		return fmt.Errorf("phase graph has %d problem(s)", len(problems))
	},
}
