// Package cli implements the orchestrator command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "orchestrator — a configuration-driven phase execution engine",
	Long: `orchestrator advances epic pipelines through a configurable phase graph.
Each phase resolves a role, assembles a prompt from the pipeline's epic
context and prior artifacts, calls the model, and stores the JSON artifact
it produces. The phase graph, roles, and prompt templates all live in the
database and can be changed without redeploying.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to the configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(validateCmd)
}
