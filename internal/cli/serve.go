package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/workforge/orchestrator/internal/server"
	"github.com/workforge/orchestrator/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator HTTP server",
	Long: `Start the REST API for creating pipelines, advancing them through the
phase graph, and inspecting their transition history and prompt usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.close()

		shutdown, err := telemetry.InitTracer("orchestrator", a.logger)
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				a.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()

		if err := a.buildEngine(); err != nil {
			return err
		}

		// Surface graph problems at startup but keep serving; a broken
		// graph still blocks advancement per pipeline.
		problems, err := a.configs.ValidateGraph(cmd.Context())
		if err != nil {
			return fmt.Errorf("validating phase graph: %w", err)
		}
		for _, p := range problems {
			a.logger.Warn("phase graph problem",
				slog.String("phase", p.Phase),
				slog.String("message", p.Message))
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = a.cfg.Server.Port
		}

		srv := server.New(port, a.logger)
		server.NewAPI(a.engine, a.configs).Mount(srv.Router)
		return srv.Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
}
