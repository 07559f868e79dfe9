package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/workforge/orchestrator/internal/anthropic"
	"github.com/workforge/orchestrator/internal/audit"
	"github.com/workforge/orchestrator/internal/config"
	"github.com/workforge/orchestrator/internal/engine"
	"github.com/workforge/orchestrator/internal/executor"
	"github.com/workforge/orchestrator/internal/extract"
	"github.com/workforge/orchestrator/internal/llm"
	"github.com/workforge/orchestrator/internal/phases"
	"github.com/workforge/orchestrator/internal/prompt"
	"github.com/workforge/orchestrator/internal/storage"
)

// app bundles the wired components the commands share.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.Store
	configs *phases.Store
	engine  *engine.Service
}

// loadApp reads configuration and opens storage. Commands that only need
// the database stop here; serve wires the full engine via buildEngine.
func loadApp() (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config: %s\n", e.Error())
		}
		return nil, fmt.Errorf("configuration invalid: %d problem(s)", len(errs))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	store, err := storage.New(storage.Config{Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		configs: phases.NewStore(store, logger),
	}, nil
}

// buildEngine wires the executor and state machine on top of storage.
func (a *app) buildEngine() error {
	var clientOpts []anthropic.ClientOption
	if a.cfg.Anthropic.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(a.cfg.Anthropic.BaseURL))
	}
	client := anthropic.NewClient(a.cfg.Anthropic.APIKey, clientOpts...)

	assembler, err := prompt.NewAssembler(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("building prompt assembler: %w", err)
	}

	exec := executor.New(
		a.configs,
		assembler,
		llm.NewInvoker(client, a.logger),
		extract.NewDefault(a.logger),
		audit.NewRecorder(a.store, a.logger),
		executor.ModelParams{
			ModelID:     a.cfg.Anthropic.Model,
			MaxTokens:   a.cfg.Anthropic.MaxTokens,
			Temperature: a.cfg.Anthropic.Temperature,
		},
		a.logger,
	)

	a.engine = engine.New(a.store, exec, a.configs, a.cfg.Engine.DataDriven, a.logger)
	return nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
