// Package executor runs a single pipeline phase end to end: resolve the
// phase configuration, build the role prompt, call the model, parse the
// response into an artifact, and record token usage.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/extract"
	"github.com/workforge/orchestrator/internal/llm"
	"github.com/workforge/orchestrator/internal/phases"
	"github.com/workforge/orchestrator/internal/prompt"
)

// userMessage is the fixed user turn sent with every phase prompt. The
// actual instructions live in the system prompt assembled per role.
const userMessage = "Please proceed with this phase."

// ConfigLoader resolves a phase name to its active configuration.
type ConfigLoader interface {
	Load(ctx context.Context, phaseName string) (*domain.PhaseConfig, error)
}

// PromptBuilder assembles the system prompt for a role, returning the
// rendered text and the id of the template used.
type PromptBuilder interface {
	Build(ctx context.Context, in prompt.Input) (string, string, error)
}

// ModelCaller performs one model invocation. It reports failure through
// the outcome rather than an error return.
type ModelCaller interface {
	Invoke(ctx context.Context, systemText, userText, modelID string, maxTokens int, temperature float64) llm.Outcome
}

// ResponseParser recovers structured data from raw model text.
type ResponseParser interface {
	Parse(text string) extract.Outcome
}

// UsageRecorder persists a usage record, best effort.
type UsageRecorder interface {
	Record(ctx context.Context, rec domain.UsageRecord) bool
}

// ModelParams are the invocation parameters applied to every phase call.
type ModelParams struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
}

// Executor coordinates the collaborators for one phase execution. It holds
// no pipeline state; callers own persistence and advancement.
type Executor struct {
	configs ConfigLoader
	prompts PromptBuilder
	model   ModelCaller
	parser  ResponseParser
	usage   UsageRecorder
	params  ModelParams
	logger  *slog.Logger
}

func New(configs ConfigLoader, prompts PromptBuilder, model ModelCaller, parser ResponseParser, usage UsageRecorder, params ModelParams, logger *slog.Logger) *Executor {
	return &Executor{
		configs: configs,
		prompts: prompts,
		model:   model,
		parser:  parser,
		usage:   usage,
		params:  params,
		logger:  logger,
	}
}

// Execute runs the named phase for a pipeline. The state and artifact maps
// are read-only inputs; Execute never mutates them. On success it returns
// the parsed artifact with routing metadata. Every failure comes back as
// one of the classified error kinds; panics are converted, never leaked.
func (e *Executor) Execute(ctx context.Context, pipelineID, phaseName, epicContext string, pipelineState, artifacts map[string]any) (result *domain.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("unexpected panic during phase execution",
				slog.String("pipeline_id", pipelineID),
				slog.String("phase_name", phaseName),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = &ExecutionError{
				PipelineID: pipelineID,
				PhaseName:  phaseName,
				Msg:        fmt.Sprintf("unexpected internal error: %v", r),
			}
		}
	}()

	e.logger.Info("executing phase",
		slog.String("pipeline_id", pipelineID),
		slog.String("phase_name", phaseName))

	cfg, err := e.configs.Load(ctx, phaseName)
	if err != nil {
		var cfgErr *phases.ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.PipelineID = pipelineID
			return nil, cfgErr
		}
		return nil, &ExecutionError{
			PipelineID: pipelineID,
			PhaseName:  phaseName,
			Msg:        fmt.Sprintf("loading phase configuration: %v", err),
			Err:        err,
		}
	}

	systemText, promptID, err := e.prompts.Build(ctx, prompt.Input{
		Role:          cfg.RoleName,
		PipelineID:    pipelineID,
		Phase:         phaseName,
		EpicContext:   epicContext,
		PipelineState: pipelineState,
		Artifacts:     artifacts,
	})
	if err != nil {
		return nil, &PromptBuildError{
			PipelineID: pipelineID,
			PhaseName:  phaseName,
			Msg:        fmt.Sprintf("building prompt for role %q: %v", cfg.RoleName, err),
			Err:        err,
		}
	}

	out := e.model.Invoke(ctx, systemText, userMessage, e.params.ModelID, e.params.MaxTokens, e.params.Temperature)
	if !out.Success {
		return nil, &ModelError{
			PipelineID: pipelineID,
			PhaseName:  phaseName,
			Msg:        fmt.Sprintf("model call failed: %s", out.Error),
		}
	}

	parsed := e.parser.Parse(out.RawText)
	if !parsed.Success {
		return nil, &ParseError{
			PipelineID:  pipelineID,
			PhaseName:   phaseName,
			Diagnostics: parsed.Diagnostics,
		}
	}

	e.usage.Record(ctx, domain.UsageRecord{
		PipelineID: pipelineID,
		PhaseName:  phaseName,
		RoleName:   cfg.RoleName,
		PromptID:   promptID,
	})

	e.logger.Info("phase executed",
		slog.String("pipeline_id", pipelineID),
		slog.String("phase_name", phaseName),
		slog.String("strategy", parsed.StrategyUsed),
		slog.Int64("elapsed_ms", out.ElapsedMS))

	return &domain.ExecutionResult{
		Artifact:     parsed.Data,
		ArtifactType: cfg.ArtifactType,
		NextPhase:    cfg.NextPhase,
		PromptID:     promptID,
		RawResponse:  out.RawText,
		ElapsedMS:    out.ElapsedMS,
	}, nil
}
