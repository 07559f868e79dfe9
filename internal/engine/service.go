// Package engine owns pipeline lifecycle: creation, phase advancement,
// and the explicit failed transition. Advancement is all or nothing; a
// failed phase execution leaves the pipeline record exactly as it was.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/phases"
	"github.com/workforge/orchestrator/internal/storage"
)

// ErrPipelineNotActive rejects advancement of complete or failed pipelines.
// The current phase of a finished pipeline is terminal; there is nothing
// left to execute.
var ErrPipelineNotActive = errors.New("phase is terminal: pipeline is not active")

// Store is the persistence surface the engine needs.
type Store interface {
	CreatePipeline(ctx context.Context, p *domain.Pipeline) error
	GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error)
	CommitAdvance(ctx context.Context, c storage.AdvanceCommit) error
	UpdatePipelineStatus(ctx context.Context, id string, status domain.PipelineStatus) error
	ListUsage(ctx context.Context, pipelineID string) ([]domain.UsageRecord, error)
	ListTransitions(ctx context.Context, pipelineID string) ([]domain.PhaseTransition, error)
}

// PhaseRunner executes the pipeline's current phase and returns the parsed
// artifact with routing metadata.
type PhaseRunner interface {
	Execute(ctx context.Context, pipelineID, phaseName, epicContext string, pipelineState, artifacts map[string]any) (*domain.ExecutionResult, error)
}

// ConfigLoader re-resolves phase configurations at commit time so that a
// configuration change between execution and commit is caught, not
// silently advanced into.
type ConfigLoader interface {
	Load(ctx context.Context, phaseName string) (*domain.PhaseConfig, error)
}

// legacySequence is the fixed phase order used when data-driven
// orchestration is switched off. It predates configurable phase graphs
// and is kept for rollback.
var legacySequence = []string{"idle", "pm", "architecture", "business_analysis", "development", "qa", "commit"}

// Service is the pipeline state machine.
type Service struct {
	store      Store
	runner     PhaseRunner
	configs    ConfigLoader
	dataDriven bool
	logger     *slog.Logger
	tracer     trace.Tracer
}

// New builds a Service. The dataDriven flag is read once here; flipping
// the configuration requires a restart.
func New(store Store, runner PhaseRunner, configs ConfigLoader, dataDriven bool, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		runner:     runner,
		configs:    configs,
		dataDriven: dataDriven,
		logger:     logger,
		tracer:     otel.Tracer("orchestrator/engine"),
	}
}

// Create starts a new pipeline for an epic at the given phase. In
// data-driven mode the start phase must resolve to an active
// configuration before anything is persisted.
func (s *Service) Create(ctx context.Context, epicID, epicContext, startPhase string) (*domain.Pipeline, error) {
	if s.dataDriven {
		if _, err := s.configs.Load(ctx, startPhase); err != nil {
			return nil, err
		}
	} else if !inLegacySequence(startPhase) {
		return nil, fmt.Errorf("unknown phase %q in legacy sequence", startPhase)
	}

	p := &domain.Pipeline{
		ID:           uuid.New().String(),
		EpicID:       epicID,
		EpicContext:  epicContext,
		CurrentPhase: startPhase,
		Status:       domain.StatusActive,
		State:        map[string]any{},
		Artifacts:    map[string]any{},
	}
	if err := s.store.CreatePipeline(ctx, p); err != nil {
		return nil, err
	}

	s.logger.Info("pipeline created",
		slog.String("pipeline_id", p.ID),
		slog.String("epic_id", epicID),
		slog.String("start_phase", startPhase))
	return p, nil
}

// Detail is a pipeline together with its audit trail.
type Detail struct {
	Pipeline    *domain.Pipeline
	Transitions []domain.PhaseTransition
	Usage       []domain.UsageRecord
}

// Get loads a pipeline with its transition history and prompt usage.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	p, err := s.store.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	transitions, err := s.store.ListTransitions(ctx, id)
	if err != nil {
		return nil, err
	}
	usage, err := s.store.ListUsage(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{Pipeline: p, Transitions: transitions, Usage: usage}, nil
}

// Advance executes the pipeline's current phase and, on success, commits
// the artifact and the move to the next phase in one transaction. Any
// failure along the way leaves the pipeline record untouched.
func (s *Service) Advance(ctx context.Context, pipelineID string) (*domain.Pipeline, *domain.ExecutionResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.advance",
		trace.WithAttributes(attribute.String("pipeline.id", pipelineID)))
	defer span.End()

	p, err := s.store.GetPipeline(ctx, pipelineID)
	if err != nil {
		return nil, nil, err
	}
	if p.Status != domain.StatusActive {
		return nil, nil, fmt.Errorf("pipeline %s in status %s: %w", p.ID, p.Status, ErrPipelineNotActive)
	}

	span.SetAttributes(attribute.String("pipeline.phase", p.CurrentPhase))

	if !s.dataDriven {
		return s.advanceLegacy(ctx, p)
	}

	result, err := s.runner.Execute(ctx, p.ID, p.CurrentPhase, p.EpicContext, p.State, p.Artifacts)
	if err != nil {
		s.logger.Error("phase execution failed",
			slog.String("pipeline_id", p.ID),
			slog.String("phase_name", p.CurrentPhase),
			slog.String("error", err.Error()))
		return nil, nil, err
	}

	// The graph may have changed while the model was running. Re-resolve
	// the successor before committing so a now-missing or deactivated
	// next phase blocks the advance.
	if result.NextPhase != "" {
		if _, err := s.configs.Load(ctx, result.NextPhase); err != nil {
			var cfgErr *phases.ConfigurationError
			if errors.As(err, &cfgErr) {
				cfgErr.PipelineID = p.ID
			}
			return nil, nil, err
		}
	}

	merged := make(map[string]any, len(p.Artifacts)+1)
	for k, v := range p.Artifacts {
		merged[k] = v
	}
	merged[result.ArtifactType] = result.Artifact

	commit := storage.AdvanceCommit{
		PipelineID: p.ID,
		Revision:   p.Revision,
		FromPhase:  p.CurrentPhase,
		Status:     domain.StatusActive,
		Artifacts:  merged,
		Reason:     "phase executed",
	}
	if result.NextPhase == "" {
		// Terminal phase: the pipeline completes and stays on the phase
		// that produced its final artifact.
		commit.ToPhase = p.CurrentPhase
		commit.Status = domain.StatusComplete
		commit.Reason = "terminal phase executed"
	} else {
		commit.ToPhase = result.NextPhase
	}

	if err := s.store.CommitAdvance(ctx, commit); err != nil {
		return nil, nil, err
	}

	s.logger.Info("pipeline advanced",
		slog.String("pipeline_id", p.ID),
		slog.String("from_phase", commit.FromPhase),
		slog.String("to_phase", commit.ToPhase),
		slog.String("status", string(commit.Status)))

	updated, err := s.store.GetPipeline(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	return updated, result, nil
}

// advanceLegacy moves the pipeline one step along the fixed sequence
// without executing anything. It exists so the data-driven engine can be
// switched off without stranding in-flight pipelines.
func (s *Service) advanceLegacy(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, *domain.ExecutionResult, error) {
	next, last := legacyNext(p.CurrentPhase)
	if next == "" && !last {
		return nil, nil, fmt.Errorf("unknown phase %q in legacy sequence", p.CurrentPhase)
	}

	commit := storage.AdvanceCommit{
		PipelineID: p.ID,
		Revision:   p.Revision,
		FromPhase:  p.CurrentPhase,
		ToPhase:    next,
		Status:     domain.StatusActive,
		Artifacts:  p.Artifacts,
		Reason:     "legacy sequence",
	}
	if last {
		commit.ToPhase = p.CurrentPhase
		commit.Status = domain.StatusComplete
	}

	if err := s.store.CommitAdvance(ctx, commit); err != nil {
		return nil, nil, err
	}

	updated, err := s.store.GetPipeline(ctx, p.ID)
	if err != nil {
		return nil, nil, err
	}
	return updated, nil, nil
}

// MarkFailed is the only path to the failed status. Advancement never
// sets it; a failed execution simply leaves the pipeline active.
func (s *Service) MarkFailed(ctx context.Context, pipelineID string) error {
	if err := s.store.UpdatePipelineStatus(ctx, pipelineID, domain.StatusFailed); err != nil {
		return err
	}
	s.logger.Warn("pipeline marked failed", slog.String("pipeline_id", pipelineID))
	return nil
}

func inLegacySequence(phase string) bool {
	for _, name := range legacySequence {
		if name == phase {
			return true
		}
	}
	return false
}

// legacyNext returns the successor of a phase in the fixed sequence and
// whether the phase is the last one.
func legacyNext(phase string) (string, bool) {
	for i, name := range legacySequence {
		if name != phase {
			continue
		}
		if i == len(legacySequence)-1 {
			return "", true
		}
		return legacySequence[i+1], false
	}
	return "", false
}
