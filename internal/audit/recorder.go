// Package audit records which prompt version served which phase. Recording
// is best-effort: audit completeness is explicitly lower priority than
// pipeline progress, so a persistence failure is logged and swallowed.
package audit

import (
	"context"
	"log/slog"

	"github.com/workforge/orchestrator/internal/domain"
)

// Repo is the slice of the storage layer the recorder needs.
type Repo interface {
	InsertUsage(ctx context.Context, rec *domain.UsageRecord) error
}

// Recorder persists prompt usage rows.
type Recorder struct {
	repo   Repo
	logger *slog.Logger
}

// NewRecorder creates a usage recorder over a repository.
func NewRecorder(repo Repo, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record persists one usage row. It never fails the caller: on a
// persistence error it emits a structured warning carrying every
// identifying field and returns false.
func (r *Recorder) Record(ctx context.Context, rec domain.UsageRecord) bool {
	if err := r.repo.InsertUsage(ctx, &rec); err != nil {
		r.logger.Warn("usage record failure",
			slog.String("event", "usage_record_failure"),
			slog.String("pipeline_id", rec.PipelineID),
			slog.String("phase_name", rec.PhaseName),
			slog.String("role_name", rec.RoleName),
			slog.String("prompt_id", rec.PromptID),
			slog.String("error", err.Error()),
		)
		return false
	}
	r.logger.Debug("recorded prompt usage",
		slog.String("pipeline_id", rec.PipelineID),
		slog.String("prompt_id", rec.PromptID),
	)
	return true
}
