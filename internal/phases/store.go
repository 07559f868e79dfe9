// Package phases loads phase configurations and validates the phase graph.
// The graph is data: adding a phase or role is a storage change, never a
// code change.
package phases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/storage"
)

// maxChainHops bounds how long any phase chain may run before validation
// treats it as a misconfiguration. A direct self-loop is a one-hop cycle.
const maxChainHops = 20

// ConfigurationError signals a missing, inactive, or structurally invalid
// phase configuration. It is an operational problem, not a programming one,
// and is always logged before being returned.
type ConfigurationError struct {
	PhaseName  string
	PipelineID string
	Msg        string
	Err        error
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.PipelineID != "" && e.PhaseName != "":
		return fmt.Sprintf("[%s:%s] %s", e.PipelineID, e.PhaseName, e.Msg)
	case e.PhaseName != "":
		return fmt.Sprintf("[%s] %s", e.PhaseName, e.Msg)
	default:
		return e.Msg
	}
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Repo is the slice of the storage layer the config store needs.
type Repo interface {
	GetPhaseConfig(ctx context.Context, phaseName string) (*domain.PhaseConfig, error)
	ListPhaseConfigs(ctx context.Context) ([]domain.PhaseConfig, error)
	ListActiveRoles(ctx context.Context) ([]domain.Role, error)
}

// Store loads and validates phase configurations.
type Store struct {
	repo   Repo
	logger *slog.Logger
}

// NewStore creates a config store over a repository.
func NewStore(repo Repo, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, logger: logger}
}

// Load returns the active configuration for one phase. Absent or disabled
// phases fail with a ConfigurationError, logged at error severity first so
// operational failures are diagnosable without reproducing the call.
func (s *Store) Load(ctx context.Context, phaseName string) (*domain.PhaseConfig, error) {
	cfg, err := s.repo.GetPhaseConfig(ctx, phaseName)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("phase config not found", slog.String("phase", phaseName))
		return nil, &ConfigurationError{
			PhaseName: phaseName,
			Msg:       fmt.Sprintf("phase configuration not found: %s", phaseName),
			Err:       err,
		}
	}
	if err != nil {
		s.logger.Error("failed to load phase config",
			slog.String("phase", phaseName),
			slog.String("error", err.Error()),
		)
		return nil, &ConfigurationError{
			PhaseName: phaseName,
			Msg:       fmt.Sprintf("failed to load configuration: %v", err),
			Err:       err,
		}
	}
	if !cfg.Active {
		s.logger.Error("phase config not active", slog.String("phase", phaseName))
		return nil, &ConfigurationError{
			PhaseName: phaseName,
			Msg:       fmt.Sprintf("phase configuration not active: %s", phaseName),
		}
	}
	return cfg, nil
}

// Problem is one graph validation violation.
type Problem struct {
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s", p.Phase, p.Message)
}

// ValidateGraph checks the whole phase graph: every role reference must
// resolve to a known active role, every next_phase must resolve to an
// existing phase or be empty, and no chain may revisit a phase or exceed
// the hop ceiling. All violations are collected so one pass is enough to
// remediate; the graph is valid when the returned slice is empty. The
// error covers repository failures only.
func (s *Store) ValidateGraph(ctx context.Context) ([]Problem, error) {
	configs, err := s.repo.ListPhaseConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list phase configs: %w", err)
	}
	roles, err := s.repo.ListActiveRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}

	byName := make(map[string]domain.PhaseConfig, len(configs))
	for _, c := range configs {
		byName[c.PhaseName] = c
	}
	activeRoles := make(map[string]bool, len(roles))
	for _, r := range roles {
		activeRoles[r.Name] = true
	}

	var problems []Problem
	for _, c := range configs {
		if !activeRoles[c.RoleName] {
			problems = append(problems, Problem{
				Phase:   c.PhaseName,
				Message: fmt.Sprintf("role %q is not a known active role", c.RoleName),
			})
		}
		if c.NextPhase != "" {
			if _, ok := byName[c.NextPhase]; !ok {
				problems = append(problems, Problem{
					Phase:   c.PhaseName,
					Message: fmt.Sprintf("next phase %q does not exist", c.NextPhase),
				})
			}
		}
	}

	// Walk the chain from every phase. A revisit is a cycle; a direct
	// self-loop trips on the first hop.
	for _, c := range configs {
		visited := map[string]bool{c.PhaseName: true}
		current := c
		for hops := 0; current.NextPhase != ""; hops++ {
			if hops >= maxChainHops {
				problems = append(problems, Problem{
					Phase:   c.PhaseName,
					Message: fmt.Sprintf("phase chain exceeds %d hops", maxChainHops),
				})
				break
			}
			next, ok := byName[current.NextPhase]
			if !ok {
				break // already reported as a dangling reference
			}
			if visited[next.PhaseName] {
				problems = append(problems, Problem{
					Phase:   c.PhaseName,
					Message: fmt.Sprintf("phase chain revisits %q", next.PhaseName),
				})
				break
			}
			visited[next.PhaseName] = true
			current = next
		}
	}

	if len(problems) > 0 {
		s.logger.Error("phase graph validation failed", slog.Int("problems", len(problems)))
	}
	return problems, nil
}
