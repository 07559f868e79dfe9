package phases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/storage"
)

type fakeRepo struct {
	configs []domain.PhaseConfig
	roles   []domain.Role
	getErr  error
	listErr error
}

func (f *fakeRepo) GetPhaseConfig(ctx context.Context, phaseName string) (*domain.PhaseConfig, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, c := range f.configs {
		if c.PhaseName == phaseName {
			cfg := c
			return &cfg, nil
		}
	}
	return nil, fmt.Errorf("phase config %s: %w", phaseName, storage.ErrNotFound)
}

func (f *fakeRepo) ListPhaseConfigs(ctx context.Context) ([]domain.PhaseConfig, error) {
	return f.configs, f.listErr
}

func (f *fakeRepo) ListActiveRoles(ctx context.Context) ([]domain.Role, error) {
	return f.roles, nil
}

// captureHandler records emitted log records so tests can assert on level
// and message.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) errorMessages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level == slog.LevelError {
			out = append(out, r.Message)
		}
	}
	return out
}

func chain(names ...string) []domain.PhaseConfig {
	configs := make([]domain.PhaseConfig, len(names))
	for i, name := range names {
		next := ""
		if i+1 < len(names) {
			next = names[i+1]
		}
		configs[i] = domain.PhaseConfig{
			PhaseName: name, RoleName: "pm", ArtifactType: "a", NextPhase: next, Active: true,
		}
	}
	return configs
}

func TestLoad_Active(t *testing.T) {
	repo := &fakeRepo{configs: chain("pm_phase")}
	s := NewStore(repo, slog.New(slog.DiscardHandler))

	cfg, err := s.Load(context.Background(), "pm_phase")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PhaseName != "pm_phase" {
		t.Errorf("PhaseName = %q", cfg.PhaseName)
	}
}

func TestLoad_NotFound(t *testing.T) {
	capture := &captureHandler{}
	s := NewStore(&fakeRepo{}, slog.New(capture))

	_, err := s.Load(context.Background(), "ghost_phase")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %T, want ConfigurationError", err)
	}
	if cfgErr.PhaseName != "ghost_phase" {
		t.Errorf("PhaseName = %q", cfgErr.PhaseName)
	}
	if msgs := capture.errorMessages(); len(msgs) != 1 || msgs[0] != "phase config not found" {
		t.Errorf("error logs = %v, want the not-found log before the error returns", msgs)
	}
}

func TestLoad_Inactive(t *testing.T) {
	capture := &captureHandler{}
	repo := &fakeRepo{configs: []domain.PhaseConfig{
		{PhaseName: "pm_phase", RoleName: "pm", ArtifactType: "a", Active: false},
	}}
	s := NewStore(repo, slog.New(capture))

	_, err := s.Load(context.Background(), "pm_phase")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %T, want ConfigurationError", err)
	}
	if !strings.Contains(cfgErr.Msg, "not active") {
		t.Errorf("Msg = %q", cfgErr.Msg)
	}
	if msgs := capture.errorMessages(); len(msgs) != 1 {
		t.Errorf("error logs = %v", msgs)
	}
}

func TestLoad_RepoFailure(t *testing.T) {
	s := NewStore(&fakeRepo{getErr: errors.New("connection reset")}, slog.New(slog.DiscardHandler))

	_, err := s.Load(context.Background(), "pm_phase")
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Load() error = %T, want ConfigurationError wrapping repo failure", err)
	}
}

func TestValidateGraph_Valid(t *testing.T) {
	repo := &fakeRepo{
		configs: chain("pm_phase", "arch_phase", "qa_phase"),
		roles:   []domain.Role{{Name: "pm", Active: true}},
	}
	s := NewStore(repo, slog.New(slog.DiscardHandler))

	problems, err := s.ValidateGraph(context.Background())
	if err != nil {
		t.Fatalf("ValidateGraph() error = %v", err)
	}
	if len(problems) != 0 {
		t.Errorf("problems = %v, want none", problems)
	}
}

func TestValidateGraph_SelfLoop(t *testing.T) {
	repo := &fakeRepo{
		configs: []domain.PhaseConfig{
			{PhaseName: "loop_phase", RoleName: "pm", ArtifactType: "a", NextPhase: "loop_phase", Active: true},
		},
		roles: []domain.Role{{Name: "pm", Active: true}},
	}
	s := NewStore(repo, slog.New(slog.DiscardHandler))

	problems, err := s.ValidateGraph(context.Background())
	if err != nil {
		t.Fatalf("ValidateGraph() error = %v", err)
	}
	if len(problems) != 1 {
		t.Fatalf("problems = %v, want exactly one for the one-hop cycle", problems)
	}
	if !strings.Contains(problems[0].Message, "revisits") {
		t.Errorf("problem = %v", problems[0])
	}
}

func TestValidateGraph_TwoPhaseCycle(t *testing.T) {
	repo := &fakeRepo{
		configs: []domain.PhaseConfig{
			{PhaseName: "a", RoleName: "pm", ArtifactType: "x", NextPhase: "b", Active: true},
			{PhaseName: "b", RoleName: "pm", ArtifactType: "y", NextPhase: "a", Active: true},
		},
		roles: []domain.Role{{Name: "pm", Active: true}},
	}
	s := NewStore(repo, slog.New(slog.DiscardHandler))

	problems, _ := s.ValidateGraph(context.Background())
	if len(problems) != 2 {
		t.Errorf("problems = %v, want a violation from each entry point", problems)
	}
}

func TestValidateGraph_HopBound(t *testing.T) {
	within := make([]string, maxChainHops+1) // exactly maxChainHops transitions
	for i := range within {
		within[i] = fmt.Sprintf("phase_%02d", i)
	}
	repo := &fakeRepo{configs: chain(within...), roles: []domain.Role{{Name: "pm", Active: true}}}
	s := NewStore(repo, slog.New(slog.DiscardHandler))

	problems, _ := s.ValidateGraph(context.Background())
	if len(problems) != 0 {
		t.Errorf("chain at the bound: problems = %v, want none", problems)
	}

	beyond := make([]string, maxChainHops+2)
	for i := range beyond {
		beyond[i] = fmt.Sprintf("phase_%02d", i)
	}
	repo = &fakeRepo{configs: chain(beyond...), roles: []domain.Role{{Name: "pm", Active: true}}}
	s = NewStore(repo, slog.New(slog.DiscardHandler))

	problems, _ = s.ValidateGraph(context.Background())
	if len(problems) == 0 {
		t.Error("chain beyond the bound: want a hop-ceiling violation")
	}
}

func TestValidateGraph_CollectsAllViolations(t *testing.T) {
	repo := &fakeRepo{
		configs: []domain.PhaseConfig{
			{PhaseName: "a", RoleName: "ghost", ArtifactType: "x", NextPhase: "missing", Active: true},
			{PhaseName: "b", RoleName: "pm", ArtifactType: "y", NextPhase: "b", Active: true},
		},
		roles: []domain.Role{{Name: "pm", Active: true}},
	}
	s := NewStore(repo, slog.New(slog.DiscardHandler))

	problems, _ := s.ValidateGraph(context.Background())
	// a: unknown role, dangling next phase; b: self-loop.
	if len(problems) != 3 {
		t.Errorf("problems = %v, want all three violations in one pass", problems)
	}
}
