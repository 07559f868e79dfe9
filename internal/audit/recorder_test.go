package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/workforge/orchestrator/internal/domain"
)

type fakeRepo struct {
	err      error
	inserted []domain.UsageRecord
}

func (f *fakeRepo) InsertUsage(ctx context.Context, rec *domain.UsageRecord) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, *rec)
	return nil
}

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

func TestRecord_Success(t *testing.T) {
	repo := &fakeRepo{}
	r := NewRecorder(repo, slog.New(slog.DiscardHandler))

	ok := r.Record(context.Background(), domain.UsageRecord{
		PipelineID: "pipe-1",
		PromptID:   "prompt-1",
		RoleName:   "pm",
		PhaseName:  "pm_phase",
	})
	if !ok {
		t.Fatal("Record() = false, want true")
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("inserted = %d rows", len(repo.inserted))
	}
}

func TestRecord_PersistenceFailure(t *testing.T) {
	capture := &captureHandler{}
	repo := &fakeRepo{err: errors.New("disk full")}
	r := NewRecorder(repo, slog.New(capture))

	ok := r.Record(context.Background(), domain.UsageRecord{
		PipelineID: "pipe-1",
		PromptID:   "prompt-1",
		RoleName:   "pm",
		PhaseName:  "pm_phase",
	})
	if ok {
		t.Fatal("Record() = true, want false on persistence failure")
	}

	var warnings []slog.Record
	for _, rec := range capture.records {
		if rec.Level == slog.LevelWarn {
			warnings = append(warnings, rec)
		}
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %d, want exactly one", len(warnings))
	}

	attrs := map[string]string{}
	warnings[0].Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.String()
		return true
	})
	for _, key := range []string{"pipeline_id", "phase_name", "role_name", "prompt_id", "error"} {
		if attrs[key] == "" {
			t.Errorf("warning missing attr %q: %v", key, attrs)
		}
	}
}
