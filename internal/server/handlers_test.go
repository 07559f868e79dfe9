package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/engine"
	"github.com/workforge/orchestrator/internal/executor"
	"github.com/workforge/orchestrator/internal/phases"
	"github.com/workforge/orchestrator/internal/storage"
)

type fakePipelines struct {
	pipeline   *domain.Pipeline
	detail     *engine.Detail
	result     *domain.ExecutionResult
	err        error
	failedIDs  []string
	lastCreate createPipelineRequest
}

func (f *fakePipelines) Create(_ context.Context, epicID, epicContext, startPhase string) (*domain.Pipeline, error) {
	f.lastCreate = createPipelineRequest{EpicID: epicID, EpicContext: epicContext, StartPhase: startPhase}
	return f.pipeline, f.err
}

func (f *fakePipelines) Get(_ context.Context, _ string) (*engine.Detail, error) {
	return f.detail, f.err
}

func (f *fakePipelines) Advance(_ context.Context, _ string) (*domain.Pipeline, *domain.ExecutionResult, error) {
	return f.pipeline, f.result, f.err
}

func (f *fakePipelines) MarkFailed(_ context.Context, id string) error {
	f.failedIDs = append(f.failedIDs, id)
	return f.err
}

type fakeGraphs struct {
	problems []phases.Problem
	err      error
}

func (f *fakeGraphs) ValidateGraph(_ context.Context) ([]phases.Problem, error) {
	return f.problems, f.err
}

func testPipeline() *domain.Pipeline {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Pipeline{
		ID:           "pipe-1",
		EpicID:       "epic-1",
		EpicContext:  "build it",
		CurrentPhase: "design",
		Status:       domain.StatusActive,
		State:        map[string]any{},
		Artifacts:    map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func newTestServer(pipelines PipelineService, graphs GraphValidator) *httptest.Server {
	srv := New(0, slog.New(slog.DiscardHandler))
	NewAPI(pipelines, graphs).Mount(srv.Router)
	return httptest.NewServer(srv.Router)
}

func TestCreatePipeline(t *testing.T) {
	fake := &fakePipelines{pipeline: testPipeline()}
	ts := newTestServer(fake, &fakeGraphs{})
	defer ts.Close()

	body := `{"epic_id": "epic-1", "epic_context": "build it", "start_phase": "design"}`
	resp, err := http.Post(ts.URL+"/v1/pipelines", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	var got pipelineResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got.ID != "pipe-1" || got.CurrentPhase != "design" || got.Status != "active" {
		t.Errorf("response = %+v", got)
	}
	if fake.lastCreate.StartPhase != "design" {
		t.Errorf("service received start_phase = %q", fake.lastCreate.StartPhase)
	}
}

func TestCreatePipelineMissingFields(t *testing.T) {
	ts := newTestServer(&fakePipelines{}, &fakeGraphs{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipelines", "application/json", strings.NewReader(`{"epic_context": "x"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetPipelineNotFound(t *testing.T) {
	fake := &fakePipelines{err: fmt.Errorf("pipeline nope: %w", storage.ErrNotFound)}
	ts := newTestServer(fake, &fakeGraphs{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/pipelines/nope")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAdvanceSuccess(t *testing.T) {
	fake := &fakePipelines{
		pipeline: testPipeline(),
		result: &domain.ExecutionResult{
			Artifact:     map[string]any{"design": "hexagonal"},
			ArtifactType: "design_doc",
			NextPhase:    "review",
			PromptID:     "prompt-7",
			ElapsedMS:    42,
		},
	}
	ts := newTestServer(fake, &fakeGraphs{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipelines/pipe-1/advance", "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got advanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got.Result == nil || got.Result.ArtifactType != "design_doc" || got.Result.PromptID != "prompt-7" {
		t.Errorf("result = %+v", got.Result)
	}
}

func TestAdvanceErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"pipeline not active", fmt.Errorf("pipeline pipe-1 in status complete: %w", engine.ErrPipelineNotActive), http.StatusConflict},
		{"stale revision", fmt.Errorf("pipeline pipe-1 at revision 3: %w", storage.ErrStaleRevision), http.StatusConflict},
		{"configuration error", &phases.ConfigurationError{PipelineID: "pipe-1", PhaseName: "ghost", Msg: "phase config not found"}, http.StatusUnprocessableEntity},
		{"prompt build error", &executor.PromptBuildError{PipelineID: "pipe-1", PhaseName: "design", Msg: "no active prompt"}, http.StatusUnprocessableEntity},
		{"model error", &executor.ModelError{PipelineID: "pipe-1", PhaseName: "design", Msg: "model call failed: overloaded"}, http.StatusBadGateway},
		{"parse error", &executor.ParseError{PipelineID: "pipe-1", PhaseName: "design", Diagnostics: []string{"direct: bad"}}, http.StatusBadGateway},
		{"execution error", &executor.ExecutionError{PipelineID: "pipe-1", PhaseName: "design", Msg: "unexpected internal error"}, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(&fakePipelines{err: tc.err}, &fakeGraphs{})
			defer ts.Close()

			resp, err := http.Post(ts.URL+"/v1/pipelines/pipe-1/advance", "application/json", nil)
			if err != nil {
				t.Fatalf("Post() error = %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}

			var body map[string]string
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode error = %v", err)
			}
			if body["error"] == "" {
				t.Error("error body missing")
			}
		})
	}
}

func TestFailPipeline(t *testing.T) {
	fake := &fakePipelines{}
	ts := newTestServer(fake, &fakeGraphs{})
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/pipelines/pipe-1/fail", "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if len(fake.failedIDs) != 1 || fake.failedIDs[0] != "pipe-1" {
		t.Errorf("failed ids = %v", fake.failedIDs)
	}
}

func TestValidateGraph(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		ts := newTestServer(&fakePipelines{}, &fakeGraphs{})
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/v1/phases/validate")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		defer resp.Body.Close()

		var got struct {
			Valid    bool             `json:"valid"`
			Problems []phases.Problem `json:"problems"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if !got.Valid || len(got.Problems) != 0 {
			t.Errorf("response = %+v", got)
		}
	})

	t.Run("with problems", func(t *testing.T) {
		graphs := &fakeGraphs{problems: []phases.Problem{
			{Phase: "design", Message: `next phase "review" has no configuration`},
		}}
		ts := newTestServer(&fakePipelines{}, graphs)
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/v1/phases/validate")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		defer resp.Body.Close()

		var got struct {
			Valid    bool             `json:"valid"`
			Problems []phases.Problem `json:"problems"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if got.Valid || len(got.Problems) != 1 {
			t.Errorf("response = %+v", got)
		}
	})

	t.Run("repo failure", func(t *testing.T) {
		ts := newTestServer(&fakePipelines{}, &fakeGraphs{err: errors.New("db gone")})
		defer ts.Close()

		resp, err := http.Get(ts.URL + "/v1/phases/validate")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", resp.StatusCode)
		}
	})
}
