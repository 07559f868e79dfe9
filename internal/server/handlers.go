package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/engine"
	"github.com/workforge/orchestrator/internal/executor"
	"github.com/workforge/orchestrator/internal/phases"
	"github.com/workforge/orchestrator/internal/storage"
)

// PipelineService is the engine surface the API exposes.
type PipelineService interface {
	Create(ctx context.Context, epicID, epicContext, startPhase string) (*domain.Pipeline, error)
	Get(ctx context.Context, id string) (*engine.Detail, error)
	Advance(ctx context.Context, id string) (*domain.Pipeline, *domain.ExecutionResult, error)
	MarkFailed(ctx context.Context, id string) error
}

// GraphValidator checks the whole phase graph for configuration problems.
type GraphValidator interface {
	ValidateGraph(ctx context.Context) ([]phases.Problem, error)
}

// API holds the HTTP handlers for the pipeline endpoints.
type API struct {
	pipelines PipelineService
	graphs    GraphValidator
}

func NewAPI(pipelines PipelineService, graphs GraphValidator) *API {
	return &API{pipelines: pipelines, graphs: graphs}
}

// Mount attaches the API routes to a router.
func (a *API) Mount(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/pipelines", a.handleCreatePipeline)
		r.Get("/pipelines/{pipeline_id}", a.handleGetPipeline)
		r.Post("/pipelines/{pipeline_id}/advance", a.handleAdvancePipeline)
		r.Post("/pipelines/{pipeline_id}/fail", a.handleFailPipeline)
		r.Get("/phases/validate", a.handleValidateGraph)
	})
}

type createPipelineRequest struct {
	EpicID      string `json:"epic_id"`
	EpicContext string `json:"epic_context"`
	StartPhase  string `json:"start_phase"`
}

type pipelineResponse struct {
	ID           string         `json:"id"`
	EpicID       string         `json:"epic_id"`
	EpicContext  string         `json:"epic_context"`
	CurrentPhase string         `json:"current_phase"`
	Status       string         `json:"status"`
	State        map[string]any `json:"state"`
	Artifacts    map[string]any `json:"artifacts"`
	Revision     int64          `json:"revision"`
	CreatedAt    string         `json:"created_at"`
	UpdatedAt    string         `json:"updated_at"`
	CompletedAt  string         `json:"completed_at,omitempty"`
}

func toPipelineResponse(p *domain.Pipeline) pipelineResponse {
	resp := pipelineResponse{
		ID:           p.ID,
		EpicID:       p.EpicID,
		EpicContext:  p.EpicContext,
		CurrentPhase: p.CurrentPhase,
		Status:       string(p.Status),
		State:        p.State,
		Artifacts:    p.Artifacts,
		Revision:     p.Revision,
		CreatedAt:    p.CreatedAt.Format(timeFormat),
		UpdatedAt:    p.UpdatedAt.Format(timeFormat),
	}
	if p.CompletedAt != nil {
		resp.CompletedAt = p.CompletedAt.Format(timeFormat)
	}
	return resp
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func (a *API) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req createPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EpicID == "" || req.StartPhase == "" {
		writeError(w, http.StatusBadRequest, "epic_id and start_phase are required")
		return
	}

	p, err := a.pipelines.Create(r.Context(), req.EpicID, req.EpicContext, req.StartPhase)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSONStatus(w, http.StatusCreated, toPipelineResponse(p))
}

func (a *API) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipeline_id")

	detail, err := a.pipelines.Get(r.Context(), id)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, statusForError(err), err.Error())
		return
	}

	writeJSON(w, map[string]any{
		"pipeline":    toPipelineResponse(detail.Pipeline),
		"transitions": detail.Transitions,
		"usage":       detail.Usage,
	})
}

type advanceResponse struct {
	Pipeline pipelineResponse `json:"pipeline"`
	Result   *resultResponse  `json:"result,omitempty"`
}

type resultResponse struct {
	Artifact     any    `json:"artifact"`
	ArtifactType string `json:"artifact_type"`
	NextPhase    string `json:"next_phase,omitempty"`
	PromptID     string `json:"prompt_id"`
	ElapsedMS    int64  `json:"elapsed_ms"`
}

func (a *API) handleAdvancePipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipeline_id")

	p, result, err := a.pipelines.Advance(r.Context(), id)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, statusForError(err), err.Error())
		return
	}

	resp := advanceResponse{Pipeline: toPipelineResponse(p)}
	if result != nil {
		resp.Result = &resultResponse{
			Artifact:     result.Artifact,
			ArtifactType: result.ArtifactType,
			NextPhase:    result.NextPhase,
			PromptID:     result.PromptID,
			ElapsedMS:    result.ElapsedMS,
		}
	}
	writeJSON(w, resp)
}

func (a *API) handleFailPipeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "pipeline_id")

	if err := a.pipelines.MarkFailed(r.Context(), id); err != nil {
		AddError(r.Context(), err)
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleValidateGraph(w http.ResponseWriter, r *http.Request) {
	problems, err := a.graphs.ValidateGraph(r.Context())
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if problems == nil {
		problems = []phases.Problem{}
	}
	writeJSON(w, map[string]any{
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

// statusForError maps engine and executor failures to HTTP statuses.
// Configuration and prompt problems are the caller's to fix; model and
// parse failures are upstream faults.
func statusForError(err error) int {
	var cfgErr *phases.ConfigurationError
	var buildErr *executor.PromptBuildError
	var modelErr *executor.ModelError
	var parseErr *executor.ParseError

	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrPipelineNotActive):
		return http.StatusConflict
	case errors.Is(err, storage.ErrStaleRevision):
		return http.StatusConflict
	case errors.As(err, &cfgErr), errors.As(err, &buildErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &modelErr), errors.As(err, &parseErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
