// Package prompt assembles the system prompt for a phase from the role's
// active template plus pipeline context. The assembler is the engine's only
// source of prompt text; the executor treats it as an opaque collaborator.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tiktoken-go/tokenizer"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/storage"
)

// ErrNoActivePrompt signals that the role has no usable prompt template.
var ErrNoActivePrompt = errors.New("no active prompt for role")

// defaultTokenBudget is the estimated prompt size above which a warning is
// logged. Oversized prompts still go through; the model enforces its own
// context limit.
const defaultTokenBudget = 16000

// Repo is the slice of the storage layer the assembler needs.
type Repo interface {
	ActivePromptForRole(ctx context.Context, roleName string) (*domain.PromptTemplate, error)
}

// Input carries everything available to a phase's prompt.
type Input struct {
	Role          string
	PipelineID    string
	Phase         string
	EpicContext   string
	PipelineState map[string]any
	Artifacts     map[string]any
}

// Assembler builds prompt text and reports which prompt version was used.
type Assembler struct {
	repo        Repo
	logger      *slog.Logger
	codec       tokenizer.Codec
	tokenBudget int
}

// NewAssembler creates a prompt assembler. Token estimation uses the
// cl100k encoding as a rough, model-agnostic gauge.
func NewAssembler(repo Repo, logger *slog.Logger) (*Assembler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Assembler{
		repo:        repo,
		logger:      logger,
		codec:       codec,
		tokenBudget: defaultTokenBudget,
	}, nil
}

// Build renders the system prompt for one phase and returns the text plus
// the identifier of the prompt template that produced it.
func (a *Assembler) Build(ctx context.Context, in Input) (string, string, error) {
	tmpl, err := a.repo.ActivePromptForRole(ctx, in.Role)
	if errors.Is(err, storage.ErrNotFound) {
		return "", "", fmt.Errorf("%w: %s", ErrNoActivePrompt, in.Role)
	}
	if err != nil {
		return "", "", fmt.Errorf("load prompt for role %s: %w", in.Role, err)
	}

	stateJSON, err := json.MarshalIndent(orEmpty(in.PipelineState), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal pipeline state: %w", err)
	}
	artifactsJSON, err := json.MarshalIndent(orEmpty(in.Artifacts), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal artifacts: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(tmpl.Template))
	b.WriteString("\n\n## Epic Context\n\n")
	b.WriteString(strings.TrimSpace(in.EpicContext))
	b.WriteString("\n\n## Pipeline State\n\n")
	b.Write(stateJSON)
	b.WriteString("\n\n## Prior Artifacts\n\n")
	b.Write(artifactsJSON)
	b.WriteString("\n\n## Instructions\n\n")
	fmt.Fprintf(&b, "You are executing the %q phase. Respond with a single JSON artifact and nothing else.\n", in.Phase)

	text := b.String()

	if ids, _, err := a.codec.Encode(text); err == nil && len(ids) > a.tokenBudget {
		a.logger.Warn("prompt exceeds token budget",
			slog.String("pipeline_id", in.PipelineID),
			slog.String("phase", in.Phase),
			slog.String("role", in.Role),
			slog.Int("estimated_tokens", len(ids)),
			slog.Int("budget", a.tokenBudget),
		)
	}

	return text, tmpl.ID, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
