// Package seed installs the default phase graph, roles, and prompt
// templates into an empty database.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/workforge/orchestrator/internal/domain"
)

// Repo is the storage surface needed for seeding.
type Repo interface {
	UpsertPhaseConfig(ctx context.Context, c domain.PhaseConfig) error
	UpsertRole(ctx context.Context, r domain.Role) error
	InsertPrompt(ctx context.Context, p domain.PromptTemplate) error
	ActivePromptForRole(ctx context.Context, roleName string) (*domain.PromptTemplate, error)
}

// defaultPhases is the standard epic delivery graph: product definition
// through commit, each phase producing one artifact type.
var defaultPhases = []domain.PhaseConfig{
	{PhaseName: "product_definition", RoleName: "pm", ArtifactType: "prd", NextPhase: "architecture", Active: true},
	{PhaseName: "architecture", RoleName: "architect", ArtifactType: "architecture_doc", NextPhase: "business_analysis", Active: true},
	{PhaseName: "business_analysis", RoleName: "ba", ArtifactType: "acceptance_criteria", NextPhase: "development", Active: true},
	{PhaseName: "development", RoleName: "developer", ArtifactType: "implementation_plan", NextPhase: "qa", Active: true},
	{PhaseName: "qa", RoleName: "qa", ArtifactType: "test_report", NextPhase: "commit", Active: true},
	{PhaseName: "commit", RoleName: "developer", ArtifactType: "commit_summary", NextPhase: "", Active: true},
}

var defaultRoles = []domain.Role{
	{Name: "pm", Description: "Product manager: turns epic context into a PRD", Active: true},
	{Name: "architect", Description: "Architect: designs the system from the PRD", Active: true},
	{Name: "ba", Description: "Business analyst: derives acceptance criteria", Active: true},
	{Name: "developer", Description: "Developer: plans and summarizes implementation", Active: true},
	{Name: "qa", Description: "QA engineer: verifies the implementation plan", Active: true},
}

var defaultTemplates = map[string]string{
	"pm":        "You are a product manager. Turn the epic context into a product requirements document. Respond with a single JSON object containing goals, user_stories, and constraints.",
	"architect": "You are a software architect. Design the system described by the PRD in the prior artifacts. Respond with a single JSON object containing components, interfaces, and data_flow.",
	"ba":        "You are a business analyst. Derive acceptance criteria from the PRD and architecture in the prior artifacts. Respond with a single JSON array of criteria objects.",
	"developer": "You are a senior developer. Produce the artifact this phase asks for from the prior artifacts. Respond with a single JSON object.",
	"qa":        "You are a QA engineer. Assess the implementation plan against the acceptance criteria in the prior artifacts. Respond with a single JSON object containing verdict and findings.",
}

// Apply installs phases, roles, and one active prompt per role. Roles
// that already have an active prompt are left alone, so Apply is safe to
// run repeatedly.
func Apply(ctx context.Context, repo Repo, logger *slog.Logger) error {
	for _, p := range defaultPhases {
		if err := repo.UpsertPhaseConfig(ctx, p); err != nil {
			return fmt.Errorf("seeding phase %s: %w", p.PhaseName, err)
		}
	}
	for _, r := range defaultRoles {
		if err := repo.UpsertRole(ctx, r); err != nil {
			return fmt.Errorf("seeding role %s: %w", r.Name, err)
		}
	}
	for role, template := range defaultTemplates {
		if existing, err := repo.ActivePromptForRole(ctx, role); err == nil && existing != nil {
			continue
		}
		err := repo.InsertPrompt(ctx, domain.PromptTemplate{
			ID:       uuid.New().String(),
			RoleName: role,
			Version:  1,
			Template: template,
			Active:   true,
		})
		if err != nil {
			return fmt.Errorf("seeding prompt for role %s: %w", role, err)
		}
	}

	logger.Info("seed applied",
		slog.Int("phases", len(defaultPhases)),
		slog.Int("roles", len(defaultRoles)))
	return nil
}
