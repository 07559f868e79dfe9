// Package domain holds the core data model for the phase execution engine:
// pipelines, phase configurations, roles, prompt templates, and the records
// produced while advancing a pipeline through its configured phases.
package domain

import "time"

// PipelineStatus is the lifecycle state of a pipeline.
type PipelineStatus string

const (
	StatusActive   PipelineStatus = "active"
	StatusComplete PipelineStatus = "complete"
	StatusFailed   PipelineStatus = "failed"
)

// Pipeline is the persisted state of one epic's run through the phase graph.
// Artifacts is keyed by artifact type; at most one artifact per type.
type Pipeline struct {
	ID           string         `db:"id"`
	EpicID       string         `db:"epic_id"`
	EpicContext  string         `db:"epic_context"`
	CurrentPhase string         `db:"current_phase"`
	Status       PipelineStatus `db:"status"`
	State        map[string]any
	Artifacts    map[string]any
	// Revision guards read-then-write advancement: commits carry the
	// revision they read and fail if another commit raced ahead.
	Revision    int64      `db:"revision"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// PhaseConfig describes one step of the phase graph. NextPhase empty means
// the phase is terminal: executing it completes the pipeline.
type PhaseConfig struct {
	PhaseName    string `db:"phase_name"`
	RoleName     string `db:"role_name"`
	ArtifactType string `db:"artifact_type"`
	NextPhase    string `db:"next_phase"`
	Active       bool   `db:"active"`
}

// Terminal reports whether the phase has no successor.
func (c PhaseConfig) Terminal() bool {
	return c.NextPhase == ""
}

// Role is a logical persona whose prompt template is looked up by name.
type Role struct {
	Name        string `db:"name"`
	Description string `db:"description"`
	Active      bool   `db:"active"`
}

// PromptTemplate is one versioned system-prompt template for a role.
// At most one template per role is active at a time.
type PromptTemplate struct {
	ID       string `db:"id"`
	RoleName string `db:"role_name"`
	Version  int    `db:"version"`
	Template string `db:"template"`
	Active   bool   `db:"active"`
}

// UsageRecord is the audit row linking a prompt version to the phase and
// pipeline it served.
type UsageRecord struct {
	ID         string    `db:"id"`
	PipelineID string    `db:"pipeline_id"`
	PromptID   string    `db:"prompt_id"`
	RoleName   string    `db:"role_name"`
	PhaseName  string    `db:"phase_name"`
	UsedAt     time.Time `db:"used_at"`
}

// PhaseTransition records one committed phase-to-phase move.
type PhaseTransition struct {
	ID         string    `db:"id"`
	PipelineID string    `db:"pipeline_id"`
	FromPhase  string    `db:"from_phase"`
	ToPhase    string    `db:"to_phase"`
	Reason     string    `db:"reason"`
	CreatedAt  time.Time `db:"created_at"`
}

// ExecutionResult is what a successful phase execution hands back to the
// state machine. Artifact is the decoded JSON value recovered from the
// model response; shape checking is the consumer's concern.
type ExecutionResult struct {
	Artifact     any
	ArtifactType string
	NextPhase    string
	PromptID     string
	RawResponse  string
	ElapsedMS    int64
}
