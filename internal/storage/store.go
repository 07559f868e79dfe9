// Package storage is the persistence layer for pipelines, the phase graph,
// prompt templates, and the audit trail. It is a SQL store that supports
// SQLite and PostgreSQL through the dialect package.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/workforge/orchestrator/internal/domain"
	"github.com/workforge/orchestrator/internal/storage/dialect"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleRevision is returned when a commit carries a revision that no
	// longer matches the stored pipeline: another advance won the race.
	ErrStaleRevision = errors.New("stale pipeline revision")
)

// Store is a SQL implementation of the engine's persistence needs.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite, postgres
	DSN    string // data source name / connection string
}

// New creates a store with the specified configuration and initializes the
// schema.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a SQLite-backed store at the given path.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	ts := s.dialect.TimestampType()
	boolT := s.dialect.BooleanType()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS pipelines (
id TEXT PRIMARY KEY,
epic_id TEXT NOT NULL,
epic_context TEXT NOT NULL DEFAULT '',
current_phase TEXT NOT NULL,
status TEXT NOT NULL,
state TEXT NOT NULL DEFAULT '{}',
artifacts TEXT NOT NULL DEFAULT '{}',
revision INTEGER NOT NULL DEFAULT 0,
created_at %s NOT NULL,
updated_at %s NOT NULL,
completed_at %s
)`, ts, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS phase_configs (
phase_name TEXT PRIMARY KEY,
role_name TEXT NOT NULL,
artifact_type TEXT NOT NULL,
next_phase TEXT NOT NULL DEFAULT '',
active %s NOT NULL DEFAULT 1,
updated_at %s NOT NULL
)`, boolT, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS roles (
name TEXT PRIMARY KEY,
description TEXT NOT NULL DEFAULT '',
active %s NOT NULL DEFAULT 1
)`, boolT),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS prompts (
id TEXT PRIMARY KEY,
role_name TEXT NOT NULL,
version INTEGER NOT NULL,
template TEXT NOT NULL,
active %s NOT NULL DEFAULT 1
)`, boolT),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS prompt_usage (
id TEXT PRIMARY KEY,
pipeline_id TEXT NOT NULL,
prompt_id TEXT NOT NULL,
role_name TEXT NOT NULL,
phase_name TEXT NOT NULL,
used_at %s NOT NULL,
FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
)`, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS phase_transitions (
id TEXT PRIMARY KEY,
pipeline_id TEXT NOT NULL,
from_phase TEXT NOT NULL,
to_phase TEXT NOT NULL,
reason TEXT NOT NULL DEFAULT '',
created_at %s NOT NULL,
FOREIGN KEY (pipeline_id) REFERENCES pipelines(id) ON DELETE CASCADE
)`, ts),
		`CREATE INDEX IF NOT EXISTS idx_pipelines_status ON pipelines(status)`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_role ON prompts(role_name, active)`,
		`CREATE INDEX IF NOT EXISTS idx_prompt_usage_pipeline ON prompt_usage(pipeline_id)`,
		`CREATE INDEX IF NOT EXISTS idx_phase_transitions_pipeline ON phase_transitions(pipeline_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// CreatePipeline inserts a new pipeline record.
func (s *Store) CreatePipeline(ctx context.Context, p *domain.Pipeline) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	stateJSON, err := json.Marshal(orEmpty(p.State))
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	artifactsJSON, err := json.Marshal(orEmpty(p.Artifacts))
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	query := s.dialect.Rebind(`INSERT INTO pipelines
(id, epic_id, epic_context, current_phase, status, state, artifacts, revision, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		p.ID, p.EpicID, p.EpicContext, p.CurrentPhase, string(p.Status),
		string(stateJSON), string(artifactsJSON), p.Revision, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	return nil
}

// GetPipeline loads one pipeline by id.
func (s *Store) GetPipeline(ctx context.Context, id string) (*domain.Pipeline, error) {
	query := s.dialect.Rebind(`SELECT id, epic_id, epic_context, current_phase, status, state, artifacts, revision, created_at, updated_at, completed_at
FROM pipelines WHERE id = ?`)

	var p domain.Pipeline
	var status, stateJSON, artifactsJSON string
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.EpicID, &p.EpicContext, &p.CurrentPhase, &status,
		&stateJSON, &artifactsJSON, &p.Revision, &p.CreatedAt, &p.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}

	p.Status = domain.PipelineStatus(status)
	if err := json.Unmarshal([]byte(stateJSON), &p.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(artifactsJSON), &p.Artifacts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifacts: %w", err)
	}
	if completedAt.Valid {
		t := completedAt.Time
		p.CompletedAt = &t
	}
	return &p, nil
}

// AdvanceCommit carries everything one successful phase execution changes.
// Revision must be the revision the caller read; a mismatch means another
// advance committed in between and the whole commit is rejected.
type AdvanceCommit struct {
	PipelineID string
	Revision   int64
	FromPhase  string
	ToPhase    string
	Status     domain.PipelineStatus
	Artifacts  map[string]any
	Reason     string
}

// CommitAdvance atomically updates the pipeline's artifact map, current
// phase, and status, and appends the transition row. Either everything is
// persisted or nothing is.
func (s *Store) CommitAdvance(ctx context.Context, c AdvanceCommit) error {
	artifactsJSON, err := json.Marshal(orEmpty(c.Artifacts))
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var completedAt *time.Time
	if c.Status == domain.StatusComplete {
		completedAt = &now
	}

	query := s.dialect.Rebind(`UPDATE pipelines
SET current_phase = ?, status = ?, artifacts = ?, completed_at = ?, revision = revision + 1, updated_at = ?
WHERE id = ? AND revision = ?`)

	res, err := tx.ExecContext(ctx, query,
		c.ToPhase, string(c.Status), string(artifactsJSON), completedAt, now,
		c.PipelineID, c.Revision)
	if err != nil {
		return fmt.Errorf("failed to update pipeline: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pipeline %s at revision %d: %w", c.PipelineID, c.Revision, ErrStaleRevision)
	}

	transQuery := s.dialect.Rebind(`INSERT INTO phase_transitions
(id, pipeline_id, from_phase, to_phase, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?)`)

	_, err = tx.ExecContext(ctx, transQuery,
		uuid.New().String(), c.PipelineID, c.FromPhase, c.ToPhase, c.Reason, now)
	if err != nil {
		return fmt.Errorf("failed to record transition: %w", err)
	}

	return tx.Commit()
}

// UpdatePipelineStatus sets the status field only. Used for the explicit
// failed transition; advancement goes through CommitAdvance.
func (s *Store) UpdatePipelineStatus(ctx context.Context, id string, status domain.PipelineStatus) error {
	query := s.dialect.Rebind(`UPDATE pipelines SET status = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update pipeline status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pipeline %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetPhaseConfig loads one phase configuration by name.
func (s *Store) GetPhaseConfig(ctx context.Context, phaseName string) (*domain.PhaseConfig, error) {
	query := s.dialect.Rebind(`SELECT phase_name, role_name, artifact_type, next_phase, active
FROM phase_configs WHERE phase_name = ?`)

	var c domain.PhaseConfig
	err := s.db.QueryRowContext(ctx, query, phaseName).Scan(
		&c.PhaseName, &c.RoleName, &c.ArtifactType, &c.NextPhase, &c.Active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("phase config %s: %w", phaseName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get phase config: %w", err)
	}
	return &c, nil
}

// ListPhaseConfigs returns every phase configuration, active or not.
func (s *Store) ListPhaseConfigs(ctx context.Context) ([]domain.PhaseConfig, error) {
	query := `SELECT phase_name, role_name, artifact_type, next_phase, active FROM phase_configs ORDER BY phase_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query phase configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.PhaseConfig
	for rows.Next() {
		var c domain.PhaseConfig
		if err := rows.Scan(&c.PhaseName, &c.RoleName, &c.ArtifactType, &c.NextPhase, &c.Active); err != nil {
			return nil, fmt.Errorf("failed to scan phase config: %w", err)
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

// UpsertPhaseConfig inserts or replaces a phase configuration. The primary
// key on phase_name is what enforces one config per phase.
func (s *Store) UpsertPhaseConfig(ctx context.Context, c domain.PhaseConfig) error {
	upsert := s.dialect.UpsertClause("phase_name",
		[]string{"role_name", "artifact_type", "next_phase", "active", "updated_at"})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO phase_configs
(phase_name, role_name, artifact_type, next_phase, active, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
%s`, upsert))

	_, err := s.db.ExecContext(ctx, query,
		c.PhaseName, c.RoleName, c.ArtifactType, c.NextPhase, c.Active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert phase config: %w", err)
	}
	return nil
}

// UpsertRole inserts or replaces a role.
func (s *Store) UpsertRole(ctx context.Context, r domain.Role) error {
	upsert := s.dialect.UpsertClause("name", []string{"description", "active"})
	query := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO roles (name, description, active)
VALUES (?, ?, ?)
%s`, upsert))

	_, err := s.db.ExecContext(ctx, query, r.Name, r.Description, r.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}
	return nil
}

// ListActiveRoles returns the names of all active roles.
func (s *Store) ListActiveRoles(ctx context.Context) ([]domain.Role, error) {
	query := s.dialect.Rebind(`SELECT name, description, active FROM roles WHERE active = ? ORDER BY name`)

	rows, err := s.db.QueryContext(ctx, query, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var r domain.Role
		if err := rows.Scan(&r.Name, &r.Description, &r.Active); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// InsertPrompt stores a prompt template version.
func (s *Store) InsertPrompt(ctx context.Context, p domain.PromptTemplate) error {
	query := s.dialect.Rebind(`INSERT INTO prompts (id, role_name, version, template, active)
VALUES (?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query, p.ID, p.RoleName, p.Version, p.Template, p.Active)
	if err != nil {
		return fmt.Errorf("failed to insert prompt: %w", err)
	}
	return nil
}

// ActivePromptForRole returns the single active prompt template for a role,
// highest version first if several are flagged active.
func (s *Store) ActivePromptForRole(ctx context.Context, roleName string) (*domain.PromptTemplate, error) {
	query := s.dialect.Rebind(`SELECT id, role_name, version, template, active
FROM prompts WHERE role_name = ? AND active = ?
ORDER BY version DESC LIMIT 1`)

	var p domain.PromptTemplate
	err := s.db.QueryRowContext(ctx, query, roleName, true).Scan(
		&p.ID, &p.RoleName, &p.Version, &p.Template, &p.Active)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active prompt for role %s: %w", roleName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt: %w", err)
	}
	return &p, nil
}

// InsertUsage appends one prompt usage row to the audit trail.
func (s *Store) InsertUsage(ctx context.Context, rec *domain.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.UsedAt.IsZero() {
		rec.UsedAt = time.Now().UTC()
	}

	query := s.dialect.Rebind(`INSERT INTO prompt_usage (id, pipeline_id, prompt_id, role_name, phase_name, used_at)
VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.PipelineID, rec.PromptID, rec.RoleName, rec.PhaseName, rec.UsedAt)
	if err != nil {
		return fmt.Errorf("failed to insert usage: %w", err)
	}
	return nil
}

// ListUsage returns the usage rows for one pipeline in insertion order.
func (s *Store) ListUsage(ctx context.Context, pipelineID string) ([]domain.UsageRecord, error) {
	query := s.dialect.Rebind(`SELECT id, pipeline_id, prompt_id, role_name, phase_name, used_at
FROM prompt_usage WHERE pipeline_id = ? ORDER BY used_at ASC`)

	rows, err := s.db.QueryContext(ctx, query, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		if err := rows.Scan(&r.ID, &r.PipelineID, &r.PromptID, &r.RoleName, &r.PhaseName, &r.UsedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ListTransitions returns the transition history for one pipeline.
func (s *Store) ListTransitions(ctx context.Context, pipelineID string) ([]domain.PhaseTransition, error) {
	query := s.dialect.Rebind(`SELECT id, pipeline_id, from_phase, to_phase, reason, created_at
FROM phase_transitions WHERE pipeline_id = ? ORDER BY created_at ASC`)

	rows, err := s.db.QueryContext(ctx, query, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []domain.PhaseTransition
	for rows.Next() {
		var tr domain.PhaseTransition
		if err := rows.Scan(&tr.ID, &tr.PipelineID, &tr.FromPhase, &tr.ToPhase, &tr.Reason, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
