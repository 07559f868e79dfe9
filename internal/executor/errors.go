package executor

import (
	"fmt"
	"strings"
)

// The executor classifies every failure into one of four error kinds (plus
// phases.ConfigurationError from the config store). Each carries the phase
// name and pipeline id so callers and logs can locate the failure without
// extra context.

func formatError(pipelineID, phaseName, msg string) string {
	return fmt.Sprintf("[%s:%s] %s", pipelineID, phaseName, msg)
}

// PromptBuildError signals that no usable prompt could be built for the
// phase's role.
type PromptBuildError struct {
	PipelineID string
	PhaseName  string
	Msg        string
	Err        error
}

func (e *PromptBuildError) Error() string {
	return formatError(e.PipelineID, e.PhaseName, e.Msg)
}

func (e *PromptBuildError) Unwrap() error { return e.Err }

// ModelError signals that the model call failed. It is recognized here,
// not retried; retry policy belongs to a caller one layer up.
type ModelError struct {
	PipelineID string
	PhaseName  string
	Msg        string
}

func (e *ModelError) Error() string {
	return formatError(e.PipelineID, e.PhaseName, e.Msg)
}

// ParseError signals that no extraction strategy recovered structured data.
// Diagnostics carries the union of all per-strategy failure messages.
type ParseError struct {
	PipelineID  string
	PhaseName   string
	Diagnostics []string
}

func (e *ParseError) Error() string {
	return formatError(e.PipelineID, e.PhaseName,
		fmt.Sprintf("parse failed: %s", strings.Join(e.Diagnostics, "; ")))
}

// ExecutionError is the catch-all for anything unanticipated. Nothing
// escapes the executor unclassified.
type ExecutionError struct {
	PipelineID string
	PhaseName  string
	Msg        string
	Err        error
}

func (e *ExecutionError) Error() string {
	return formatError(e.PipelineID, e.PhaseName, e.Msg)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
