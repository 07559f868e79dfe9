// Package llm wraps a single model call behind a never-failing interface.
// Transport and provider faults are captured in the returned Outcome, with
// elapsed time measured on both the success and failure paths. Retry policy
// deliberately does not live here; that is a decision for a caller one
// layer up.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/workforge/orchestrator/internal/anthropic"
)

// MessagesAPI is the slice of the Anthropic client the invoker depends on.
type MessagesAPI interface {
	CreateMessage(ctx context.Context, req *anthropic.MessagesRequest) (*anthropic.MessagesResponse, error)
}

// TokenCounts reports token consumption for one invocation.
type TokenCounts struct {
	Input  int
	Output int
}

// Outcome is the result of one model invocation. Error is a stringified
// cause, populated only when Success is false.
type Outcome struct {
	Success     bool
	RawText     string
	ElapsedMS   int64
	TokenCounts *TokenCounts
	Error       string
}

// Invoker performs a single model call per Invoke. It never returns an
// error: every fault becomes a failed Outcome.
type Invoker struct {
	client MessagesAPI
	logger *slog.Logger
}

// NewInvoker creates an invoker around a configured Messages API client.
func NewInvoker(client MessagesAPI, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{client: client, logger: logger}
}

// Invoke sends one request to the model and returns the outcome. The call
// blocks until the transport completes; no timeout is enforced here beyond
// whatever the underlying HTTP client and ctx provide.
func (i *Invoker) Invoke(ctx context.Context, systemText, userText, modelID string, maxTokens int, temperature float64) Outcome {
	i.logger.Debug("calling model",
		slog.String("model", modelID),
		slog.Int("max_tokens", maxTokens),
		slog.Float64("temperature", temperature),
	)
	start := time.Now()

	resp, err := i.client.CreateMessage(ctx, &anthropic.MessagesRequest{
		Model:       modelID,
		MaxTokens:   maxTokens,
		Temperature: &temperature,
		System:      systemText,
		Messages: []anthropic.Message{
			{Role: "user", Content: userText},
		},
	})
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := fmt.Sprintf("%v", err)
		i.logger.Error("model call failed",
			slog.Int64("elapsed_ms", elapsed),
			slog.String("error", errMsg),
		)
		return Outcome{
			Success:   false,
			ElapsedMS: elapsed,
			Error:     errMsg,
		}
	}

	i.logger.Debug("model call succeeded",
		slog.Int64("elapsed_ms", elapsed),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
	)

	return Outcome{
		Success:   true,
		RawText:   resp.Text(),
		ElapsedMS: elapsed,
		TokenCounts: &TokenCounts{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
		},
	}
}
