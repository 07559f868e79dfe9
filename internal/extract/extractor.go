// Package extract recovers structured JSON artifacts from free-form model
// output. Strategies run in a configurable order; the first to produce a
// value wins. The extractor itself never fails: every problem is captured
// in the returned Outcome.
package extract

import (
	"fmt"
	"log/slog"
	"strings"
)

// Outcome is the result of one extraction attempt. A failed outcome never
// carries partial data; Diagnostics holds one message per failed strategy.
type Outcome struct {
	Success      bool
	Data         any
	StrategyUsed string
	Diagnostics  []string
}

// Extractor tries an ordered list of strategies against raw response text.
type Extractor struct {
	strategies []Strategy
	logger     *slog.Logger
}

// DefaultStrategies returns the standard ordering: direct, fenced-block,
// boundary-scan. Tightest first, loosest last.
func DefaultStrategies() []Strategy {
	return []Strategy{Direct{}, FencedBlock{}, BoundaryScan{}}
}

// New creates an extractor with an explicit strategy ordering. An empty
// list is a configuration error and is rejected here, not at parse time.
func New(logger *slog.Logger, strategies []Strategy) (*Extractor, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("extractor requires at least one strategy")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{strategies: strategies, logger: logger}, nil
}

// NewDefault creates an extractor with the default strategy ordering.
func NewDefault(logger *slog.Logger) *Extractor {
	e, _ := New(logger, DefaultStrategies())
	return e
}

// Parse attempts each strategy in order and returns the first recovered
// value. Empty input short-circuits to failure without running any
// strategy.
func (e *Extractor) Parse(text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Outcome{
			Success:     false,
			Diagnostics: []string{"empty response text"},
		}
	}

	var diagnostics []string
	for _, s := range e.strategies {
		v, err := s.Extract(text)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: %v", s.Name(), err))
			e.logger.Debug("extraction strategy failed",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Debug("extraction succeeded", slog.String("strategy", s.Name()))
		return Outcome{
			Success:      true,
			Data:         v,
			StrategyUsed: s.Name(),
		}
	}

	return Outcome{
		Success:     false,
		Diagnostics: diagnostics,
	}
}
