package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Strategy is one self-contained algorithm for recovering a structured JSON
// value from free-form model output. Implementations return the decoded
// value, or an error describing why this strategy could not recover one.
type Strategy interface {
	Name() string
	Extract(text string) (any, error)
}

// fillerPrefixes are leading phrases models commonly emit before the payload.
var fillerPrefixes = []string{
	"Here is the JSON:",
	"Here is the result:",
	"Result:",
	"Output:",
}

// decodeStructured parses text as JSON and accepts only object- or
// array-shaped values. Scalars are rejected: a bare number or string is
// never a usable artifact.
func decodeStructured(text string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, fmt.Errorf("parsed value is not an object or array")
	}
}

// Direct strips whitespace and known filler prefixes, then attempts a
// full-text parse.
type Direct struct{}

func (Direct) Name() string { return "direct" }

func (Direct) Extract(text string) (any, error) {
	text = strings.TrimSpace(text)
	for _, prefix := range fillerPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	return decodeStructured(text)
}

// fencePattern matches ``` or ```json fenced blocks, non-greedy so multiple
// fences in one response each produce their own match.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?[ \t]*\n(.*?)\n[ \t]*```")

// FencedBlock extracts delimited code blocks. When several fences are
// present the largest body is attempted first, falling through to smaller
// ones until one parses.
type FencedBlock struct{}

func (FencedBlock) Name() string { return "fenced-block" }

func (FencedBlock) Extract(text string) (any, error) {
	matches := fencePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no fenced code blocks found")
	}

	bodies := make([]string, 0, len(matches))
	for _, m := range matches {
		bodies = append(bodies, m[1])
	}
	sort.SliceStable(bodies, func(i, j int) bool {
		return len(bodies[i]) > len(bodies[j])
	})

	var lastErr error
	for _, body := range bodies {
		v, err := decodeStructured(strings.TrimSpace(body))
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no fenced block parsed: %w", lastErr)
}

// BoundaryScan takes the substring from the first opening brace or bracket
// to the last matching closer and attempts a parse. It is the loosest
// strategy and runs last in the default ordering.
type BoundaryScan struct{}

func (BoundaryScan) Name() string { return "boundary-scan" }

func (BoundaryScan) Extract(text string) (any, error) {
	opener, closer := byte('{'), byte('}')
	first := strings.IndexByte(text, '{')
	if bracket := strings.IndexByte(text, '['); bracket != -1 && (first == -1 || bracket < first) {
		opener, closer = '[', ']'
		first = bracket
	}
	if first == -1 {
		return nil, fmt.Errorf("no opening brace or bracket found")
	}
	last := strings.LastIndexByte(text, closer)
	if last <= first {
		return nil, fmt.Errorf("no closing %q after opening %q", closer, opener)
	}
	return decodeStructured(text[first : last+1])
}
