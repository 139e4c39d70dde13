package adapter

import (
	"context"
	"time"
)

// DefaultCharsPerToken approximates the character cost of one output
// token for mock truncation. The exact ratio is a heuristic.
const DefaultCharsPerToken = 4

// Strategy is a pure function standing in for a model: it receives the
// prompt messages and game context and returns raw text.
type Strategy func(messages []Message, meta map[string]any) string

// Mock is a deterministic offline adapter for testing and baseline play.
type Mock struct {
	modelID       string
	strategy      Strategy
	charsPerToken int
}

// NewMock builds a mock adapter around a strategy function.
func NewMock(modelID string, strategy Strategy) *Mock {
	return &Mock{
		modelID:       modelID,
		strategy:      strategy,
		charsPerToken: DefaultCharsPerToken,
	}
}

// SetCharsPerToken overrides the truncation ratio.
func (m *Mock) SetCharsPerToken(n int) {
	if n > 0 {
		m.charsPerToken = n
	}
}

// Query runs the strategy and truncates its output at the token cap.
func (m *Mock) Query(ctx context.Context, messages []Message, opts QueryOptions) (Response, error) {
	start := time.Now()
	raw := m.strategy(messages, opts.Meta)
	if raw == "" {
		return Response{}, &Error{Kind: ErrEmptyResponse, ModelID: m.modelID, Details: "strategy returned no text"}
	}

	if opts.MaxTokens > 0 {
		maxChars := opts.MaxTokens * m.charsPerToken
		if len(raw) > maxChars {
			raw = raw[:maxChars]
		}
	}

	outputTokens := len(raw) / m.charsPerToken
	if outputTokens < 1 {
		outputTokens = 1
	}

	return Response{
		RawText:      raw,
		OutputTokens: outputTokens,
		LatencyMS:    float64(time.Since(start).Microseconds()) / 1000.0,
		ModelID:      m.modelID,
		ModelVersion: m.modelID,
	}, nil
}
