// Package adapter provides a uniform request/response interface to
// language-model services.
//
// Every provider implementation catches its SDK's failure modes and
// re-raises them as a single *Error carrying a kind the referee can map
// to a violation. Raw SDK errors never propagate past this package.
package adapter

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind classifies adapter failures for the referee pipeline.
type ErrorKind string

const (
	ErrTimeout       ErrorKind = "timeout"
	ErrRateLimit     ErrorKind = "rate_limit"
	ErrAPI           ErrorKind = "api_error"
	ErrEmptyResponse ErrorKind = "empty_response"
)

// rateLimitBackoff is the single blocking retry delay applied before a
// rate-limit error surfaces to the caller.
const rateLimitBackoff = 5 * time.Second

// Error is the only error type adapters return.
type Error struct {
	Kind    ErrorKind
	ModelID string
	Details string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s from %s: %s", e.Kind, e.ModelID, e.Details)
}

// Message is one chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the immutable result of a model query.
type Response struct {
	RawText       string
	ReasoningText string
	InputTokens   int
	OutputTokens  int
	LatencyMS     float64
	ModelID       string
	ModelVersion  string
}

// QueryOptions carries per-call limits and game context.
type QueryOptions struct {
	MaxTokens int
	Timeout   time.Duration
	// Meta is opaque game context (match seed, hand number) made
	// available to mock strategies.
	Meta map[string]any
}

// Adapter is the uniform interface over a language-model service.
type Adapter interface {
	Query(ctx context.Context, messages []Message, opts QueryOptions) (Response, error)
}
