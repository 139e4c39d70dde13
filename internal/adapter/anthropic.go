package adapter

import (
	"context"
	"errors"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// Anthropic adapts the Anthropic Messages API. Extended-thinking blocks
// are surfaced as ReasoningText, text blocks as RawText.
type Anthropic struct {
	client      *anthropic.Client
	modelID     string
	temperature float32
}

// NewAnthropic builds an adapter for the Anthropic Messages API.
func NewAnthropic(modelID, apiKey string, temperature float32) *Anthropic {
	return &Anthropic{
		client:      anthropic.NewClient(apiKey),
		modelID:     modelID,
		temperature: temperature,
	}
}

// Query sends a messages request with one blocking rate-limit retry.
func (a *Anthropic) Query(ctx context.Context, messages []Message, opts QueryOptions) (Response, error) {
	req := anthropic.MessagesRequest{
		Model:       anthropic.Model(a.modelID),
		MaxTokens:   opts.MaxTokens,
		Temperature: &a.temperature,
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			req.Messages = append(req.Messages, anthropic.NewAssistantTextMessage(m.Content))
		default:
			req.Messages = append(req.Messages, anthropic.NewUserTextMessage(m.Content))
		}
	}

	start := time.Now()
	resp, err := a.callAPI(ctx, req, opts.Timeout)
	if err != nil {
		return Response{}, err
	}
	elapsedMS := float64(time.Since(start).Microseconds()) / 1000.0

	var rawText, reasoningText string
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil {
				rawText = *block.Text
			}
		case anthropic.MessagesContentTypeThinking:
			if block.Thinking != "" {
				reasoningText = block.Thinking
			}
		}
	}
	if rawText == "" && reasoningText == "" {
		return Response{}, &Error{Kind: ErrEmptyResponse, ModelID: a.modelID, Details: "no content blocks in response"}
	}

	return Response{
		RawText:       rawText,
		ReasoningText: reasoningText,
		InputTokens:   resp.Usage.InputTokens,
		OutputTokens:  resp.Usage.OutputTokens,
		LatencyMS:     elapsedMS,
		ModelID:       a.modelID,
		ModelVersion:  string(resp.Model),
	}, nil
}

func (a *Anthropic) callAPI(ctx context.Context, req anthropic.MessagesRequest, timeout time.Duration) (anthropic.MessagesResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		resp, err := a.client.CreateMessages(callCtx, req)
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return anthropic.MessagesResponse{}, &Error{Kind: ErrTimeout, ModelID: a.modelID, Details: err.Error()}
		}

		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) && apiErr.IsRateLimitErr() {
			if attempt == 0 {
				time.Sleep(rateLimitBackoff)
				continue
			}
			return anthropic.MessagesResponse{}, &Error{Kind: ErrRateLimit, ModelID: a.modelID, Details: err.Error()}
		}

		return anthropic.MessagesResponse{}, &Error{Kind: ErrAPI, ModelID: a.modelID, Details: err.Error()}
	}
	return anthropic.MessagesResponse{}, &Error{Kind: ErrAPI, ModelID: a.modelID, Details: "max retries exceeded"}
}
