package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// reasoningPrefixes name the model families that take the reasoning
// token parameter (max_completion_tokens) and reject temperature != 1.
var reasoningPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

// OpenAI adapts any OpenAI-compatible chat-completions endpoint.
type OpenAI struct {
	client      *openai.Client
	modelID     string
	temperature float32
}

// OpenAIConfig configures an OpenAI-compatible adapter.
type OpenAIConfig struct {
	ModelID     string
	APIKey      string
	BaseURL     string
	Temperature float32
	// ExtraHeaders are added to every request (OpenRouter attribution).
	ExtraHeaders map[string]string
}

// NewOpenAI builds an adapter for the OpenAI API or any compatible
// endpoint selected via BaseURL.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if len(cfg.ExtraHeaders) > 0 {
		clientCfg.HTTPClient = &http.Client{
			Transport: &headerTransport{
				base:    http.DefaultTransport,
				headers: cfg.ExtraHeaders,
			},
		}
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientCfg),
		modelID:     cfg.ModelID,
		temperature: cfg.Temperature,
	}
}

func usesReasoningTokenParams(modelID string) bool {
	if i := strings.IndexByte(modelID, '/'); i >= 0 {
		modelID = modelID[i+1:]
	}
	for _, p := range reasoningPrefixes {
		if strings.HasPrefix(modelID, p) {
			return true
		}
	}
	return false
}

// Query sends a chat completion request with one blocking rate-limit retry.
func (a *OpenAI) Query(ctx context.Context, messages []Message, opts QueryOptions) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model:       a.modelID,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: a.temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	// Reasoning models take max_completion_tokens and only accept the
	// default temperature.
	if usesReasoningTokenParams(a.modelID) {
		req.MaxCompletionTokens = opts.MaxTokens
		req.Temperature = 1
	} else {
		req.MaxTokens = opts.MaxTokens
	}

	start := time.Now()
	completion, err := a.callAPI(ctx, req, opts.Timeout)
	if err != nil {
		return Response{}, err
	}
	elapsedMS := float64(time.Since(start).Microseconds()) / 1000.0

	if len(completion.Choices) == 0 {
		return Response{}, &Error{Kind: ErrEmptyResponse, ModelID: a.modelID, Details: "no choices in completion"}
	}
	msg := completion.Choices[0].Message
	if msg.Content == "" && msg.ReasoningContent == "" {
		return Response{}, &Error{Kind: ErrEmptyResponse, ModelID: a.modelID, Details: "empty message content"}
	}

	return Response{
		RawText:       msg.Content,
		ReasoningText: msg.ReasoningContent,
		InputTokens:   completion.Usage.PromptTokens,
		OutputTokens:  completion.Usage.CompletionTokens,
		LatencyMS:     elapsedMS,
		ModelID:       a.modelID,
		ModelVersion:  completion.Model,
	}, nil
}

func (a *OpenAI) callAPI(ctx context.Context, req openai.ChatCompletionRequest, timeout time.Duration) (openai.ChatCompletionResponse, error) {
	for attempt := 0; attempt < 2; attempt++ {
		callCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		completion, err := a.client.CreateChatCompletion(callCtx, req)
		if err == nil {
			return completion, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return openai.ChatCompletionResponse{}, &Error{Kind: ErrTimeout, ModelID: a.modelID, Details: err.Error()}
		}

		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			if attempt == 0 {
				time.Sleep(rateLimitBackoff)
				continue
			}
			return openai.ChatCompletionResponse{}, &Error{Kind: ErrRateLimit, ModelID: a.modelID, Details: err.Error()}
		}

		return openai.ChatCompletionResponse{}, &Error{Kind: ErrAPI, ModelID: a.modelID, Details: err.Error()}
	}
	return openai.ChatCompletionResponse{}, &Error{Kind: ErrAPI, ModelID: a.modelID, Details: "max retries exceeded"}
}

// headerTransport injects fixed headers into every outgoing request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
