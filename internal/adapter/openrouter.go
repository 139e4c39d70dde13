package adapter

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// NewOpenRouter builds an adapter for OpenRouter's OpenAI-compatible API,
// optionally adding the attribution headers OpenRouter uses for rankings.
func NewOpenRouter(modelID, apiKey string, temperature float32, siteURL, appName string) *OpenAI {
	headers := map[string]string{}
	if siteURL != "" {
		headers["HTTP-Referer"] = siteURL
	}
	if appName != "" {
		headers["X-Title"] = appName
	}
	return NewOpenAI(OpenAIConfig{
		ModelID:      modelID,
		APIKey:       apiKey,
		BaseURL:      openRouterBaseURL,
		Temperature:  temperature,
		ExtraHeaders: headers,
	})
}
