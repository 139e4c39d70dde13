// Package modelnames normalizes model identifiers for consistent analytics.
//
// The same model shows up under several identifiers across YAML configs,
// JSONL telemetry and the external store (provider-prefixed ids, short
// names from older configs). Normalize maps any known alias to one
// canonical display name before a document is written.
package modelnames

import "strings"

// canonical display name → known aliases. The canonical name itself is
// always included implicitly. Matching is case-insensitive.
var canonical = map[string][]string{
	"claude-opus-4.6": {
		"anthropic/claude-opus-4.6",
		"anthropic/claude-opus-4-6",
		"opus-4.6", "opus",
	},
	"claude-sonnet-4.5": {
		"anthropic/claude-sonnet-4.5",
		"sonnet-4.5", "sonnet", "sonnet-a",
	},
	"haiku-4.5": {
		"anthropic/claude-haiku-4.5",
		"anthropic/claude-haiku-4-5",
		"haiku-4-5", "haiku",
	},
	"gpt-5": {
		"openai/gpt-5",
	},
	"gpt-4o": {
		"openai/gpt-4o",
	},
	"gpt-4o-mini": {
		"openai/gpt-4o-mini",
	},
	"o4-mini": {
		"openai/o4-mini",
	},
	"gemini-2.5-pro": {
		"google/gemini-2.5-pro",
	},
	"gemini-2.5-flash": {
		"google/gemini-2.5-flash",
		"gemini-flash",
	},
	"deepseek-r1": {
		"deepseek/deepseek-r1",
	},
	"deepseek-v3": {
		"deepseek/deepseek-chat",
	},
	"grok-3-mini": {
		"x-ai/grok-3-mini",
		"x-ai/grok-3-mini-beta",
	},
	"llama-4-maverick": {
		"meta-llama/llama-4-maverick",
	},
	"llama-4-scout": {
		"meta-llama/llama-4-scout",
		"meta-llama/llama-4-scout-instruct",
		"llama-scout",
	},
	"mistral-large-3": {
		"mistralai/mistral-large-2512",
		"mistralai/mistral-large",
		"mistral-large", "mistral",
	},
	"qwen3-235b": {
		"qwen/qwen3-235b-a22b",
	},
	"kimi-k2": {
		"moonshotai/kimi-k2-thinking",
	},
}

// aliasMap is the reverse lookup (lowercased alias → canonical), built once.
var aliasMap = func() map[string]string {
	m := make(map[string]string)
	for canon, aliases := range canonical {
		m[strings.ToLower(canon)] = canon
		for _, a := range aliases {
			m[strings.ToLower(a)] = canon
		}
	}
	return m
}()

// Normalize maps a model identifier to its canonical display name.
// Unknown identifiers are returned unchanged.
func Normalize(name string) string {
	if canon, ok := aliasMap[strings.ToLower(name)]; ok {
		return canon
	}
	return name
}

// NormalizeAll normalizes a slice of model names.
func NormalizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Normalize(n)
	}
	return out
}
