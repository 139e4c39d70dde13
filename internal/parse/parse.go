// Package parse extracts a structured action from raw model output.
//
// Model output is hostile input: it may wrap JSON in prose or code
// fences, emit several JSON objects while "thinking out loud", break
// string values across lines, or drop the opening brace entirely. The
// extractor scans for every brace-delimited candidate and keeps the
// LAST one that both parses and passes the action schema, on the
// grounds that a model's final answer supersedes its earlier drafts.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mousetraptech/llmtourney/internal/game"
	"github.com/mousetraptech/llmtourney/internal/sanitize"
)

// candidateRe matches a JSON object with at most one level of brace
// nesting, which covers every action shape engines define.
var candidateRe = regexp.MustCompile(`\{[^{}]*(?:\{[^{}]*\}[^{}]*)*\}`)

// fenceRe strips markdown code fences, with or without a language tag.
var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\n?(.*?)```")

// headlessRe recognizes output that lost its opening brace but still
// looks like JSON object members ending in a closing brace.
var headlessRe = regexp.MustCompile(`(?s)^\s*"[^"]+"\s*:.*\}`)

// Result is the outcome of one extraction attempt.
type Result struct {
	Success           bool
	Action            map[string]any
	RawJSON           string // the candidate text that won (or first tried)
	Err               string
	InjectionDetected bool
}

// Parse sanitizes raw model output and extracts the last valid action.
// The schema may be nil, in which case any well-formed object passes.
func Parse(raw string, schema *game.Schema) Result {
	cleaned := sanitize.Text(raw)
	res := Result{InjectionDetected: sanitize.DetectInjection(cleaned)}

	cleaned = stripFences(cleaned)
	candidates := candidateRe.FindAllString(cleaned, -1)
	if len(candidates) == 0 {
		if synth, ok := synthesizeBrace(cleaned); ok {
			candidates = candidateRe.FindAllString(synth, -1)
		}
	}
	if len(candidates) == 0 {
		res.Err = "no JSON object found in output"
		return res
	}
	res.RawJSON = candidates[0]

	var lastErr error
	// Walk back to front: the last candidate that parses and
	// validates wins.
	for i := len(candidates) - 1; i >= 0; i-- {
		action, err := decodeCandidate(candidates[i])
		if err != nil {
			lastErr = err
			continue
		}
		if schema != nil {
			if err := schema.Validate(action); err != nil {
				lastErr = fmt.Errorf("schema: %w", err)
				continue
			}
		}
		res.Success = true
		res.Action = action
		res.RawJSON = candidates[i]
		res.Err = ""
		return res
	}

	res.Err = lastErr.Error()
	return res
}

// decodeCandidate parses one candidate, retrying once with literal
// newlines inside string values collapsed to spaces.
func decodeCandidate(candidate string) (map[string]any, error) {
	var action map[string]any
	err := json.Unmarshal([]byte(candidate), &action)
	if err == nil {
		return action, nil
	}
	repaired := collapseNewlinesInStrings(candidate)
	if repaired != candidate {
		if rerr := json.Unmarshal([]byte(repaired), &action); rerr == nil {
			return action, nil
		}
	}
	return nil, err
}

// stripFences removes markdown code fences so their contents join the
// candidate scan.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	return fenceRe.ReplaceAllString(s, "$1")
}

// synthesizeBrace prepends an opening brace when output starts at a
// key, a malformation some models produce under tight token caps.
func synthesizeBrace(s string) (string, bool) {
	if !headlessRe.MatchString(s) {
		return "", false
	}
	return "{" + strings.TrimSpace(s), true
}

// collapseNewlinesInStrings replaces raw newlines that appear inside
// JSON string literals with spaces. Raw newlines are invalid JSON but
// common in model output.
func collapseNewlinesInStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for _, r := range s {
		if inString && (r == '\n' || r == '\r') {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(r)
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		}
	}
	return b.String()
}
