// Package sanitize scrubs untrusted model output and flags prompt
// injection attempts.
//
// Every raw model response passes through Text before it reaches a game
// engine or the parser. DetectInjection flags suspicious patterns but
// never blocks: the flag is recorded as a violation and the action is
// still processed if otherwise valid.
package sanitize

import (
	"regexp"
	"strings"
)

// Injection patterns, case-insensitive. Heuristic: false positives are
// possible but rare.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)\[\s*INST\s*\]`),
	regexp.MustCompile(`(?i)"role"\s*:\s*"system"`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|the|free|unbound)`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?previous`),
	regexp.MustCompile(`(?i)<\s*/?\s*human\s*>`),
	regexp.MustCompile(`(?i)<\s*/?\s*assistant\s*>`),
}

// Text strips control characters (keeping TAB, LF, CR), DEL, zero-width
// characters and the BOM. All other Unicode is preserved.
func Text(s string) string {
	// Fast path: most responses are clean ASCII text.
	clean := true
	for _, r := range s {
		if isStripped(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if !isStripped(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isStripped(r rune) bool {
	switch r {
	case '\t', '\n', '\r':
		return false
	case 0x7f: // DEL
		return true
	case 0x200b, 0x200c, 0x200d, 0x2060, 0xfeff, 0x00ad:
		return true
	}
	return r < 0x20
}

// DetectInjection reports whether text contains a known prompt-injection
// pattern. Detection only flags; it never blocks.
func DetectInjection(s string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
