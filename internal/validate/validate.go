// Package validate re-checks model-produced extraction results before
// they are trusted. Local regex results skip this gate: the scorer
// already encodes the same heuristics. The main failure mode guarded
// against is a model treating order, booking, or tracking numbers as
// verification codes.
package validate

import (
	"strings"

	"github.com/codepal/codepal/internal/otp"
)

const (
	// contextRadius bounds the text window inspected around the code.
	contextRadius = 80

	// strictThreshold is the confidence floor for results with no
	// corroborating positive cue.
	strictThreshold = 0.85

	// ambiguousThreshold applies when positive and negative cues
	// appear together.
	ambiguousThreshold = 0.9
)

// Check applies the heuristic gate to an AI-sourced result against the
// text it was extracted from. Returns false with a short reason on the
// first violated rule.
func Check(res otp.Result, originalText string) (bool, string) {
	if !otp.ValidCode(res.Code) {
		return false, "code is not a 4-8 digit sequence"
	}

	window := ContextWindow(originalText, res.Code)
	haystack := strings.ToLower(window + " " + res.Reasoning)

	positive, negative := otp.Cues(res.Language)
	hasPositive := containsAny(haystack, positive)
	hasNegative := containsAny(haystack, negative)

	switch {
	case hasNegative && !hasPositive:
		// Hard reject regardless of confidence.
		return false, "negative context without positive confirmation"
	case hasNegative && hasPositive && res.Confidence < ambiguousThreshold:
		return false, "ambiguous context requires higher confidence"
	case !hasPositive && res.Confidence < strictThreshold:
		return false, "no positive cue and confidence below strict threshold"
	}
	return true, ""
}

// ContextWindow returns up to contextRadius bytes either side of the
// first occurrence of code in text, or the whole text when the code
// does not literally appear (the model may have normalized separators).
// The pipeline stores the same window alongside accepted codes.
func ContextWindow(text, code string) string {
	idx := strings.Index(text, code)
	if idx < 0 {
		return text
	}
	start := idx - contextRadius
	if start < 0 {
		start = 0
	}
	end := idx + len(code) + contextRadius
	if end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, strings.ToLower(n)) {
			return true
		}
	}
	return false
}
