// Package otp implements the local OTP recognition engine for CodePal:
// per-language pattern rule sets, additive confidence scoring, and
// best-candidate selection across rule priorities.
//
// Everything in this package is pure and read-only after construction
// (no I/O, no hidden state), so concurrent extraction requests need no
// locking and the scorer is testable in isolation.
package otp

import (
	"fmt"
	"regexp"
)

// Language identifies a supported rule-set language.
type Language string

const (
	LangChinese Language = "zh"
	LangEnglish Language = "en"
	LangSpanish Language = "es"
	LangItalian Language = "it"

	// LangAuto asks the engine to detect the language from the text.
	LangAuto Language = "auto"

	// LangUniversal tags candidates produced by the bare-digit fallback
	// rules. It is never a valid request language.
	LangUniversal Language = "universal"
)

// Method records which tier produced an extraction result.
type Method string

const (
	MethodLocal Method = "local-regex"
	MethodNano  Method = "on-device-model"
	MethodCloud Method = "cloud-model"
)

// MinCodeLen and MaxCodeLen bound valid OTP digit lengths system-wide.
// The rule patterns, scorer, validator, and prompt contract all derive
// from these two constants; change them here and nowhere else.
const (
	MinCodeLen = 4
	MaxCodeLen = 8
)

// CodePattern matches a complete valid code: digits only, length in bounds.
var CodePattern = regexp.MustCompile(fmt.Sprintf(`^\d{%d,%d}$`, MinCodeLen, MaxCodeLen))

// ValidCode reports whether code is a pure digit string within the
// system-wide length bounds.
func ValidCode(code string) bool {
	return CodePattern.MatchString(code)
}

// Request is the immutable input to the extraction pipeline.
type Request struct {
	// Text is the raw candidate email/message content, already free of
	// markup where possible.
	Text string

	// Language is the declared language tag (zh, en, es, it, or auto).
	Language Language

	// Metadata carries optional corroborating context from the client
	// (sender, subject, snippet, message id). Never the primary signal.
	Metadata map[string]string
}

// Candidate is one regex match scored against one rule set.
type Candidate struct {
	Code         string
	Confidence   float64
	RuleLanguage Language

	// Priority orders rule sets: 1 = declared-language rules,
	// 2 = English fallback rules, 3 = universal rules. Lower wins.
	Priority int
}

// Result is the output of any extraction tier.
type Result struct {
	Accepted   bool     `json:"accepted"`
	Code       string   `json:"otp,omitempty"`
	Confidence float64  `json:"confidence"`
	Method     Method   `json:"method,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Language   Language `json:"language,omitempty"`

	// Err carries a human-readable failure or decline description.
	// Errors never propagate past the pipeline boundary as panics or
	// raw error values; they degrade to unaccepted results.
	Err string `json:"error,omitempty"`
}
