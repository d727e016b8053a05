package otp

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultThreshold is the minimum confidence the local engine accepts.
const DefaultThreshold = 0.8

// minTextLen guards against trivially short inputs: anything under it
// short-circuits without running a single regex.
const minTextLen = 10

var whitespaceRun = regexp.MustCompile(`\s+`)

// Engine is the regex extraction tier. It is stateless apart from its
// threshold and safe for concurrent use.
type Engine struct {
	threshold float64
}

// NewEngine validates the compiled rule tables and returns an engine
// with the given acceptance threshold. threshold <= 0 selects
// DefaultThreshold.
func NewEngine(threshold float64) (*Engine, error) {
	if err := ValidateRuleSets(); err != nil {
		return nil, fmt.Errorf("rule tables: %w", err)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if threshold > 1 {
		return nil, fmt.Errorf("threshold %v out of range (0,1]", threshold)
	}
	return &Engine{threshold: threshold}, nil
}

// Threshold reports the engine's acceptance threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Normalize collapses whitespace runs to single spaces and trims the
// ends. Punctuation is kept: colons matter for "code: 123456" labels.
func Normalize(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}

// Extract runs the tiered rule matching over req.Text. An "auto"
// language is resolved with DetectLanguage first. Rule set priority:
// the declared or detected language at 1, English at 2 (unless it was
// already first), universal digit runs at 3. The winner is the
// lowest-priority candidate, confidence breaking ties within a
// priority. Accepted only when the winner clears the threshold.
func (e *Engine) Extract(req Request) Result {
	text := Normalize(req.Text)
	lang := req.Language
	if lang == "" {
		lang = LangAuto
	}

	if len(text) < minTextLen {
		return Result{
			Accepted:  false,
			Method:    MethodLocal,
			Language:  lang,
			Reasoning: "insufficient content",
		}
	}

	if lang == LangAuto {
		lang = DetectLanguage(text)
	}

	type tier struct {
		rs       *RuleSet
		priority int
	}
	var tiers []tier
	if rs, ok := ruleSets[lang]; ok {
		tiers = append(tiers, tier{rs, 1})
	}
	if lang != LangEnglish {
		tiers = append(tiers, tier{ruleSets[LangEnglish], 2})
	}
	tiers = append(tiers, tier{universalRuleSet, 3})

	var candidates []Candidate
	for _, t := range tiers {
		if c, ok := bestMatch(text, t.rs); ok {
			c.Priority = t.priority
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		return Result{
			Accepted:  false,
			Method:    MethodLocal,
			Language:  lang,
			Reasoning: "no pattern matched",
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})
	winner := candidates[0]

	res := Result{
		Accepted:   winner.Confidence >= e.threshold,
		Code:       winner.Code,
		Confidence: winner.Confidence,
		Method:     MethodLocal,
		Language:   winner.RuleLanguage,
	}
	if res.Accepted {
		res.Reasoning = fmt.Sprintf("matched %s rule set at priority %d", winner.RuleLanguage, winner.Priority)
	} else {
		res.Code = ""
		res.Reasoning = fmt.Sprintf("best candidate %.2f below threshold %.2f", winner.Confidence, e.threshold)
	}
	return res
}

// bestMatch evaluates every pattern of one rule set against text and
// keeps the highest-confidence match. Ties go to the earlier pattern,
// which keeps selection deterministic across runs.
func bestMatch(text string, rs *RuleSet) (Candidate, bool) {
	best := Candidate{RuleLanguage: rs.Language, Confidence: -1}
	for _, p := range rs.Patterns {
		loc := p.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		code := text[loc[2]:loc[3]]
		if !ValidCode(code) {
			continue
		}
		conf := Score(text, code, rs, loc[0])
		if conf > best.Confidence {
			best.Code = code
			best.Confidence = conf
		}
	}
	return best, best.Confidence >= 0
}

// Accented character classes separating Spanish from Italian text.
// Spanish checked first: the classes overlap on the acute vowels.
const (
	spanishChars = "ñáéíóúü¿¡"
	italianChars = "àèéìíòóù"
)

// DetectLanguage guesses the rule language from script signals. It is a
// cheap heuristic used when no language was declared; the English
// fallback tier in Extract covers mis-detection.
func DetectLanguage(text string) Language {
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			return LangChinese
		}
	}
	lower := strings.ToLower(text)
	if strings.ContainsAny(lower, spanishChars) {
		return LangSpanish
	}
	if strings.ContainsAny(lower, italianChars) {
		return LangItalian
	}
	return LangEnglish
}
