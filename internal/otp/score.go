package otp

import "strings"

// Score computes the additive confidence for one regex match. matchPos
// is the byte offset of the match in text, or -1 when the caller has no
// position (disables the boundary bonus). Pure function: same inputs,
// same output, no I/O.
//
//	base 0.5
//	+0.10 per distinct keyword present (case-insensitive substring)
//	+0.15 per distinct context phrase present
//	+ length bonus: 0.20 for 6 digits, 0.15 for 4, 0.10 otherwise
//	+0.10 if the match sits in the first or last 10% of the text
//
// clamped to [0,1]. Callers must discard codes outside [MinCodeLen,
// MaxCodeLen] before scoring; Score does not re-validate.
func Score(text, code string, rs *RuleSet, matchPos int) float64 {
	lower := strings.ToLower(text)

	conf := 0.5
	for _, kw := range rs.Keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			conf += 0.10
		}
	}
	for _, cx := range rs.Contexts {
		if strings.Contains(lower, strings.ToLower(cx)) {
			conf += 0.15
		}
	}

	switch len(code) {
	case 6:
		conf += 0.20
	case 4:
		conf += 0.15
	default:
		conf += 0.10
	}

	if matchPos >= 0 && len(text) > 0 {
		edge := len(text) / 10
		if matchPos <= edge || matchPos >= len(text)-edge {
			conf += 0.10
		}
	}

	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
