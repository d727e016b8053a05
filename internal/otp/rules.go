package otp

import (
	"fmt"
	"regexp"
)

// RuleSet bundles the regex patterns and lexicons for one language.
// Patterns are ordered by specificity: explicit label-adjacent forms
// first ("verification code: NNNNNN"), bare trailing forms last. Each
// pattern captures exactly one group, the candidate digit sequence;
// ValidateRuleSets enforces this at engine construction.
type RuleSet struct {
	Language Language
	Patterns []*regexp.Regexp
	Keywords []string
	Contexts []string
}

// digits is the shared digit-run fragment used by every rule pattern.
var digits = fmt.Sprintf(`(\d{%d,%d})`, MinCodeLen, MaxCodeLen)

var ruleSets = map[Language]*RuleSet{
	LangChinese: {
		Language: LangChinese,
		Patterns: compile(
			`(?i)验证码[：:]\s*`+digits,
			`(?i)验证码为[：:]?\s*`+digits,
			`(?i)您的验证码[：:]?\s*`+digits,
			`(?i)验证码\s*`+digits,
			`(?i)code[：:]\s*`+digits,
			digits+`\s*是您的验证码`,
			`(\d{6})\s*验证码`,
		),
		Keywords: []string{"验证码", "验证", "code", "代码"},
		Contexts: []string{"登录", "注册", "安全验证", "身份验证"},
	},
	LangEnglish: {
		Language: LangEnglish,
		Patterns: compile(
			`(?i)verification code is[：:]?\s*`+digits,
			`(?i)verification code[：:]\s*`+digits,
			`(?i)your code is[：:]?\s*`+digits,
			`(?i)your code[：:]\s*`+digits,
			`(?i)code[：:]\s*`+digits,
			`(?i)otp[：:]\s*`+digits,
			`(?i)pin[：:]\s*`+digits,
			`(?i)use code\s*`+digits,
			`(?i)`+digits+`\s*is your verification code`,
			`(?i)(\d{6})\s*verification code`,
		),
		Keywords: []string{"verification", "code", "otp", "pin", "token"},
		Contexts: []string{"login", "signup", "security", "authentication"},
	},
	LangSpanish: {
		Language: LangSpanish,
		Patterns: compile(
			`(?i)código de verificación[：:]?\s*`+digits,
			`(?i)tu código es[：:]?\s*`+digits,
			`(?i)tu código[：:]\s*`+digits,
			`(?i)código[：:]\s*`+digits,
			`(?i)`+digits+`\s*es tu código`,
			`(?i)(\d{6})\s*código de verificación`,
		),
		Keywords: []string{"código", "verificación", "code"},
		Contexts: []string{"inicio", "registro", "seguridad"},
	},
	LangItalian: {
		Language: LangItalian,
		Patterns: compile(
			`(?i)codice di verifica[：:]?\s*`+digits,
			`(?i)il tuo codice è[：:]?\s*`+digits,
			`(?i)il tuo codice[：:]\s*`+digits,
			`(?i)codice[：:]\s*`+digits,
			`(?i)`+digits+`\s*è il tuo codice`,
			`(?i)(\d{6})\s*codice di verifica`,
		),
		Keywords: []string{"codice", "verifica", "code"},
		Contexts: []string{"accesso", "registrazione", "sicurezza"},
	},
}

// universalRuleSet is the last-resort fallback: bare 6, 4, or 8-digit
// runs with empty lexicons, so its ceiling confidence is inherently low
// (base plus length bonus only). Six digits first, so the most common
// OTP length wins pattern-order tie breaks.
var universalRuleSet = &RuleSet{
	Language: LangUniversal,
	Patterns: compile(
		`\b(\d{6})\b`,
		`\b(\d{4})\b`,
		`\b(\d{8})\b`,
	),
	Keywords: []string{},
	Contexts: []string{},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// ValidateRuleSets checks every rule set for misconfiguration: each
// pattern must capture exactly one group and the lexicon slices must be
// non-nil. Called at engine construction so a bad rule table fails fast
// instead of silently matching nothing.
func ValidateRuleSets() error {
	all := make([]*RuleSet, 0, len(ruleSets)+1)
	for _, rs := range ruleSets {
		all = append(all, rs)
	}
	all = append(all, universalRuleSet)

	for _, rs := range all {
		if len(rs.Patterns) == 0 {
			return fmt.Errorf("rule set %s: no patterns", rs.Language)
		}
		for _, p := range rs.Patterns {
			if p.NumSubexp() != 1 {
				return fmt.Errorf("rule set %s: pattern %q captures %d groups, want 1", rs.Language, p.String(), p.NumSubexp())
			}
		}
		if rs.Keywords == nil {
			return fmt.Errorf("rule set %s: nil keyword list", rs.Language)
		}
		if rs.Contexts == nil {
			return fmt.Errorf("rule set %s: nil context list", rs.Language)
		}
	}
	return nil
}

// SupportedLanguages lists the languages with dedicated rule sets.
func SupportedLanguages() []Language {
	return []Language{LangChinese, LangEnglish, LangSpanish, LangItalian}
}
