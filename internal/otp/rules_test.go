package otp

import "testing"

func TestValidateRuleSets(t *testing.T) {
	if err := ValidateRuleSets(); err != nil {
		t.Fatalf("ValidateRuleSets: %v", err)
	}
}

func TestRuleSetsSingleCaptureGroup(t *testing.T) {
	for lang, rs := range ruleSets {
		for _, p := range rs.Patterns {
			if n := p.NumSubexp(); n != 1 {
				t.Errorf("%s pattern %q has %d capture groups", lang, p, n)
			}
		}
	}
	for _, p := range universalRuleSet.Patterns {
		if n := p.NumSubexp(); n != 1 {
			t.Errorf("universal pattern %q has %d capture groups", p, n)
		}
	}
}

func TestValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"1234", true},
		{"123456", true},
		{"12345678", true},
		{"123", false},
		{"123456789", false},
		{"12a456", false},
		{"12 456", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidCode(tt.code); got != tt.want {
			t.Errorf("ValidCode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestCuesFallBackToEnglish(t *testing.T) {
	pos, neg := Cues(Language("fr"))
	enPos, enNeg := Cues(LangEnglish)
	if len(pos) != len(enPos) || len(neg) != len(enNeg) {
		t.Errorf("unknown language cues = %d/%d, want English fallback %d/%d",
			len(pos), len(neg), len(enPos), len(enNeg))
	}
}
