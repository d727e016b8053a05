package prompt

import (
	"strings"
	"testing"

	"github.com/codepal/codepal/internal/otp"
)

func TestBuildContainsContract(t *testing.T) {
	p := Build(otp.Request{
		Text:     "Your verification code is: 824917",
		Language: otp.LangEnglish,
	})

	for _, want := range []string{
		"```",
		"Your verification code is: 824917",
		`"otp"`,
		`"confidence"`,
		`"reasoning"`,
		"null",
		"verification code",
		"booking",
		"trust the metadata",
		"digits only",
		`"source"`,
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildMetadataSortedAndTruncated(t *testing.T) {
	long := strings.Repeat("t", 600)
	p := Build(otp.Request{
		Text:     "code 123456",
		Language: otp.LangEnglish,
		Metadata: map[string]string{
			"title":  long,
			"domain": "mail.example.com",
		},
	})

	if strings.Contains(p, long) {
		t.Error("oversized metadata value not truncated")
	}
	if !strings.Contains(p, "domain: mail.example.com") {
		t.Error("metadata entry missing")
	}
	if strings.Index(p, "domain:") > strings.Index(p, "title:") {
		t.Error("metadata keys not sorted")
	}
}

func TestBuildLanguageCues(t *testing.T) {
	p := Build(otp.Request{Text: "您的验证码: 445566", Language: otp.LangChinese})
	if !strings.Contains(p, "验证码") {
		t.Error("Chinese cues missing from prompt")
	}

	// Unknown languages fall back to the English lexicon.
	p = Build(otp.Request{Text: "code 123456", Language: otp.Language("fr")})
	if !strings.Contains(p, "verification code") {
		t.Error("fallback cues missing from prompt")
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"contact alice@example.com now", "contact [email] now"},
		{"card 4111-1111-1111-1111 charged", "card [card] charged"},
		{"call +1 555-123-4567 back", "call [phone] back"},
		{"your code is 824917", "your code is 824917"},
	}
	for _, tt := range tests {
		if got := Redact(tt.in); got != tt.want {
			t.Errorf("Redact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
