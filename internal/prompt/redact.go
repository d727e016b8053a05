package prompt

import "regexp"

// Redaction patterns for text that leaves the process (logs, stored
// context). Bare digit runs are intentionally NOT redacted: they may be
// the verification code itself. Phone numbers are the grey zone and are
// only matched when separators make them unambiguous.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	cardPattern  = regexp.MustCompile(`\b\d{4}[ -]\d{4}[ -]\d{4}[ -]\d{4}\b`)
	phonePattern = regexp.MustCompile(`\+\d{1,3}[ -]?\d{2,4}[ -]\d{3,4}[ -]?\d{3,4}`)
)

// Redact masks emails, separator-formatted card numbers and
// international phone numbers. Safe to call on text that contains an
// OTP: plain 4-8 digit sequences pass through untouched.
func Redact(text string) string {
	text = emailPattern.ReplaceAllString(text, "[email]")
	text = cardPattern.ReplaceAllString(text, "[card]")
	text = phonePattern.ReplaceAllString(text, "[phone]")
	return text
}
