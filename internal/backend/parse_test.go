package backend

import (
	"testing"

	"github.com/codepal/codepal/internal/otp"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		wantAccept bool
		wantCode   string
	}{
		{
			name:       "clean json",
			raw:        `{"otp": "824917", "confidence": 0.92, "reasoning": "labeled verification code"}`,
			wantAccept: true,
			wantCode:   "824917",
		},
		{
			name:       "json wrapped in prose",
			raw:        "Sure, here is the result:\n```json\n{\"otp\": \"445566\", \"confidence\": 0.8, \"reasoning\": \"ok\"}\n```\nLet me know!",
			wantAccept: true,
			wantCode:   "445566",
		},
		{
			name:       "numeric otp field",
			raw:        `{"otp": 824917, "confidence": 0.9, "reasoning": "ok"}`,
			wantAccept: true,
			wantCode:   "824917",
		},
		{
			name:       "null otp",
			raw:        `{"otp": null, "confidence": 0.95, "reasoning": "no code present"}`,
			wantAccept: false,
		},
		{
			name:       "confidence at floor",
			raw:        `{"otp": "824917", "confidence": 0.5, "reasoning": "maybe"}`,
			wantAccept: false,
		},
		{
			name:    "no json at all",
			raw:     "I could not find a code in that message.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"otp": "824917", "confidence": }`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseReply(tt.raw, otp.MethodCloud, otp.LangEnglish)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseReply: %v", err)
			}
			if res.Accepted != tt.wantAccept {
				t.Errorf("accepted = %v, want %v (%+v)", res.Accepted, tt.wantAccept, res)
			}
			if res.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", res.Code, tt.wantCode)
			}
			if res.Method != otp.MethodCloud {
				t.Errorf("method = %q", res.Method)
			}
		})
	}
}

func TestParseReplyClampsConfidence(t *testing.T) {
	res, err := ParseReply(`{"otp": "824917", "confidence": 1.7, "reasoning": "very sure"}`, otp.MethodNano, otp.LangEnglish)
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamp at 1.0", res.Confidence)
	}
}
