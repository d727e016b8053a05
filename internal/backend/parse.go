package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/codepal/codepal/internal/otp"
)

// parseFloor is the minimum model confidence a reply must state before
// the parser marks it accepted. Strictly greater-than: a model saying
// exactly 0.5 is saying "coin flip".
const parseFloor = 0.5

type modelReply struct {
	Otp        json.RawMessage `json:"otp"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// ParseReply extracts the JSON object embedded in a model's free-text
// reply. Models wrap JSON in prose and markdown fences, so the parser
// takes the span from the first '{' to the last '}' and decodes that.
// The result is accepted only when otp is non-null and the stated
// confidence clears the floor; the downstream validator does the real
// vetting.
func ParseReply(raw string, method otp.Method, lang otp.Language) (otp.Result, error) {
	res := otp.Result{Method: method, Language: lang}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return res, fmt.Errorf("no JSON object in model reply")
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &reply); err != nil {
		return res, fmt.Errorf("decoding model reply: %w", err)
	}

	code, ok := coerceCode(reply.Otp)
	res.Confidence = clamp01(reply.Confidence)
	res.Reasoning = strings.TrimSpace(reply.Reasoning)

	if !ok {
		res.Reasoning = firstNonEmpty(res.Reasoning, "model reported no code")
		return res, nil
	}
	if res.Confidence <= parseFloor {
		res.Reasoning = firstNonEmpty(res.Reasoning, "model confidence too low")
		return res, nil
	}

	res.Accepted = true
	res.Code = code
	return res, nil
}

// coerceCode turns the otp field into a digit string. Models sometimes
// emit the code as a bare JSON number; both forms are tolerated here
// and format errors are left to the validator.
func coerceCode(raw json.RawMessage) (string, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", false
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return s, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
