// Package prompt builds the instruction sent to language-model
// backends. Both the on-device and cloud tiers share one template so
// their replies can be parsed by the same code.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codepal/codepal/internal/otp"
)

// maxMetadataLen caps each metadata value; page titles and snippets can
// be arbitrarily long and the model only needs a hint.
const maxMetadataLen = 500

// Build renders the extraction instruction for req. The message text
// goes inside a fence so the model does not confuse instructions with
// content, and the reply contract pins the JSON shape the parser
// expects.
func Build(req otp.Request) string {
	lang := req.Language
	if lang == "" {
		lang = otp.LangAuto
	}
	positive, negative := otp.Cues(lang)

	var b strings.Builder
	b.WriteString("You are an assistant that extracts one-time passwords (OTP) from messages.\n")
	fmt.Fprintf(&b, "The code is a %d-%d digit sequence used for login or identity verification.\n\n", otp.MinCodeLen, otp.MaxCodeLen)

	fmt.Fprintf(&b, "Phrases that indicate a verification code: %s.\n", strings.Join(positive, ", "))
	fmt.Fprintf(&b, "Phrases that indicate the number is NOT a verification code: %s.\n", strings.Join(negative, ", "))
	b.WriteString("Order numbers, booking references, tracking numbers and invoice numbers are never OTPs.\n\n")

	if lang != otp.LangAuto {
		fmt.Fprintf(&b, "The message language is declared as %q.\n", lang)
	}
	writeMetadata(&b, req.Metadata)

	b.WriteString("\nMessage:\n```\n")
	b.WriteString(req.Text)
	b.WriteString("\n```\n\n")

	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"otp": "<digits>" or null, "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}` + "\n")
	b.WriteString("Use null for otp when no verification code is present.\n")
	b.WriteString("When the context metadata and the message body disagree, trust the metadata.\n")
	b.WriteString("The otp value must contain digits only; never invent separators or letters.\n")
	b.WriteString(`You may add "source": {"field": "<where the code was found>"} when it is clear.` + "\n")
	return b.String()
}

// writeMetadata emits metadata keys in sorted order so prompts are
// reproducible, truncating oversized values.
func writeMetadata(b *strings.Builder, md map[string]string) {
	if len(md) == 0 {
		return
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("Context about where the message was seen:\n")
	for _, k := range keys {
		v := md[k]
		if len(v) > maxMetadataLen {
			v = v[:maxMetadataLen] + "…"
		}
		fmt.Fprintf(b, "- %s: %s\n", k, v)
	}
}
