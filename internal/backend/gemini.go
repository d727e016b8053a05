package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codepal/codepal/internal/otp"
	"github.com/codepal/codepal/internal/prompt"
)

const (
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// Rate-limit retry policy: linear backoff, capped attempts.
	geminiMaxAttempts = 3
	geminiBackoffStep = 2 * time.Second
)

// GeminiConfig configures the cloud tier.
type GeminiConfig struct {
	APIKey  string
	Model   string // empty = defaultGeminiModel
	BaseURL string // optional override, used by tests
}

// Gemini is the cloud extraction tier over the Google AI Studio REST
// API.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	backoff time.Duration
	client  http.Client
}

// NewGemini returns a Gemini backend. An empty API key is allowed; the
// backend then reports itself unavailable instead of failing requests
// with auth errors.
func NewGemini(cfg GeminiConfig) *Gemini {
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		backoff: geminiBackoffStep,
		client:  http.Client{Timeout: 30 * time.Second},
	}
}

func (g *Gemini) Name() string {
	return "gemini/" + g.model
}

func (g *Gemini) Availability(ctx context.Context) Availability {
	if g.apiKey == "" {
		return AvailabilityUnavailable
	}
	return AvailabilityReady
}

// Gemini request/response types.
type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *geminiError `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Extract sends the shared extraction prompt and parses the JSON reply.
// HTTP 429 and 5xx are retried with linear backoff; other failures
// surface as ErrUnavailable so the orchestrator records a tier decline
// rather than a hard error.
func (g *Gemini) Extract(ctx context.Context, req otp.Request) (otp.Result, error) {
	if g.apiKey == "" {
		return otp.Result{}, fmt.Errorf("no API key configured: %w", ErrUnavailable)
	}

	raw, err := g.complete(ctx, prompt.Build(req))
	if err != nil {
		return otp.Result{}, err
	}
	return ParseReply(raw, otp.MethodCloud, req.Language)
}

func (g *Gemini) complete(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: text}}, Role: "user"},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:      0,
			MaxOutputTokens:  256,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)

	var lastErr error
	for attempt := 1; attempt <= geminiMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt-1) * g.backoff):
			}
		}

		reply, retry, err := g.doRequest(ctx, url, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// doRequest performs one attempt. retry is true for rate limiting and
// server-side failures; client errors are final.
func (g *Gemini) doRequest(ctx context.Context, url string, body []byte) (reply string, retry bool, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", false, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", true, fmt.Errorf("retryable gemini status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("gemini API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var gResp geminiResponse
	if err := json.Unmarshal(respBody, &gResp); err != nil {
		return "", false, fmt.Errorf("parsing response: %w", err)
	}
	if gResp.Error != nil {
		return "", false, fmt.Errorf("gemini API error: %s (code %d)", gResp.Error.Message, gResp.Error.Code)
	}
	if len(gResp.Candidates) == 0 || len(gResp.Candidates[0].Content.Parts) == 0 {
		return "", false, fmt.Errorf("empty response from gemini API")
	}
	return strings.TrimSpace(gResp.Candidates[0].Content.Parts[0].Text), false, nil
}
