// Package pipeline is the escalation orchestrator: local regex first,
// then the on-device model, then the cloud model, stopping at the first
// accepted result. Model-produced results pass the heuristic validator
// before they count as accepted. Accepted codes are persisted and
// offered to the autofill agent.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/codepal/codepal/internal/backend"
	"github.com/codepal/codepal/internal/intent"
	"github.com/codepal/codepal/internal/otp"
	"github.com/codepal/codepal/internal/prompt"
	"github.com/codepal/codepal/internal/store"
	"github.com/codepal/codepal/internal/validate"
)

// defaultDedupTTL bounds how long a message hash is remembered
// in-process. The store keeps hashes across restarts; the cache just
// spares the database on hot paths like repeated DOM scans.
const defaultDedupTTL = 10 * time.Minute

// storedContextLen bounds the redacted context snippet persisted with
// each accepted code.
const storedContextLen = 200

// Autofill receives accepted codes. Implementations deliver them to
// whatever surface the host offers (clipboard, focused field, socket).
type Autofill interface {
	Fill(ctx context.Context, code string) error
}

// Extractor is the local tier's contract, satisfied by *otp.Engine.
type Extractor interface {
	Extract(req otp.Request) otp.Result
}

// TierStatus reports one tier's availability for status surfaces.
type TierStatus struct {
	Name         string               `json:"name"`
	Availability backend.Availability `json:"availability"`
}

// Config assembles a Pipeline. Engine and Store are required; Nano,
// Cloud, Intent and Autofill are optional tiers and hooks.
type Config struct {
	Engine       Extractor
	Nano         backend.Backend
	Cloud        backend.Backend
	Store        store.Store
	Intent       *intent.Tracker
	Autofill     Autofill
	CloudEnabled bool
	DedupTTL     time.Duration
}

// Pipeline runs extraction requests through the tiers.
type Pipeline struct {
	engine       Extractor
	nano         backend.Backend
	cloud        backend.Backend
	store        store.Store
	intent       *intent.Tracker
	autofill     Autofill
	seen         *cache.Cache
	cloudEnabled bool
}

// New validates required components and builds a pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("pipeline requires a local engine")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("pipeline requires a store")
	}
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &Pipeline{
		engine:       cfg.Engine,
		nano:         cfg.Nano,
		cloud:        cfg.Cloud,
		store:        cfg.Store,
		intent:       cfg.Intent,
		autofill:     cfg.Autofill,
		seen:         cache.New(ttl, 2*ttl),
		cloudEnabled: cfg.CloudEnabled,
	}, nil
}

// MessageHash identifies a message for deduplication: the hash of its
// normalized text, so whitespace-only differences collapse.
func MessageHash(text string) string {
	sum := sha256.Sum256([]byte(otp.Normalize(text)))
	return hex.EncodeToString(sum[:])
}

// Process runs one message through the tiers. Duplicate messages are
// answered without re-running any tier. A tier that declines or errors
// is recorded and the next tier tried; only a store failure on an
// accepted result surfaces as an error.
func (p *Pipeline) Process(ctx context.Context, req otp.Request) (otp.Result, error) {
	hash := MessageHash(req.Text)

	if dup, err := p.isDuplicate(ctx, hash); err != nil {
		return otp.Result{}, err
	} else if dup {
		return otp.Result{
			Method:    otp.MethodLocal,
			Language:  req.Language,
			Reasoning: "message already processed",
		}, nil
	}
	p.seen.SetDefault(hash, struct{}{})

	res := p.runTiers(ctx, req)

	if err := p.store.MarkProcessed(ctx, hash); err != nil {
		return otp.Result{}, fmt.Errorf("recording processed message: %w", err)
	}
	if !res.Accepted {
		return res, nil
	}

	if err := p.persist(ctx, req, res); err != nil {
		return otp.Result{}, err
	}
	if p.autofill != nil {
		// A failed fill never discards the extraction: the code is
		// already persisted and stays retrievable.
		if err := p.autofill.Fill(ctx, res.Code); err != nil {
			res.Err = fmt.Sprintf("autofill: %v", err)
		}
	}
	return res, nil
}

func (p *Pipeline) isDuplicate(ctx context.Context, hash string) (bool, error) {
	if _, ok := p.seen.Get(hash); ok {
		return true, nil
	}
	dup, err := p.store.WasProcessed(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("checking processed messages: %w", err)
	}
	return dup, nil
}

// runTiers walks the escalation ladder. The local result acts as the
// fallback answer when every model tier declines or fails validation,
// with each tier's decline reason collected into its Err field.
func (p *Pipeline) runTiers(ctx context.Context, req otp.Request) otp.Result {
	local := p.engine.Extract(req)
	if local.Accepted {
		return local
	}
	declines := []string{"local-regex: " + local.Reasoning}

	if res, why, ok := p.runModelTier(ctx, p.nano, req); ok {
		return res
	} else if why != "" {
		declines = append(declines, why)
	}
	if p.cloudEnabled {
		if res, why, ok := p.runModelTier(ctx, p.cloud, req); ok {
			return res
		} else if why != "" {
			declines = append(declines, why)
		}
	} else {
		declines = append(declines, "cloud: disabled")
	}

	local.Err = strings.Join(declines, "; ")
	return local
}

// runModelTier runs one model backend and vets its answer. ok is true
// only for a validated accepted result; declines, errors and validator
// rejections fall through to the next tier, described by why.
func (p *Pipeline) runModelTier(ctx context.Context, b backend.Backend, req otp.Request) (res otp.Result, why string, ok bool) {
	if b == nil {
		return otp.Result{}, "", false
	}
	if avail := b.Availability(ctx); avail != backend.AvailabilityReady {
		return otp.Result{}, b.Name() + ": " + string(avail), false
	}

	res, err := b.Extract(ctx, req)
	if err != nil {
		// ErrUnavailable and transport failures are both recoverable
		// here: the next tier gets its chance.
		return otp.Result{}, b.Name() + ": " + err.Error(), false
	}
	if !res.Accepted {
		return otp.Result{}, b.Name() + ": " + res.Reasoning, false
	}
	if vok, reason := validate.Check(res, req.Text); !vok {
		return otp.Result{}, b.Name() + ": " + reason, false
	}
	return res, "", true
}

func (p *Pipeline) persist(ctx context.Context, req otp.Request, res otp.Result) error {
	_, err := p.store.SaveCode(ctx, &store.Code{
		Code:       res.Code,
		Confidence: res.Confidence,
		Method:     res.Method,
		Language:   res.Language,
		Source:     req.Metadata["domain"],
		Reasoning:  res.Reasoning,
		Context:    contextSnippet(req.Text, res.Code),
	})
	if err != nil {
		return fmt.Errorf("persisting code: %w", err)
	}
	return nil
}

// contextSnippet is the text stored alongside an accepted code: the
// window around the code with PII masked, capped at storedContextLen
// runes.
func contextSnippet(text, code string) string {
	snippet := prompt.Redact(validate.ContextWindow(otp.Normalize(text), code))
	if r := []rune(snippet); len(r) > storedContextLen {
		snippet = string(r[:storedContextLen])
	}
	return snippet
}

// FillLatest offers the newest fresh code to the autofill agent, but
// only while the user's intent window is active: unsolicited fills are
// how codes end up in the wrong field. Returns the offered code, empty
// when nothing was filled.
func (p *Pipeline) FillLatest(ctx context.Context) (string, error) {
	if p.intent == nil || !p.intent.Active() {
		return "", nil
	}
	if p.autofill == nil {
		return "", nil
	}

	c, err := p.store.LatestFresh(ctx)
	if err != nil {
		return "", fmt.Errorf("loading latest code: %w", err)
	}
	if c == nil {
		return "", nil
	}
	if err := p.autofill.Fill(ctx, c.Code); err != nil {
		return "", fmt.Errorf("autofill: %w", err)
	}
	return c.Code, nil
}

// SignalIntent opens the intent window, if a tracker is configured.
func (p *Pipeline) SignalIntent() {
	if p.intent != nil {
		p.intent.Signal()
	}
}

// CloudEnabled reports whether the cloud tier may be attempted.
func (p *Pipeline) CloudEnabled() bool { return p.cloudEnabled }

// Status reports each configured tier's availability, local first.
func (p *Pipeline) Status(ctx context.Context) []TierStatus {
	out := []TierStatus{{Name: "local-regex", Availability: backend.AvailabilityReady}}
	if p.nano != nil {
		out = append(out, TierStatus{Name: p.nano.Name(), Availability: p.nano.Availability(ctx)})
	}
	if p.cloud != nil {
		avail := p.cloud.Availability(ctx)
		if !p.cloudEnabled {
			avail = backend.AvailabilityUnavailable
		}
		out = append(out, TierStatus{Name: p.cloud.Name(), Availability: avail})
	}
	return out
}
