package backend

import (
	"context"
	"fmt"
	"math"
	"os"
	"regexp"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/codepal/codepal/internal/otp"
)

const (
	// nanoWindow bounds the text slice classified around each digit
	// run. Matches the validator's context radius so both tiers judge
	// the same evidence.
	nanoWindow = 80

	nanoMaxSeqLen = 256
)

var digitRun = regexp.MustCompile(fmt.Sprintf(`\b\d{%d,%d}\b`, otp.MinCodeLen, otp.MaxCodeLen))

// NanoConfig locates the on-device model artifacts.
type NanoConfig struct {
	ModelPath     string // ONNX sequence classifier
	TokenizerPath string // tokenizer.json alongside the model
	LibraryPath   string // onnxruntime shared library
}

// Nano is the on-device tier: a small ONNX binary classifier that
// scores the context window around each candidate digit run. No text
// leaves the machine. Initialization is lazy so constructing the
// backend never pays the model-load cost when the local regex tier
// already answers everything.
type Nano struct {
	cfg NanoConfig

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	tk      *tokenizer.Tokenizer
	initErr error
	loaded  bool
}

func NewNano(cfg NanoConfig) *Nano {
	return &Nano{cfg: cfg}
}

func (n *Nano) Name() string { return "nano/onnx" }

// Availability inspects the model files on disk. A missing model with
// an in-progress download marker reports downloading; a missing model
// without one reports downloadable (a fetch would fix it); a missing
// runtime library is unrecoverable from here.
func (n *Nano) Availability(ctx context.Context) Availability {
	if n.cfg.LibraryPath == "" || !fileExists(n.cfg.LibraryPath) {
		return AvailabilityUnavailable
	}
	if fileExists(n.cfg.ModelPath) && fileExists(n.cfg.TokenizerPath) {
		return AvailabilityReady
	}
	if fileExists(n.cfg.ModelPath + ".partial") {
		return AvailabilityDownloading
	}
	return AvailabilityDownloadable
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (n *Nano) init() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.loaded {
		return n.initErr
	}
	n.loaded = true

	if !fileExists(n.cfg.ModelPath) || !fileExists(n.cfg.TokenizerPath) {
		n.initErr = fmt.Errorf("model artifacts missing: %w", ErrUnavailable)
		return n.initErr
	}

	ort.SetSharedLibraryPath(n.cfg.LibraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		n.initErr = fmt.Errorf("initializing onnxruntime: %w", err)
		return n.initErr
	}

	tk, err := pretrained.FromFile(n.cfg.TokenizerPath)
	if err != nil {
		n.initErr = fmt.Errorf("loading tokenizer: %w", err)
		return n.initErr
	}

	session, err := ort.NewDynamicAdvancedSession(
		n.cfg.ModelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"logits"},
		nil,
	)
	if err != nil {
		n.initErr = fmt.Errorf("loading onnx model: %w", err)
		return n.initErr
	}

	n.tk = tk
	n.session = session
	return nil
}

// Extract classifies the window around every candidate digit run and
// keeps the highest-scoring one. The classifier emits two logits,
// [not-otp, otp]; softmax of the pair is the confidence.
func (n *Nano) Extract(ctx context.Context, req otp.Request) (otp.Result, error) {
	if err := n.init(); err != nil {
		return otp.Result{}, err
	}

	text := otp.Normalize(req.Text)
	locs := digitRun.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return otp.Result{
			Method:    otp.MethodNano,
			Language:  req.Language,
			Reasoning: "no candidate digit sequence",
		}, nil
	}

	best := otp.Result{Method: otp.MethodNano, Language: req.Language, Confidence: -1}
	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			return otp.Result{}, err
		}
		code := text[loc[0]:loc[1]]
		conf, err := n.classify(window(text, loc[0], loc[1]))
		if err != nil {
			return otp.Result{}, fmt.Errorf("classifying candidate: %w", err)
		}
		if conf > best.Confidence {
			best.Code = code
			best.Confidence = conf
		}
	}

	if best.Confidence > parseFloor {
		best.Accepted = true
		best.Reasoning = "on-device classifier scored candidate context"
	} else {
		best.Code = ""
		best.Reasoning = "on-device classifier found no likely code"
	}
	return best, nil
}

func (n *Nano) classify(text string) (float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	enc, err := n.tk.EncodeSingle(text, true)
	if err != nil {
		return 0, fmt.Errorf("encoding: %w", err)
	}

	ids := enc.Ids
	mask := enc.AttentionMask
	if len(ids) > nanoMaxSeqLen {
		ids = ids[:nanoMaxSeqLen]
		mask = mask[:nanoMaxSeqLen]
	}

	seq := int64(len(ids))
	shape := ort.NewShape(1, seq)

	inputIDs, err := ort.NewTensor(shape, toInt64(ids))
	if err != nil {
		return 0, fmt.Errorf("input tensor: %w", err)
	}
	defer inputIDs.Destroy()

	attention, err := ort.NewTensor(shape, toInt64(mask))
	if err != nil {
		return 0, fmt.Errorf("attention tensor: %w", err)
	}
	defer attention.Destroy()

	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		return 0, fmt.Errorf("output tensor: %w", err)
	}
	defer logits.Destroy()

	err = n.session.Run(
		[]ort.Value{inputIDs, attention},
		[]ort.Value{logits},
	)
	if err != nil {
		return 0, fmt.Errorf("running model: %w", err)
	}

	out := logits.GetData()
	if len(out) < 2 {
		return 0, fmt.Errorf("model returned %d logits, want 2", len(out))
	}
	return softmaxPositive(float64(out[0]), float64(out[1])), nil
}

// Close releases the ONNX session. Safe to call on a never-initialized
// backend.
func (n *Nano) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session != nil {
		err := n.session.Destroy()
		n.session = nil
		return err
	}
	return nil
}

// window slices up to nanoWindow bytes either side of [start,end).
func window(text string, start, end int) string {
	lo := start - nanoWindow
	if lo < 0 {
		lo = 0
	}
	hi := end + nanoWindow
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}

// softmaxPositive returns the softmax probability of the positive
// class given [negative, positive] logits.
func softmaxPositive(neg, pos float64) float64 {
	m := math.Max(neg, pos)
	en := math.Exp(neg - m)
	ep := math.Exp(pos - m)
	return ep / (en + ep)
}

func toInt64(vals []int) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v)
	}
	return out
}
