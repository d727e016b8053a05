package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/codepal/codepal/internal/backend"
	"github.com/codepal/codepal/internal/intent"
	"github.com/codepal/codepal/internal/otp"
	"github.com/codepal/codepal/internal/store"
)

// mockBackend is a scriptable model tier.
type mockBackend struct {
	name  string
	avail backend.Availability
	res   otp.Result
	err   error
	calls int
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Availability(ctx context.Context) backend.Availability {
	if m.avail == "" {
		return backend.AvailabilityReady
	}
	return m.avail
}

func (m *mockBackend) Extract(ctx context.Context, req otp.Request) (otp.Result, error) {
	m.calls++
	return m.res, m.err
}

// mockAutofill records every delivered code.
type mockAutofill struct {
	codes []string
}

func (m *mockAutofill) Fill(ctx context.Context, code string) error {
	m.codes = append(m.codes, code)
	return nil
}

// brokenAutofill always fails delivery.
type brokenAutofill struct{}

func (brokenAutofill) Fill(ctx context.Context, code string) error {
	return errors.New("no focused field")
}

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, store.Store) {
	t.Helper()
	if cfg.Engine == nil {
		e, err := otp.NewEngine(0)
		if err != nil {
			t.Fatalf("NewEngine: %v", err)
		}
		cfg.Engine = e
	}
	if cfg.Store == nil {
		s, err := store.NewStore(store.Config{DBPath: ":memory:"})
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		cfg.Store = s
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, cfg.Store
}

func acceptedResult(code string, method otp.Method, reasoning string) otp.Result {
	return otp.Result{
		Accepted:   true,
		Code:       code,
		Confidence: 0.9,
		Method:     method,
		Language:   otp.LangEnglish,
		Reasoning:  reasoning,
	}
}

func TestProcessLocalShortCircuit(t *testing.T) {
	nano := &mockBackend{name: "nano"}
	cloud := &mockBackend{name: "cloud"}
	fill := &mockAutofill{}
	p, _ := newTestPipeline(t, Config{Nano: nano, Cloud: cloud, Autofill: fill, CloudEnabled: true})

	res, err := p.Process(context.Background(), otp.Request{
		Text:     "Your verification code is: 824917. It expires in 10 minutes.",
		Language: otp.LangEnglish,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Accepted || res.Code != "824917" || res.Method != otp.MethodLocal {
		t.Errorf("result = %+v", res)
	}
	if nano.calls != 0 || cloud.calls != 0 {
		t.Errorf("model tiers called on local accept: nano=%d cloud=%d", nano.calls, cloud.calls)
	}
	if len(fill.codes) != 1 || fill.codes[0] != "824917" {
		t.Errorf("autofill codes = %v", fill.codes)
	}
}

func TestProcessEscalatesToNano(t *testing.T) {
	nano := &mockBackend{
		name: "nano",
		res:  acceptedResult("445566", otp.MethodNano, "labeled as a verification code"),
	}
	cloud := &mockBackend{name: "cloud"}
	p, st := newTestPipeline(t, Config{Nano: nano, Cloud: cloud, CloudEnabled: true})

	res, err := p.Process(context.Background(), otp.Request{
		Text:     "Please enter 445566 on the portal to continue.",
		Language: otp.LangEnglish,
		Metadata: map[string]string{"domain": "mail.example.com"},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Accepted || res.Method != otp.MethodNano {
		t.Errorf("result = %+v", res)
	}
	if nano.calls != 1 {
		t.Errorf("nano calls = %d", nano.calls)
	}
	if cloud.calls != 0 {
		t.Error("cloud called although nano answered")
	}

	saved, err := st.LatestFresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if saved == nil || saved.Code != "445566" || saved.Source != "mail.example.com" {
		t.Errorf("persisted code = %+v", saved)
	}
}

func TestProcessEscalatesToCloudWhenNanoDeclines(t *testing.T) {
	nano := &mockBackend{name: "nano", err: backend.ErrUnavailable}
	cloud := &mockBackend{
		name: "cloud",
		res:  acceptedResult("445566", otp.MethodCloud, "labeled as a verification code"),
	}
	p, _ := newTestPipeline(t, Config{Nano: nano, Cloud: cloud, CloudEnabled: true})

	res, err := p.Process(context.Background(), otp.Request{
		Text:     "Please enter 445566 on the portal to continue.",
		Language: otp.LangEnglish,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Accepted || res.Method != otp.MethodCloud {
		t.Errorf("result = %+v", res)
	}
	if nano.calls != 1 {
		t.Error("nano skipped: escalation must try on-device before cloud")
	}
}

func TestProcessCloudDisabled(t *testing.T) {
	nano := &mockBackend{name: "nano", avail: backend.AvailabilityUnavailable}
	cloud := &mockBackend{
		name: "cloud",
		res:  acceptedResult("445566", otp.MethodCloud, "labeled as a verification code"),
	}
	p, _ := newTestPipeline(t, Config{Nano: nano, Cloud: cloud, CloudEnabled: false})

	res, err := p.Process(context.Background(), otp.Request{
		Text:     "Please enter 445566 on the portal to continue.",
		Language: otp.LangEnglish,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Accepted {
		t.Errorf("accepted with every usable tier disabled: %+v", res)
	}
	if cloud.calls != 0 {
		t.Error("cloud called while administratively disabled")
	}
}

func TestProcessValidatorRejectsModelResult(t *testing.T) {
	// Nano confidently mistakes a booking number for a code; the
	// validator rejects it and the orchestrator moves on to cloud.
	nano := &mockBackend{
		name: "nano",
		res:  acceptedResult("548213", otp.MethodNano, "number near booking confirmation"),
	}
	cloud := &mockBackend{name: "cloud"}
	p, _ := newTestPipeline(t, Config{Nano: nano, Cloud: cloud, CloudEnabled: true})

	res, err := p.Process(context.Background(), otp.Request{
		Text:     "Your booking confirmation number is 548213. Thank you for flying with us.",
		Language: otp.LangEnglish,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Accepted {
		t.Errorf("validator-rejected result accepted: %+v", res)
	}
	if cloud.calls != 1 {
		t.Errorf("cloud calls = %d, want 1 (escalation after validator rejection)", cloud.calls)
	}
}

func TestProcessAutofillFailureKeepsResult(t *testing.T) {
	p, st := newTestPipeline(t, Config{Autofill: brokenAutofill{}})

	res, err := p.Process(context.Background(), otp.Request{
		Text:     "Your verification code is: 824917. It expires in 10 minutes.",
		Language: otp.LangEnglish,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !res.Accepted || res.Code != "824917" {
		t.Errorf("result = %+v, want accepted extraction despite failed fill", res)
	}
	if !strings.Contains(res.Err, "autofill") {
		t.Errorf("res.Err = %q, want autofill failure noted", res.Err)
	}

	saved, err := st.LatestFresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if saved == nil || saved.Code != "824917" {
		t.Errorf("persisted code = %+v", saved)
	}
}

func TestProcessExhaustionReportsDeclines(t *testing.T) {
	nano := &mockBackend{name: "nano", err: backend.ErrUnavailable}
	cloud := &mockBackend{name: "cloud"}
	p, _ := newTestPipeline(t, Config{Nano: nano, Cloud: cloud, CloudEnabled: false})

	res, err := p.Process(context.Background(), otp.Request{
		Text:     "Please enter 445566 on the portal to continue.",
		Language: otp.LangEnglish,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Accepted {
		t.Fatalf("accepted with every tier exhausted: %+v", res)
	}
	for _, want := range []string{"local-regex:", "nano:", "cloud: disabled"} {
		if !strings.Contains(res.Err, want) {
			t.Errorf("res.Err = %q, missing %q", res.Err, want)
		}
	}
}

func TestProcessPersistsRedactedContext(t *testing.T) {
	p, st := newTestPipeline(t, Config{})

	_, err := p.Process(context.Background(), otp.Request{
		Text:     "Your verification code is: 824917. Sent to alice@example.com for this login.",
		Language: otp.LangEnglish,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	saved, err := st.LatestFresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if saved == nil {
		t.Fatal("no code persisted")
	}
	if !strings.Contains(saved.Context, "824917") {
		t.Errorf("stored context = %q, want the code's surroundings", saved.Context)
	}
	if strings.Contains(saved.Context, "alice@example.com") || !strings.Contains(saved.Context, "[email]") {
		t.Errorf("stored context = %q, want the address masked", saved.Context)
	}
	if n := len([]rune(saved.Context)); n > storedContextLen {
		t.Errorf("stored context length = %d, want at most %d", n, storedContextLen)
	}
}

func TestProcessDeduplicates(t *testing.T) {
	nano := &mockBackend{name: "nano", err: backend.ErrUnavailable}
	p, _ := newTestPipeline(t, Config{Nano: nano})

	req := otp.Request{Text: "Please enter 445566 on the portal to continue.", Language: otp.LangEnglish}
	if _, err := p.Process(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	res, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reasoning != "message already processed" {
		t.Errorf("duplicate reasoning = %q", res.Reasoning)
	}
	if nano.calls != 1 {
		t.Errorf("nano calls = %d, want 1 (duplicate must not re-run tiers)", nano.calls)
	}

	// Whitespace-only variations hash the same.
	req2 := otp.Request{Text: "  Please enter  445566   on the portal to continue. ", Language: otp.LangEnglish}
	res, err = p.Process(context.Background(), req2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reasoning != "message already processed" {
		t.Errorf("normalized duplicate not detected: %+v", res)
	}
}

func TestFillLatestRequiresIntent(t *testing.T) {
	tr := intent.NewTracker(time.Minute)
	fill := &mockAutofill{}
	p, st := newTestPipeline(t, Config{Intent: tr, Autofill: fill})

	if _, err := st.SaveCode(context.Background(), &store.Code{
		Code: "824917", Confidence: 0.9, Method: otp.MethodLocal, Language: otp.LangEnglish,
	}); err != nil {
		t.Fatal(err)
	}

	code, err := p.FillLatest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != "" || len(fill.codes) != 0 {
		t.Error("filled without an active intent window")
	}

	p.SignalIntent()
	code, err = p.FillLatest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != "824917" || len(fill.codes) != 1 {
		t.Errorf("code = %q, fills = %v", code, fill.codes)
	}
}

func TestStatusReflectsCloudToggle(t *testing.T) {
	nano := &mockBackend{name: "nano", avail: backend.AvailabilityDownloadable}
	cloud := &mockBackend{name: "cloud"}
	p, _ := newTestPipeline(t, Config{Nano: nano, Cloud: cloud, CloudEnabled: false})

	statuses := p.Status(context.Background())
	if len(statuses) != 3 {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].Name != "local-regex" || statuses[0].Availability != backend.AvailabilityReady {
		t.Errorf("local status = %+v", statuses[0])
	}
	if statuses[1].Availability != backend.AvailabilityDownloadable {
		t.Errorf("nano status = %+v", statuses[1])
	}
	if statuses[2].Availability != backend.AvailabilityUnavailable {
		t.Errorf("disabled cloud status = %+v", statuses[2])
	}
}
