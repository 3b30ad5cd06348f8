package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/promptforge/promptforge/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
	keys  []string
	last  string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Invoke(_ context.Context, prompt, apiKey string) (string, error) {
	s.calls++
	s.keys = append(s.keys, apiKey)
	s.last = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

// stubUsage reports a fixed post-increment count.
type stubUsage struct {
	count     int64
	err       error
	incrCalls int
	incrKeys  []string
}

func (s *stubUsage) Get(context.Context, string) (int64, error) {
	return s.count, s.err
}

func (s *stubUsage) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	s.incrCalls++
	s.incrKeys = append(s.incrKeys, key)
	return s.count, s.err
}

func newTestOrchestrator(gemini, groq *stubProvider, usage *stubUsage) *Orchestrator {
	return &Orchestrator{
		Gemini:    gemini,
		Groq:      groq,
		GeminiKey: "server-gemini-key",
		GroqKey:   "server-groq-key",
		Usage:     usage,
		Now:       func() time.Time { return testNow },
	}
}

func TestRefineUsesGeminiUnderCeiling(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", text: "  refined text  "}
	groq := &stubProvider{name: "llama-3.3-70b-groq", text: "groq text"}
	usage := &stubUsage{count: 1}

	o := newTestOrchestrator(gemini, groq, usage)
	res, err := o.Refine(context.Background(), "Explain quantum computing in simple terms", "")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if res.RefinedPrompt != "refined text" {
		t.Errorf("RefinedPrompt = %q, want trimmed refined text", res.RefinedPrompt)
	}
	if res.Model != "gemini-2.0-flash" {
		t.Errorf("Model = %q, want gemini-2.0-flash", res.Model)
	}
	if res.UsingUserKey {
		t.Error("UsingUserKey = true, want false")
	}
	if len(res.Stages) != 1 || res.Stages[0].Stage != "generator" {
		t.Fatalf("Stages = %+v, want single generator stage", res.Stages)
	}
	if !strings.Contains(gemini.last, "Explain quantum computing in simple terms") {
		t.Error("generator prompt does not embed the user prompt")
	}
	if groq.calls != 0 {
		t.Errorf("groq called %d times, want 0", groq.calls)
	}
	if gemini.keys[0] != "server-gemini-key" {
		t.Errorf("gemini invoked with key %q, want server key", gemini.keys[0])
	}
}

func TestRefineFallsBackToGroqOnGeminiFailure(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", err: errors.New("upstream 503")}
	groq := &stubProvider{name: "llama-3.3-70b-groq", text: "groq refined"}
	usage := &stubUsage{count: 1}

	o := newTestOrchestrator(gemini, groq, usage)
	res, err := o.Refine(context.Background(), "a prompt of sufficient length", "")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if res.Model != "llama-3.3-70b-groq" {
		t.Errorf("Model = %q, want fallback provider label", res.Model)
	}
	if res.UsingUserKey {
		t.Error("UsingUserKey = true, want false on server-key fallback")
	}
	if groq.keys[0] != "server-groq-key" {
		t.Errorf("groq invoked with key %q, want server key", groq.keys[0])
	}
}

func TestRefineSkipsGeminiAtCeiling(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", text: "gemini refined"}
	groq := &stubProvider{name: "llama-3.3-70b-groq", text: "groq refined"}
	usage := &stubUsage{count: 1400}

	o := newTestOrchestrator(gemini, groq, usage)
	res, err := o.Refine(context.Background(), "a prompt of sufficient length", "")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if gemini.calls != 0 {
		t.Errorf("gemini called %d times at ceiling, want 0", gemini.calls)
	}
	if res.Model != "llama-3.3-70b-groq" {
		t.Errorf("Model = %q, want llama-3.3-70b-groq", res.Model)
	}
}

func TestRefineServerKeysBothFail(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", err: errors.New("gemini down")}
	groq := &stubProvider{name: "llama-3.3-70b-groq", err: errors.New("groq down")}

	o := newTestOrchestrator(gemini, groq, &stubUsage{count: 1})
	_, err := o.Refine(context.Background(), "a prompt of sufficient length", "")
	if err == nil {
		t.Fatal("expected error when both providers fail")
	}
	var credErr *domain.CredentialError
	if errors.As(err, &credErr) {
		t.Error("server-key failure reported as CredentialError; server keys are assumed valid")
	}
}

func TestUserKeyProbesGeminiThenGroq(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", err: errors.New("bad key for gemini")}
	groq := &stubProvider{name: "llama-3.3-70b-groq", text: "groq refined"}
	usage := &stubUsage{}

	o := newTestOrchestrator(gemini, groq, usage)
	res, err := o.Refine(context.Background(), "a prompt of sufficient length", "caller-key")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if res.Model != "llama-3.3-70b-groq (user key)" {
		t.Errorf("Model = %q, want provider label with user key suffix", res.Model)
	}
	if !res.UsingUserKey {
		t.Error("UsingUserKey = false, want true")
	}
	if gemini.keys[0] != "caller-key" || groq.keys[0] != "caller-key" {
		t.Error("providers were not probed with the caller's key")
	}
	if usage.incrCalls != 0 {
		t.Errorf("usage tracked %d times on user-key path, want 0", usage.incrCalls)
	}
}

func TestUserKeyBothRejectedReturnsCredentialError(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", err: errors.New("401")}
	groq := &stubProvider{name: "llama-3.3-70b-groq", err: errors.New("401")}

	o := newTestOrchestrator(gemini, groq, &stubUsage{})
	_, err := o.Refine(context.Background(), "a prompt of sufficient length", "bogus-key")

	var credErr *domain.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("error = %v, want CredentialError", err)
	}
	want := "Invalid API key. Please check your Gemini or Groq API key."
	if err.Error() != want {
		t.Errorf("error message = %q, want %q", err.Error(), want)
	}
}

func TestGenerateTokenEstimate(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", text: "abcde"}
	groq := &stubProvider{name: "llama-3.3-70b-groq"}

	o := newTestOrchestrator(gemini, groq, &stubUsage{count: 1})
	res, err := o.Generate(context.Background(), "refined prompt", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Output != "abcde" {
		t.Errorf("Output = %q", res.Output)
	}
	if res.Tokens != 2 {
		t.Errorf("Tokens = %d, want ceil(5/4) = 2", res.Tokens)
	}
}

func TestTrackUsageKeyIncludesProviderAndDay(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", text: "ok"}
	groq := &stubProvider{name: "llama-3.3-70b-groq"}
	usage := &stubUsage{count: 1}

	o := newTestOrchestrator(gemini, groq, usage)
	if _, err := o.Refine(context.Background(), "a prompt of sufficient length", ""); err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	want := "llm_usage:gemini-2.0-flash:2025-06-15"
	if len(usage.incrKeys) == 0 || usage.incrKeys[0] != want {
		t.Errorf("usage keys = %v, want first key %q", usage.incrKeys, want)
	}
}
