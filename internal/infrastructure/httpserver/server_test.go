package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/promptforge/promptforge/internal/domain"
	"github.com/promptforge/promptforge/internal/infrastructure/counters"
	"github.com/promptforge/promptforge/internal/services"
)

var testNow = time.Date(2025, 6, 15, 10, 30, 0, 0, time.Local)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Invoke(context.Context, string, string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.text, nil
}

type serverFixture struct {
	handler http.Handler
	gemini  *stubProvider
	groq    *stubProvider
	usage   *counters.MemoryCounter
}

func newServerFixture() *serverFixture {
	gemini := &stubProvider{name: "gemini-2.0-flash", text: "refined output"}
	groq := &stubProvider{name: "llama-3.3-70b-groq", text: "groq output"}
	usage := counters.NewMemoryCounter()

	gateway := &services.Gateway{
		Orchestrator: &services.Orchestrator{
			Gemini:    gemini,
			Groq:      groq,
			GeminiKey: "server-gemini-key",
			GroqKey:   "server-groq-key",
			Usage:     usage,
			Now:       func() time.Time { return testNow },
		},
		Usage: usage,
		Cache: counters.NewMemoryCache(),
		Now:   func() time.Time { return testNow },
	}

	server := &Server{
		Gateway:          gateway,
		Usage:            usage,
		AllowedOrigins:   []string{"https://promptforge.pages.dev"},
		RateLimitPerHour: 100,
		Environment:      "test",
		Version:          "1.0.0",
	}
	return &serverFixture{handler: server.Handler(), gemini: gemini, groq: groq, usage: usage}
}

func (f *serverFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestIndex(t *testing.T) {
	f := newServerFixture()
	rec := f.do(t, http.MethodGet, "/", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "PromptForge API" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestHealth(t *testing.T) {
	f := newServerFixture()
	rec := f.do(t, http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["environment"] != "test" {
		t.Errorf("environment = %v", body["environment"])
	}
}

func TestRefineSuccess(t *testing.T) {
	f := newServerFixture()
	rec := f.do(t, http.MethodPost, "/api/refine", `{"prompt":"Explain quantum computing in simple terms"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["refined_prompt"] != "refined output" {
		t.Errorf("refined_prompt = %v", body["refined_prompt"])
	}
	if body["quota_remaining"] != float64(4) {
		t.Errorf("quota_remaining = %v, want 4", body["quota_remaining"])
	}
	if body["session_id"] == "" || body["session_id"] == nil {
		t.Error("session_id missing")
	}
	if body["cached"] != false {
		t.Errorf("cached = %v, want false", body["cached"])
	}
}

func TestRefineShortPrompt(t *testing.T) {
	f := newServerFixture()
	rec := f.do(t, http.MethodPost, "/api/refine", `{"prompt":"short"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["field"] != "prompt" {
		t.Errorf("field = %v, want prompt", body["field"])
	}
	if f.gemini.calls != 0 {
		t.Errorf("provider called %d times on invalid input", f.gemini.calls)
	}
}

func TestRefineLongPrompt(t *testing.T) {
	f := newServerFixture()
	long := strings.Repeat("a", 5001)
	rec := f.do(t, http.MethodPost, "/api/refine", `{"prompt":"`+long+`"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRefineInvalidJSON(t *testing.T) {
	f := newServerFixture()
	rec := f.do(t, http.MethodPost, "/api/refine", `{not json`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRefineQuotaExhausted(t *testing.T) {
	f := newServerFixture()
	ctx := context.Background()

	// httptest requests come from 192.0.2.1.
	key := "daily_quota:ip_192_0_2_1:" + domain.DayBucket(testNow)
	for i := 0; i < 5; i++ {
		f.usage.Incr(ctx, key, 24*time.Hour)
	}

	rec := f.do(t, http.MethodPost, "/api/refine", `{"prompt":"Explain quantum computing in simple terms"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["quota_exceeded"] != true {
		t.Errorf("quota_exceeded = %v, want true", body["quota_exceeded"])
	}
	if _, ok := body["reset_time"].(string); !ok {
		t.Errorf("reset_time = %v, want RFC3339 string", body["reset_time"])
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "Daily limit reached") {
		t.Errorf("error = %q, want daily limit message", msg)
	}
}

func TestRefineCredentialError(t *testing.T) {
	f := newServerFixture()
	f.gemini.err = errors.New("401 unauthorized")
	f.groq.err = errors.New("401 unauthorized")

	rec := f.do(t, http.MethodPost, "/api/refine",
		`{"prompt":"Explain quantum computing in simple terms","user_api_key":"bogus"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	want := "Invalid API key. Please check your Gemini or Groq API key."
	if body["error"] != want {
		t.Errorf("error = %v, want %q", body["error"], want)
	}
}

func TestRateLimit(t *testing.T) {
	gemini := &stubProvider{name: "gemini-2.0-flash", text: "refined output"}
	groq := &stubProvider{name: "llama-3.3-70b-groq"}
	usage := counters.NewMemoryCounter()

	gateway := &services.Gateway{
		Orchestrator: &services.Orchestrator{
			Gemini: gemini, Groq: groq,
			GeminiKey: "k", GroqKey: "k",
			Usage: usage,
			Now:   func() time.Time { return testNow },
		},
		Usage: usage,
		Cache: counters.NewMemoryCache(),
		Now:   func() time.Time { return testNow },
	}
	server := &Server{Gateway: gateway, Usage: usage, RateLimitPerHour: 2}
	f := &serverFixture{handler: server.Handler(), gemini: gemini, usage: usage}

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/refine", `{"prompt":"Explain quantum computing in simple terms"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("request #%d status = %d", i+1, rec.Code)
		}
	}

	rec := f.do(t, http.MethodPost, "/api/refine", `{"prompt":"Explain quantum computing in simple terms"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Rate limit exceeded. Try again in 1 hour." {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRateLimitSkipsNonAPIRoutes(t *testing.T) {
	f := newServerFixture()

	// Health checks never count against the limiter.
	for i := 0; i < 150; i++ {
		if rec := f.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
			t.Fatalf("health check #%d status = %d", i+1, rec.Code)
		}
	}
}

func TestSessionNotFound(t *testing.T) {
	f := newServerFixture()
	rec := f.do(t, http.MethodGet, "/api/session/nope", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Session not found" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestFeedbackValidation(t *testing.T) {
	f := newServerFixture()

	tests := []struct {
		name string
		body string
	}{
		{"missing session", `{"type":"prompt","rating":1}`},
		{"bad type", `{"session_id":"s1","type":"vibes","rating":1}`},
		{"rating out of range", `{"session_id":"s1","type":"prompt","rating":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/feedback", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestHistoryWithoutStore(t *testing.T) {
	f := newServerFixture()
	rec := f.do(t, http.MethodGet, "/api/history", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	history, ok := body["history"].([]any)
	if !ok {
		t.Fatalf("history = %v, want array", body["history"])
	}
	if len(history) != 0 {
		t.Errorf("history has %d entries, want 0", len(history))
	}
}

func TestCORSAllowedOrigin(t *testing.T) {
	f := newServerFixture()

	req := httptest.NewRequest(http.MethodOptions, "/api/refine", nil)
	req.Header.Set("Origin", "https://promptforge.pages.dev")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://promptforge.pages.dev" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestCORSRejectedOrigin(t *testing.T) {
	f := newServerFixture()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want unset", got)
	}
}

func TestCallerIDPrefersForwardHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare header", map[string]string{"CF-Connecting-IP": "203.0.113.9"}, "10.0.0.1:999", "ip_203_0_113_9"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, "10.0.0.1:999", "ip_203_0_113_9"},
		{"remote addr fallback", nil, "198.51.100.7:1234", "ip_198_51_100_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := callerID(req); got != tt.want {
				t.Errorf("callerID() = %q, want %q", got, tt.want)
			}
		})
	}
}
