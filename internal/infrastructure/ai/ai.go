// Package ai implements the upstream LLM provider clients.
//
// Each provider wraps one HTTP API behind the ports.Provider contract.
// Provider-specific behavior lives in a small adapter (URL building,
// request shaping, response parsing, auth headers); the surrounding
// invoke loop, error classification and timeout handling are shared.
// The provider set is closed: Gemini and Groq. Adding another provider
// means adding an adapter here plus an orchestrator policy entry.
package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promptforge/promptforge/internal/ports"
)

const (
	// GeminiEndpoint is the Google Generative Language completion endpoint.
	GeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash-exp:generateContent"

	// GroqEndpoint is the Groq OpenAI-compatible chat completion endpoint.
	GroqEndpoint = "https://api.groq.com/openai/v1/chat/completions"

	// GeminiLabel and GroqLabel identify which provider produced a result.
	GeminiLabel = "gemini-2.0-flash"
	GroqLabel   = "llama-3.3-70b-groq"

	defaultTimeout = 60 * time.Second
)

// UpstreamError is any provider call failure: non-success status,
// malformed payload, or transport error (StatusCode 0). The orchestrator
// treats every UpstreamError as retryable against the other provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, e.Body)
}

// providerAdapter holds the per-provider request/response shaping hooks.
type providerAdapter struct {
	buildURL      func(endpoint, apiKey string) string
	buildRequest  func(prompt string) ([]byte, error)
	parseResponse func(body []byte) (string, error)
	setHeaders    func(req *http.Request, apiKey string)
}

// Factory builds provider clients sharing a single timeout-bounded
// HTTP client.
type Factory struct {
	httpClient *http.Client
}

// NewFactory creates a provider factory. A non-positive timeout falls
// back to the 60s default.
func NewFactory(timeout time.Duration) *Factory {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Factory{httpClient: &http.Client{Timeout: timeout}}
}

// Gemini returns the Gemini provider client. An empty endpoint uses
// the production endpoint.
func (f *Factory) Gemini(endpoint string) ports.Provider {
	if endpoint == "" {
		endpoint = GeminiEndpoint
	}
	return &httpProvider{
		name:       GeminiLabel,
		endpoint:   endpoint,
		httpClient: f.httpClient,
		adapter:    geminiAdapter(),
	}
}

// Groq returns the Groq provider client. An empty endpoint uses the
// production endpoint.
func (f *Factory) Groq(endpoint string) ports.Provider {
	if endpoint == "" {
		endpoint = GroqEndpoint
	}
	return &httpProvider{
		name:       GroqLabel,
		endpoint:   endpoint,
		httpClient: f.httpClient,
		adapter:    groqAdapter(),
	}
}

type httpProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	adapter    providerAdapter
}

func (p *httpProvider) Name() string {
	return p.name
}

// Invoke performs one upstream call. The credential is used only for
// this request and never logged.
func (p *httpProvider) Invoke(ctx context.Context, prompt, apiKey string) (string, error) {
	requestBody, err := p.adapter.buildRequest(prompt)
	if err != nil {
		return "", &UpstreamError{Provider: p.name, Body: fmt.Sprintf("build request: %v", err)}
	}

	url := p.endpoint
	if p.adapter.buildURL != nil {
		url = p.adapter.buildURL(p.endpoint, apiKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestBody))
	if err != nil {
		return "", &UpstreamError{Provider: p.name, Body: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.adapter.setHeaders != nil {
		p.adapter.setHeaders(httpReq, apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", &UpstreamError{Provider: p.name, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Body: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	text, err := p.adapter.parseResponse(body)
	if err != nil {
		return "", &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Body: err.Error()}
	}
	if text == "" {
		return "", &UpstreamError{Provider: p.name, StatusCode: resp.StatusCode, Body: "empty completion text"}
	}
	return text, nil
}
