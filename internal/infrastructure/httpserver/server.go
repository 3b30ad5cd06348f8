// Package httpserver is the HTTP transport adapter for the gateway.
// It validates input, derives the caller identity, maps domain errors
// to status codes and relays the gateway's results verbatim.
package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/promptforge/promptforge/internal/domain"
	"github.com/promptforge/promptforge/internal/ports"
	"github.com/promptforge/promptforge/internal/services"
)

// Prompt length bounds for the refine endpoint.
const (
	MinRefinePromptLength = 10
	MaxRefinePromptLength = 5000
)

// Server exposes the gateway over HTTP.
type Server struct {
	Gateway *services.Gateway

	// Usage backs the per-caller rate limiter; nil disables it.
	Usage ports.UsageStore

	Logger ports.Logger

	AllowedOrigins   []string
	RateLimitPerHour int64
	Environment      string
	Version          string
}

// Handler builds the full middleware + route stack.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/refine", s.handleRefine)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/feedback", s.handleFeedback)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/session/{id}", s.handleSession)

	var handler http.Handler = mux
	handler = s.withRateLimit(handler)
	handler = s.withCORS(handler)
	handler = s.withRequestLog(handler)
	return handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "PromptForge API",
		"version": s.Version,
		"endpoints": []string{
			"/api/refine", "/api/generate", "/api/feedback",
			"/api/history", "/api/session/:id",
		},
		"status": "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UnixMilli(),
		"environment": s.Environment,
	})
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	type reqBody struct {
		Prompt     string `json:"prompt"`
		UserAPIKey string `json:"user_api_key,omitempty"`
	}
	var body reqBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(body.Prompt) < MinRefinePromptLength {
		writeValidationError(w, "prompt", "Prompt must be at least 10 characters")
		return
	}
	if len(body.Prompt) > MaxRefinePromptLength {
		writeValidationError(w, "prompt", "Prompt too long")
		return
	}

	res, err := s.Gateway.Refine(r.Context(), callerID(r), body.Prompt, body.UserAPIKey)
	if err != nil {
		s.writeRefineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeRefineError(w http.ResponseWriter, err error) {
	var quotaErr *domain.QuotaError
	if errors.As(err, &quotaErr) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": fmt.Sprintf("Daily limit reached (%d free requests/day). "+
				"Please provide your own API key in Settings for unlimited access.", quotaErr.Limit),
			"quota_exceeded": true,
			"reset_time":     quotaErr.ResetAt.Format(time.RFC3339),
		})
		return
	}

	var credErr *domain.CredentialError
	if errors.As(err, &credErr) {
		writeError(w, http.StatusInternalServerError, credErr.Error())
		return
	}

	s.logError("refinement failed", err)
	writeError(w, http.StatusInternalServerError, "Failed to refine prompt. Please try again.")
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	type reqBody struct {
		Prompt     string `json:"prompt"`
		SessionID  string `json:"session_id,omitempty"`
		UserAPIKey string `json:"user_api_key,omitempty"`
	}
	var body reqBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Prompt == "" {
		writeValidationError(w, "prompt", "Prompt must not be empty")
		return
	}

	res, err := s.Gateway.Generate(r.Context(), body.Prompt, body.SessionID, body.UserAPIKey)
	if err != nil {
		var credErr *domain.CredentialError
		if errors.As(err, &credErr) {
			writeError(w, http.StatusInternalServerError, credErr.Error())
			return
		}
		s.logError("generation failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate output. Please try again.")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	type reqBody struct {
		SessionID string `json:"session_id"`
		Type      string `json:"type"`
		Rating    int    `json:"rating"`
		Comment   string `json:"comment,omitempty"`
	}
	var body reqBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SessionID == "" {
		writeValidationError(w, "session_id", "session_id is required")
		return
	}
	if body.Type != domain.FeedbackPrompt && body.Type != domain.FeedbackOutput {
		writeValidationError(w, "type", "type must be \"prompt\" or \"output\"")
		return
	}
	if body.Rating < -1 || body.Rating > 1 {
		writeValidationError(w, "rating", "rating must be between -1 and 1")
		return
	}

	if err := s.Gateway.Feedback(r.Context(), body.SessionID, body.Type, body.Rating, body.Comment); err != nil {
		s.logError("feedback failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to submit feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := intFromQuery(r, "limit", 20)

	history, err := s.Gateway.History(r.Context(), callerID(r), limit)
	if err != nil {
		s.logError("history failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch history")
		return
	}
	if history == nil {
		history = []domain.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, err := s.Gateway.Session(r.Context(), id)
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		s.logError("session fetch failed", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch session")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) logError(msg string, err error) {
	if s.Logger != nil {
		s.Logger.Error(msg, err, nil)
	}
}

////////////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////////////

// callerID derives the quota/rate-limit partition key from the network
// origin, preferring proxy-forwarded headers over the socket address.
func callerID(r *http.Request) string {
	ip := r.Header.Get("CF-Connecting-IP")
	if ip == "" {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	if ip == "" {
		host := r.RemoteAddr
		if i := strings.LastIndex(host, ":"); i > 0 {
			host = host[:i]
		}
		ip = strings.Trim(host, "[]")
	}
	return domain.CallerIdentity(ip)
}

func readJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()

	const maxBytes = 1_000_000
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return fmt.Errorf("failed reading request body: %v", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return fmt.Errorf("empty request body")
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid json: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	b, err := json.Marshal(v)
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"failed to marshal json"}`))
		return
	}
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeValidationError(w http.ResponseWriter, field, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": msg,
		"field": field,
	})
}

func intFromQuery(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
