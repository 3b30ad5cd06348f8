package httpserver

import (
	"net/http"
	"strings"
	"time"
)

// withRequestLog logs method, path, status and duration per request.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Logger.Info("request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withCORS allows the configured origins plus any localhost origin
// (local development).
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if strings.HasPrefix(origin, "http://localhost:") || origin == "http://localhost" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// withRateLimit enforces the fixed-window per-caller request ceiling on
// /api/* routes. Without a usage store the limiter is disabled.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Usage == nil || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		limit := s.RateLimitPerHour
		if limit <= 0 {
			limit = 100
		}
		key := "ratelimit:" + callerID(r)
		count, err := s.Usage.Incr(r.Context(), key, time.Hour)
		if err != nil {
			// Fail open: the limiter is a guard, not a gate.
			if s.Logger != nil {
				s.Logger.Warn("rate limiter unavailable", map[string]interface{}{"error": err.Error()})
			}
			next.ServeHTTP(w, r)
			return
		}
		if count > limit {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 1 hour.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
