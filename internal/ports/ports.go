// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the application core and
// external adapters (infrastructure). The gateway core depends only on
// these abstractions; concrete providers, counter stores and the session
// database plug in from the infrastructure layer.
package ports

import (
	"context"
	"time"

	"github.com/promptforge/promptforge/internal/domain"
)

// Provider performs one synchronous call to a specific upstream LLM
// service. Implementations are stateless and safe for concurrent use.
// The credential must be non-empty; callers decide whether it is a
// server-held or caller-supplied key.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, prompt, apiKey string) (string, error)
}

// UsageStore is a key/value counter store with per-key time-to-live.
// It backs rate-limit, daily-quota and provider-usage counters.
//
// Incr returns the post-increment count and must be atomic per key.
// The TTL is fixed when the key is created, giving fixed counting
// windows that reset implicitly on expiry; there is no explicit reset.
type UsageStore interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// ResultCache stores refine responses keyed by prompt fingerprint.
// Only results produced with server-held credentials are ever cached.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (domain.RefineResponse, bool, error)
	Set(ctx context.Context, fingerprint string, res domain.RefineResponse, ttl time.Duration) error
}

// SessionRepository persists refine sessions and their follow-ups.
type SessionRepository interface {
	Save(ctx context.Context, rec domain.SessionRecord) error
	SetOutput(ctx context.Context, id, output string) error
	SetFeedback(ctx context.Context, id, kind string, rating int, comment string) error
	History(ctx context.Context, userID string, limit int) ([]domain.SessionSummary, error)
	Get(ctx context.Context, id string) (domain.SessionRecord, error)
}

// Logger provides structured logging abstraction for the application layer.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
