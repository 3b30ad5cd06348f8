package domain

import (
	"fmt"
	"time"
)

// QuotaError signals the daily free-tier ceiling was hit.
// ResetAt is the next local midnight, when the counter's TTL lapses.
type QuotaError struct {
	Limit   int
	ResetAt time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily limit reached (%d free requests/day)", e.Limit)
}

// RateLimitError signals the per-hour request-volume ceiling was hit.
type RateLimitError struct {
	Limit int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (%d requests/hour)", e.Limit)
}

// CredentialError signals that both providers rejected a caller-supplied
// API key. The system cannot tell an invalid key from two independent
// outages, so it reports the actionable interpretation.
type CredentialError struct{}

func (e *CredentialError) Error() string {
	return "Invalid API key. Please check your Gemini or Groq API key."
}

// ValidationError reports malformed input with a field-level message.
// It never reaches the orchestrator.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
