package domain

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a session id does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Feedback targets.
const (
	FeedbackPrompt = "prompt"
	FeedbackOutput = "output"
)

// SessionRecord is one persisted refine call, later enriched with the
// generated output and user feedback.
type SessionRecord struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	OriginalPrompt  string            `json:"original_prompt"`
	RefinedPrompt   string            `json:"refined_prompt"`
	Stages          []RefinementStage `json:"stages"`
	Model           string            `json:"model"`
	LatencyMS       int64             `json:"latency_ms"`
	CreatedAt       time.Time         `json:"created_at"`
	OutputText      string            `json:"output_text,omitempty"`
	FeedbackPrompt  *int              `json:"feedback_prompt,omitempty"`
	FeedbackOutput  *int              `json:"feedback_output,omitempty"`
	FeedbackComment string            `json:"feedback_comment,omitempty"`
}

// SessionSummary is the lightweight history listing entry.
type SessionSummary struct {
	ID             string    `json:"id"`
	OriginalPrompt string    `json:"original_prompt"`
	CreatedAt      time.Time `json:"created_at"`
}
