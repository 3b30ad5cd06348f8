package domain

// RefinementStage records one step of the refinement pipeline.
// The current pipeline has a single "generator" stage; the structure
// is ordered so additional critic/refinement stages can be appended.
type RefinementStage struct {
	Stage     string `json:"stage"`
	Output    string `json:"output"`
	Reasoning string `json:"reasoning,omitempty"`
}

// RefineResult is the orchestrator's output for a refine call.
type RefineResult struct {
	RefinedPrompt string
	Stages        []RefinementStage
	Model         string
	UsingUserKey  bool
}

// GenerateResult is the orchestrator's output for a generate call.
// Tokens is a character-length estimate, not a tokenizer count.
type GenerateResult struct {
	Output       string
	Model        string
	Tokens       int
	UsingUserKey bool
}

// RefineResponse is the wire shape returned by the refine endpoint.
// It is also the value stored in the response cache.
type RefineResponse struct {
	SessionID      string            `json:"session_id"`
	OriginalPrompt string            `json:"original_prompt"`
	RefinedPrompt  string            `json:"refined_prompt"`
	Stages         []RefinementStage `json:"stages"`
	Model          string            `json:"model"`
	LatencyMS      int64             `json:"latency_ms"`
	Cached         bool              `json:"cached"`
	QuotaRemaining int               `json:"quota_remaining"`
	UsingUserKey   bool              `json:"using_user_key"`
}

// GenerateMetadata describes how a generation was produced.
type GenerateMetadata struct {
	Model     string `json:"model"`
	Tokens    int    `json:"tokens"`
	LatencyMS int64  `json:"latency_ms"`
}

// GenerateResponse is the wire shape returned by the generate endpoint.
type GenerateResponse struct {
	Output       string           `json:"output"`
	Metadata     GenerateMetadata `json:"metadata"`
	UsingUserKey bool             `json:"using_user_key"`
}

// EstimateTokens approximates a token count as ceil(len/4).
// Deliberately rough; good enough for the metadata display.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
