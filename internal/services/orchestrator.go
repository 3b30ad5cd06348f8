// Package services contains the gateway core: the provider
// orchestrator (credential decision, fallback, usage tracking) and the
// quota/cache gateway that fronts it.
package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/promptforge/promptforge/internal/domain"
	"github.com/promptforge/promptforge/internal/ports"
)

// DefaultGeminiDailyCeiling pre-empts Gemini's external daily rate
// limit before a call is attempted; fallback-on-failure still covers
// unanticipated outages regardless of the ceiling.
const DefaultGeminiDailyCeiling = 1400

const generatorPromptTemplate = `You are an expert prompt engineer. Your task is to rewrite the following user prompt to make it clearer, more specific, and more likely to produce high-quality outputs from an AI language model.

Guidelines:
1. Add necessary context if missing
2. Structure complex requests into numbered steps
3. Specify desired output format (e.g., "in bullet points", "as a table")
4. Include relevant constraints (length, audience level, tone)
5. Preserve the user's core intent—do not add requirements they didn't ask for

Original Prompt:
"""
{user_prompt}
"""

Provide ONLY the refined prompt, without any explanations or meta-commentary:`

const generatorStageReasoning = "Improved clarity, specificity, and structure"

// Orchestrator selects a provider, applies fallback on failure, tracks
// provider usage, and reports which provider and credential mode
// produced the result. It holds no per-call state and is safe for
// concurrent use.
type Orchestrator struct {
	Gemini ports.Provider
	Groq   ports.Provider

	// Server-held credentials, used when the caller supplies none.
	GeminiKey string
	GroqKey   string

	// Usage tracks per-provider daily call counts. A nil store
	// disables tracking and the Gemini ceiling.
	Usage ports.UsageStore

	GeminiDailyCeiling int64

	Logger ports.Logger
	Now    func() time.Time
}

// Refine rewrites a raw prompt into a refined one.
func (o *Orchestrator) Refine(ctx context.Context, prompt, userKey string) (domain.RefineResult, error) {
	generatorPrompt := strings.ReplaceAll(generatorPromptTemplate, "{user_prompt}", prompt)

	text, model, usingUserKey, err := o.complete(ctx, generatorPrompt, userKey)
	if err != nil {
		return domain.RefineResult{}, err
	}

	refined := strings.TrimSpace(text)
	return domain.RefineResult{
		RefinedPrompt: refined,
		Stages: []domain.RefinementStage{
			{Stage: "generator", Output: refined, Reasoning: generatorStageReasoning},
		},
		Model:        model,
		UsingUserKey: usingUserKey,
	}, nil
}

// Generate produces the final output from a refined prompt.
func (o *Orchestrator) Generate(ctx context.Context, prompt, userKey string) (domain.GenerateResult, error) {
	text, model, usingUserKey, err := o.complete(ctx, prompt, userKey)
	if err != nil {
		return domain.GenerateResult{}, err
	}

	output := strings.TrimSpace(text)
	return domain.GenerateResult{
		Output:       output,
		Model:        model,
		Tokens:       domain.EstimateTokens(output),
		UsingUserKey: usingUserKey,
	}, nil
}

// complete runs the shared per-invocation state machine: credential
// decision, primary call, fallback, terminal result.
func (o *Orchestrator) complete(ctx context.Context, prompt, userKey string) (text, model string, usingUserKey bool, err error) {
	if userKey != "" {
		text, model, err = o.completeWithUserKey(ctx, prompt, userKey)
		return text, model, true, err
	}
	text, model, err = o.completeWithServerKeys(ctx, prompt)
	return text, model, false, err
}

// completeWithUserKey probes the providers in a fixed order with the
// same caller credential. The key's provider is unknown a priori, so
// both are tried; this is a deliberate heuristic, not discovery.
func (o *Orchestrator) completeWithUserKey(ctx context.Context, prompt, userKey string) (string, string, error) {
	candidates := []ports.Provider{o.Gemini, o.Groq}
	for _, p := range candidates {
		text, err := p.Invoke(ctx, prompt, userKey)
		if err == nil {
			return text, p.Name() + " (user key)", nil
		}
		o.logWarn("provider rejected user key", map[string]interface{}{
			"provider": p.Name(),
			"error":    err.Error(),
		})
	}
	// Indistinguishable from two independent outages; report the
	// actionable interpretation.
	return "", "", &domain.CredentialError{}
}

func (o *Orchestrator) completeWithServerKeys(ctx context.Context, prompt string) (string, string, error) {
	ceiling := o.GeminiDailyCeiling
	if ceiling <= 0 {
		ceiling = DefaultGeminiDailyCeiling
	}

	geminiUsage := o.trackUsage(ctx, o.Gemini.Name())
	if geminiUsage >= ceiling {
		// Ceiling reached: go straight to Groq.
		text, err := o.Groq.Invoke(ctx, prompt, o.GroqKey)
		if err != nil {
			return "", "", err
		}
		o.trackUsage(ctx, o.Groq.Name())
		return text, o.Groq.Name(), nil
	}

	text, err := o.Gemini.Invoke(ctx, prompt, o.GeminiKey)
	if err == nil {
		return text, o.Gemini.Name(), nil
	}
	o.logWarn("primary provider failed, falling back", map[string]interface{}{
		"provider": o.Gemini.Name(),
		"fallback": o.Groq.Name(),
		"error":    err.Error(),
	})

	text, err = o.Groq.Invoke(ctx, prompt, o.GroqKey)
	if err != nil {
		return "", "", fmt.Errorf("all providers failed: %w", err)
	}
	o.trackUsage(ctx, o.Groq.Name())
	return text, o.Groq.Name(), nil
}

// trackUsage atomically increments the provider's daily counter and
// returns the post-increment count. Tracking is best-effort: with no
// store, or on store error, it returns zero and the call proceeds.
func (o *Orchestrator) trackUsage(ctx context.Context, provider string) int64 {
	if o.Usage == nil {
		return 0
	}
	key := usageKey(provider, domain.DayBucket(o.now()))
	count, err := o.Usage.Incr(ctx, key, 24*time.Hour)
	if err != nil {
		o.logWarn("usage tracking failed", map[string]interface{}{
			"provider": provider,
			"error":    err.Error(),
		})
		return 0
	}
	return count
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) logWarn(msg string, fields map[string]interface{}) {
	if o.Logger != nil {
		o.Logger.Warn(msg, fields)
	}
}

func usageKey(provider, day string) string {
	return "llm_usage:" + provider + ":" + day
}
