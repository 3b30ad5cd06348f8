package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge/internal/domain"
	"github.com/promptforge/promptforge/internal/ports"
)

// Defaults for the quota/cache gateway.
const (
	DefaultDailyFreeLimit = 5
	DefaultQuotaTTL       = 24 * time.Hour
	DefaultCacheTTL       = time.Hour

	// unlimitedQuota is reported when the quota gate is bypassed
	// (caller-supplied key or no usage store).
	unlimitedQuota = 999
)

// Gateway enforces the per-caller daily free quota and short-circuits
// repeated identical prompts through the response cache, then delegates
// to the Orchestrator. It also persists session records; persistence
// failures are logged but never fail the request.
type Gateway struct {
	Orchestrator *Orchestrator

	// Usage and Cache may be nil; the corresponding gate is then
	// bypassed entirely and quota is treated as unlimited.
	Usage ports.UsageStore
	Cache ports.ResultCache

	// Sessions may be nil; history is then simply not recorded.
	Sessions ports.SessionRepository

	Logger ports.Logger

	DailyFreeLimit int64
	QuotaTTL       time.Duration
	CacheTTL       time.Duration

	Now   func() time.Time
	NewID func() string
}

// Refine runs the full refine path for one caller: quota, cache,
// orchestration, persistence, response shaping.
//
// Quota is consumed before the cache check, so a cache hit still costs
// one of the day's free requests. That mirrors the observed behavior of
// the flow this gateway replaces and keeps the counter mutation in one
// place; swapping the order would only change accounting, not results.
func (g *Gateway) Refine(ctx context.Context, callerID, prompt, userKey string) (domain.RefineResponse, error) {
	start := g.now()
	sanitized := domain.SanitizePrompt(prompt)

	quotaGate := userKey == "" && g.Usage != nil
	if quotaGate {
		if err := g.consumeQuota(ctx, callerID, start); err != nil {
			return domain.RefineResponse{}, err
		}
	}

	fingerprint := domain.Fingerprint(sanitized)
	if userKey == "" && g.Cache != nil {
		if cached, ok, err := g.Cache.Get(ctx, fingerprint); err == nil && ok {
			cached.Cached = true
			return cached, nil
		} else if err != nil {
			g.logWarn("cache read failed", map[string]interface{}{"error": err.Error()})
		}
	}

	result, err := g.Orchestrator.Refine(ctx, sanitized, userKey)
	if err != nil {
		return domain.RefineResponse{}, err
	}
	latency := g.now().Sub(start).Milliseconds()

	sessionID := g.newID()
	if g.Sessions != nil {
		rec := domain.SessionRecord{
			ID:             sessionID,
			UserID:         callerID,
			OriginalPrompt: sanitized,
			RefinedPrompt:  result.RefinedPrompt,
			Stages:         result.Stages,
			Model:          result.Model,
			LatencyMS:      latency,
			CreatedAt:      g.now(),
		}
		if err := g.Sessions.Save(ctx, rec); err != nil {
			g.logError("session save failed", err, map[string]interface{}{"session_id": sessionID})
		}
	}

	remaining := unlimitedQuota
	if quotaGate {
		remaining = g.remainingQuota(ctx, callerID, start)
	}

	response := domain.RefineResponse{
		SessionID:      sessionID,
		OriginalPrompt: sanitized,
		RefinedPrompt:  result.RefinedPrompt,
		Stages:         result.Stages,
		Model:          result.Model,
		LatencyMS:      latency,
		Cached:         false,
		QuotaRemaining: remaining,
		UsingUserKey:   result.UsingUserKey,
	}

	// Never cache results produced with a caller-supplied key: their
	// quota semantics differ and one caller's output must not leak
	// into another caller's cache lookups.
	if userKey == "" && g.Cache != nil {
		if err := g.Cache.Set(ctx, fingerprint, response, g.cacheTTL()); err != nil {
			g.logWarn("cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}

	return response, nil
}

// Generate produces the final output from a refined prompt and, when a
// session id is supplied, writes the output back to that session.
func (g *Gateway) Generate(ctx context.Context, prompt, sessionID, userKey string) (domain.GenerateResponse, error) {
	start := g.now()

	result, err := g.Orchestrator.Generate(ctx, prompt, userKey)
	if err != nil {
		return domain.GenerateResponse{}, err
	}
	latency := g.now().Sub(start).Milliseconds()

	if sessionID != "" && g.Sessions != nil {
		if err := g.Sessions.SetOutput(ctx, sessionID, result.Output); err != nil {
			g.logError("session output update failed", err, map[string]interface{}{"session_id": sessionID})
		}
	}

	return domain.GenerateResponse{
		Output: result.Output,
		Metadata: domain.GenerateMetadata{
			Model:     result.Model,
			Tokens:    result.Tokens,
			LatencyMS: latency,
		},
		UsingUserKey: result.UsingUserKey,
	}, nil
}

// Feedback records a prompt or output rating on a session.
func (g *Gateway) Feedback(ctx context.Context, sessionID, kind string, rating int, comment string) error {
	if g.Sessions == nil {
		return nil
	}
	return g.Sessions.SetFeedback(ctx, sessionID, kind, rating, comment)
}

// History lists a caller's recent sessions, newest first.
func (g *Gateway) History(ctx context.Context, callerID string, limit int) ([]domain.SessionSummary, error) {
	if g.Sessions == nil {
		return nil, nil
	}
	return g.Sessions.History(ctx, callerID, limit)
}

// Session returns one full session record.
func (g *Gateway) Session(ctx context.Context, id string) (domain.SessionRecord, error) {
	if g.Sessions == nil {
		return domain.SessionRecord{}, domain.ErrSessionNotFound
	}
	return g.Sessions.Get(ctx, id)
}

// consumeQuota fails fast once the daily ceiling is hit; below it, the
// counter is incremented and the request proceeds. Store errors bypass
// the gate rather than failing the request.
func (g *Gateway) consumeQuota(ctx context.Context, callerID string, now time.Time) error {
	key := quotaKey(callerID, domain.DayBucket(now))
	limit := g.dailyLimit()

	count, err := g.Usage.Get(ctx, key)
	if err != nil {
		g.logWarn("quota read failed, bypassing gate", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if count >= limit {
		return &domain.QuotaError{Limit: int(limit), ResetAt: domain.NextMidnight(now)}
	}
	if _, err := g.Usage.Incr(ctx, key, g.quotaTTL()); err != nil {
		g.logWarn("quota increment failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

func (g *Gateway) remainingQuota(ctx context.Context, callerID string, now time.Time) int {
	count, err := g.Usage.Get(ctx, quotaKey(callerID, domain.DayBucket(now)))
	if err != nil {
		return unlimitedQuota
	}
	remaining := int(g.dailyLimit() - count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

func (g *Gateway) dailyLimit() int64 {
	if g.DailyFreeLimit > 0 {
		return g.DailyFreeLimit
	}
	return DefaultDailyFreeLimit
}

func (g *Gateway) quotaTTL() time.Duration {
	if g.QuotaTTL > 0 {
		return g.QuotaTTL
	}
	return DefaultQuotaTTL
}

func (g *Gateway) cacheTTL() time.Duration {
	if g.CacheTTL > 0 {
		return g.CacheTTL
	}
	return DefaultCacheTTL
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Gateway) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.NewString()
}

func (g *Gateway) logWarn(msg string, fields map[string]interface{}) {
	if g.Logger != nil {
		g.Logger.Warn(msg, fields)
	}
}

func (g *Gateway) logError(msg string, err error, fields map[string]interface{}) {
	if g.Logger != nil {
		g.Logger.Error(msg, err, fields)
	}
}

func quotaKey(callerID, day string) string {
	return "daily_quota:" + callerID + ":" + day
}
