// Package app wires application services with infrastructure adapters.
package app

import (
	"context"
	"time"

	"github.com/promptforge/promptforge/internal/domain"
	"github.com/promptforge/promptforge/internal/infrastructure/ai"
	"github.com/promptforge/promptforge/internal/infrastructure/config"
	"github.com/promptforge/promptforge/internal/infrastructure/counters"
	"github.com/promptforge/promptforge/internal/infrastructure/sessions"
	"github.com/promptforge/promptforge/internal/pkg/logger"
	"github.com/promptforge/promptforge/internal/ports"
	"github.com/promptforge/promptforge/internal/services"
)

// Container holds the wired dependency graph.
type Container struct {
	Config   domain.Config
	Gateway  *services.Gateway
	Usage    ports.UsageStore
	Logger   ports.Logger
	Sessions *sessions.SQLiteStore
}

// BuildContainer constructs the dependency graph.
func BuildContainer(ctx context.Context, configPath string, verbose bool) (*Container, error) {
	cfgLoader := config.NewFileLoader(configPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.NewStd(verbose)
	usage := counters.NewMemoryCounter()
	cache := counters.NewMemoryCache()

	// Session persistence is optional: failures here degrade to a
	// history-less gateway rather than refusing to start.
	var sessionRepo ports.SessionRepository
	store, err := sessions.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Warn("session store unavailable, history disabled", map[string]interface{}{
			"path":  cfg.Database.Path,
			"error": err.Error(),
		})
	} else {
		sessionRepo = store
	}

	factory := ai.NewFactory(time.Duration(cfg.Providers.TimeoutSeconds) * time.Second)
	orchestrator := &services.Orchestrator{
		Gemini:             factory.Gemini(cfg.Providers.GeminiEndpoint),
		Groq:               factory.Groq(cfg.Providers.GroqEndpoint),
		GeminiKey:          cfg.Credentials.GeminiAPIKey,
		GroqKey:            cfg.Credentials.GroqAPIKey,
		Usage:              usage,
		GeminiDailyCeiling: cfg.Limits.GeminiDailyCeiling,
		Logger:             log,
	}

	gateway := &services.Gateway{
		Orchestrator:   orchestrator,
		Usage:          usage,
		Cache:          cache,
		Sessions:       sessionRepo,
		Logger:         log,
		DailyFreeLimit: cfg.Limits.DailyFreeRequests,
		CacheTTL:       time.Duration(cfg.Limits.CacheTTLSeconds) * time.Second,
	}

	return &Container{
		Config:   cfg,
		Gateway:  gateway,
		Usage:    usage,
		Logger:   log,
		Sessions: store,
	}, nil
}
