// Package config loads YAML configuration with environment overlay.
package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/promptforge/promptforge/internal/domain"
)

// FileLoader loads YAML configuration from
// ~/.promptforge/config.yaml (overridable via PROMPTFORGE_CONFIG).
// Provider API keys are read from GEMINI_API_KEY / GROQ_API_KEY,
// with a .env file in the working directory loaded first if present.
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load reads the config file, writing the defaults on first run.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domain.Config{}, err
	}

	var cfg domain.Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = defaultConfig()
		raw, merr := yaml.Marshal(cfg)
		if merr != nil {
			return domain.Config{}, merr
		}
		if werr := os.WriteFile(path, raw, 0o600); werr != nil {
			return domain.Config{}, werr
		}
	case err != nil:
		return domain.Config{}, err
	default:
		if uerr := yaml.Unmarshal(data, &cfg); uerr != nil {
			return domain.Config{}, uerr
		}
		cfg = hydrateDefaults(cfg)
	}

	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load()
	cfg.Credentials = domain.Credentials{
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
		GroqAPIKey:   os.Getenv("GROQ_API_KEY"),
	}
	return cfg, nil
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return l.overridePath
	}
	if custom := os.Getenv("PROMPTFORGE_CONFIG"); custom != "" {
		return expandPath(custom)
	}
	return filepath.Join(userHomeDir(), ".promptforge", "config.yaml")
}

func defaultConfig() domain.Config {
	return domain.Config{
		ConfigFormatVersion: "1",
		Server: domain.ServerSettings{
			Addr:           ":8787",
			AllowedOrigins: []string{"https://promptforge.pages.dev"},
			Environment:    "development",
		},
		Providers: domain.ProviderSettings{
			TimeoutSeconds: 60,
		},
		Limits: domain.LimitSettings{
			DailyFreeRequests:  5,
			RateLimitPerHour:   100,
			GeminiDailyCeiling: 1400,
			CacheTTLSeconds:    3600,
		},
		Database: domain.DatabaseSettings{
			Path: filepath.Join(userHomeDir(), ".promptforge", "sessions.db"),
		},
	}
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	def := defaultConfig()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = def.Server.Environment
	}
	if cfg.Providers.TimeoutSeconds == 0 {
		cfg.Providers.TimeoutSeconds = def.Providers.TimeoutSeconds
	}
	if cfg.Limits.DailyFreeRequests == 0 {
		cfg.Limits.DailyFreeRequests = def.Limits.DailyFreeRequests
	}
	if cfg.Limits.RateLimitPerHour == 0 {
		cfg.Limits.RateLimitPerHour = def.Limits.RateLimitPerHour
	}
	if cfg.Limits.GeminiDailyCeiling == 0 {
		cfg.Limits.GeminiDailyCeiling = def.Limits.GeminiDailyCeiling
	}
	if cfg.Limits.CacheTTLSeconds == 0 {
		cfg.Limits.CacheTTLSeconds = def.Limits.CacheTTLSeconds
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = def.Database.Path
	}
	return cfg
}

func expandPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(userHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

func userHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
