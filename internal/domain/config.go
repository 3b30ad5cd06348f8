package domain

// Config is the application configuration, loaded from YAML with
// credentials overlaid from the environment.
type Config struct {
	ConfigFormatVersion string           `yaml:"config_format_version"`
	Server              ServerSettings   `yaml:"server"`
	Providers           ProviderSettings `yaml:"providers"`
	Limits              LimitSettings    `yaml:"limits"`
	Database            DatabaseSettings `yaml:"database"`

	// Credentials come from the environment only, never the YAML
	// file, and are never logged.
	Credentials Credentials `yaml:"-"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Environment    string   `yaml:"environment"`
}

// ProviderSettings configures the upstream LLM clients. Empty
// endpoints select the production endpoints.
type ProviderSettings struct {
	GeminiEndpoint string `yaml:"gemini_endpoint"`
	GroqEndpoint   string `yaml:"groq_endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// LimitSettings holds the quota, rate-limit and cache knobs.
type LimitSettings struct {
	DailyFreeRequests  int64 `yaml:"daily_free_requests"`
	RateLimitPerHour   int64 `yaml:"rate_limit_per_hour"`
	GeminiDailyCeiling int64 `yaml:"gemini_daily_ceiling"`
	CacheTTLSeconds    int   `yaml:"cache_ttl_seconds"`
}

// DatabaseSettings configures session persistence.
type DatabaseSettings struct {
	Path string `yaml:"path"`
}

// Credentials are the server-held provider API keys.
type Credentials struct {
	GeminiAPIKey string
	GroqAPIKey   string
}
