// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, the completion API, assistant tuning, rate limiting and
// observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// DBConfig selects the database driver and its data source.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	DSN    string // DB_DSN: file path for sqlite, URL or key/value DSN for postgres
}

// RedisConfig configures the optional FAQ candidate cache.
type RedisConfig struct {
	URL         string        // REDIS_URL; empty disables the cache
	Prefix      string        // REDIS_PREFIX
	FAQCacheTTL time.Duration // FAQ_CACHE_TTL
}

// LLMConfig configures the completion API client.
type LLMConfig struct {
	APIKey      string        // LLM_API_KEY
	BaseURL     string        // LLM_BASE_URL; empty uses the OpenAI default
	Model       string        // LLM_MODEL
	MaxTokens   int           // LLM_MAX_TOKENS
	Temperature float64       // LLM_TEMPERATURE in (0,2]; the client cannot send 0
	Timeout     time.Duration // LLM_TIMEOUT per exchange, retries included
	MaxRetries  int           // LLM_MAX_RETRIES
}

// AssistantConfig holds the constants injected into the chat core.
type AssistantConfig struct {
	SystemPrompt    string // SYSTEM_PROMPT; empty keeps the built-in prompt
	ContextWindow   int    // CONTEXT_WINDOW: trailing messages sent upstream
	FAQCandidates   int    // FAQ_CANDIDATES: active entries scanned per message
	KeywordCap      int    // KEYWORD_CAP: keywords derived per entry
	TitleMaxRunes   int    // TITLE_MAX_RUNES
	MaxMessageRunes int    // MAX_MESSAGE_RUNES
	UploadMaxBytes  int64  // UPLOAD_MAX_BYTES
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-chat-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // normalized APP_ENV, exported as deployment.environment
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // trace|debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	AppEnv    string // APP_ENV: development|production
	DB        DBConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Assistant AssistantConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)
	// Per-IP ceiling applied before the per-user bucket, since X-User-ID is
	// caller-asserted. RATE_IP_RPS=0 disables it.
	RateIPRPS   float64
	RateIPBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment, applies defaults, normalizes aliases and
// returns the first validation failure.
func Load() (Config, error) {
	cfg := Config{
		Port:              envString("PORT", "8080"),
		ReadTimeout:       envOr("READ_TIMEOUT", 15*time.Second, time.ParseDuration),
		ReadHeaderTimeout: envOr("READ_HEADER_TIMEOUT", 10*time.Second, time.ParseDuration),
		WriteTimeout:      envOr("WRITE_TIMEOUT", 45*time.Second, time.ParseDuration),
		IdleTimeout:       envOr("IDLE_TIMEOUT", 60*time.Second, time.ParseDuration),
		MaxHeaderBytes:    envOr("MAX_HEADER_BYTES", 1<<20, strconv.Atoi),
		GinMode:           strings.ToLower(envString("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(envString("LOG_LEVEL", "info")),
		LogPretty:      envOr("LOG_PRETTY", false, parseBool),
		SwaggerEnabled: envOr("SWAGGER_ENABLED", false, parseBool),
		APIBasePath:    normalizeBasePath(envString("API_BASE_PATH", "/api/v1")),

		AppEnv: strings.ToLower(envString("APP_ENV", "production")),
		DB: DBConfig{
			Driver: strings.ToLower(envString("DB_DRIVER", "sqlite")),
			// DB_PATH is the older sqlite-only name.
			DSN: envString("DB_DSN", envString("DB_PATH", "app.db")),
		},
		Redis: RedisConfig{
			URL:         envString("REDIS_URL", ""),
			Prefix:      envString("REDIS_PREFIX", "support:"),
			FAQCacheTTL: envOr("FAQ_CACHE_TTL", 5*time.Minute, time.ParseDuration),
		},
		LLM: LLMConfig{
			APIKey:      envString("LLM_API_KEY", envString("OPENAI_API_KEY", "")),
			BaseURL:     envString("LLM_BASE_URL", ""),
			Model:       envString("LLM_MODEL", "gpt-3.5-turbo"),
			MaxTokens:   envOr("LLM_MAX_TOKENS", 500, strconv.Atoi),
			Temperature: envOr("LLM_TEMPERATURE", 0.7, parseFloat),
			Timeout:     envOr("LLM_TIMEOUT", 30*time.Second, time.ParseDuration),
			MaxRetries:  envOr("LLM_MAX_RETRIES", 2, strconv.Atoi),
		},
		Assistant: AssistantConfig{
			SystemPrompt:    strings.TrimSpace(envString("SYSTEM_PROMPT", "")),
			ContextWindow:   envOr("CONTEXT_WINDOW", 10, strconv.Atoi),
			FAQCandidates:   envOr("FAQ_CANDIDATES", 10, strconv.Atoi),
			KeywordCap:      envOr("KEYWORD_CAP", 10, strconv.Atoi),
			TitleMaxRunes:   envOr("TITLE_MAX_RUNES", 50, strconv.Atoi),
			MaxMessageRunes: envOr("MAX_MESSAGE_RUNES", 4000, strconv.Atoi),
			UploadMaxBytes:  envOr("UPLOAD_MAX_BYTES", int64(5<<20), parseInt64),
		},

		RateRPS:   envOr("RATE_RPS", 5.0, parseFloat),
		RateBurst: envOr("RATE_BURST", 10, strconv.Atoi),

		RateIPRPS:   envOr("RATE_IP_RPS", 20.0, parseFloat),
		RateIPBurst: envOr("RATE_IP_BURST", 40, strconv.Atoi),

		CORS: CORSConfig{AllowedOrigins: splitCSV(envString("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: envOr("ENABLE_HSTS", false, parseBool),
			HSTSMaxAge: envOr("HSTS_MAX_AGE", 180*24*time.Hour, time.ParseDuration),
		},

		IdempotencyTTL: envOr("IDEMPOTENCY_TTL", 24*time.Hour, time.ParseDuration),

		OTEL: OTELConfig{
			Enabled:     envOr("OTEL_ENABLED", false, parseBool),
			Endpoint:    envString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    envOr("OTEL_EXPORTER_OTLP_INSECURE", true, parseBool),
			ServiceName: envString("OTEL_SERVICE_NAME", "go-support-backend"),
			SampleRatio: envOr("OTEL_TRACES_SAMPLER_ARG", 1.0, parseFloat),
		},
	}
	cfg.normalize()
	return cfg, cfg.validate()
}

// IsDevelopment reports whether upstream error details may be exposed.
func (c Config) IsDevelopment() bool { return c.AppEnv == "development" }

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.AppEnv {
	case "dev", "develop":
		c.AppEnv = "development"
	case "prod":
		c.AppEnv = "production"
	}
	c.OTEL.Environment = c.AppEnv
	if c.DB.Driver == "postgresql" {
		c.DB.Driver = "postgres"
	}
}

// rule is one validation check; bad reports a violation of msg.
type rule struct {
	bad bool
	msg string
}

func (c Config) validate() error {
	a := c.Assistant
	rules := []rule{
		{!oneOf(c.LogLevel, "trace", "debug", "info", "warn", "error", "fatal", "panic"),
			"LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) == "", "PORT must not be empty"},
		{c.ReadTimeout <= 0 || c.ReadHeaderTimeout <= 0 || c.WriteTimeout <= 0 || c.IdleTimeout <= 0,
			"timeouts must be positive durations"},
		{c.MaxHeaderBytes <= 0, "MAX_HEADER_BYTES must be > 0"},
		{!oneOf(c.DB.Driver, "sqlite", "postgres"), "DB_DRIVER must be one of: sqlite, postgres"},
		{strings.TrimSpace(c.DB.DSN) == "", "DB_DSN must not be empty"},
		{c.Redis.FAQCacheTTL <= 0, "FAQ_CACHE_TTL must be > 0"},
		{c.LLM.MaxTokens <= 0, "LLM_MAX_TOKENS must be > 0"},
		{c.LLM.Temperature <= 0 || c.LLM.Temperature > 2, "LLM_TEMPERATURE must be in (0,2]"},
		{c.LLM.Timeout <= 0, "LLM_TIMEOUT must be > 0"},
		{c.WriteTimeout <= c.LLM.Timeout, "WRITE_TIMEOUT must exceed LLM_TIMEOUT"},
		{c.LLM.MaxRetries < 0, "LLM_MAX_RETRIES must be >= 0"},
		{a.ContextWindow < 1 || a.FAQCandidates < 1 || a.KeywordCap < 1 || a.TitleMaxRunes < 1 || a.MaxMessageRunes < 1,
			"CONTEXT_WINDOW, FAQ_CANDIDATES, KEYWORD_CAP, TITLE_MAX_RUNES and MAX_MESSAGE_RUNES must be >= 1"},
		{a.UploadMaxBytes <= 0, "UPLOAD_MAX_BYTES must be > 0"},
		{c.RateRPS < 0, "RATE_RPS must be >= 0"},
		{c.RateBurst < 1, "RATE_BURST must be >= 1"},
		{c.RateIPRPS < 0, "RATE_IP_RPS must be >= 0"},
		{c.RateIPBurst < 1, "RATE_IP_BURST must be >= 1"},
		{c.Security.HSTSMaxAge < 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL <= 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.OTEL.SampleRatio < 0 || c.OTEL.SampleRatio > 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, r := range rules {
		if r.bad {
			return errors.New(r.msg)
		}
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// envString returns the variable or def when unset or empty.
func envString(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// envOr parses the variable with parse. Unset, empty and unparsable values
// fall back to def.
func envOr[T any](k string, def T, parse func(string) (T, error)) T {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	out, err := parse(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return out
}

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// empty input becomes the root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
