// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.venn/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, temperature, embedder
//   - Storage: PostgreSQL and Redis connections (see storage.go)
//   - Cache: semantic cache TTL and similarity floor
//   - Pipeline: generation timeout, rate limit, history bounds
//   - Observability: OTLP trace export
//
// Sensitive data (passwords) is never logged; MarshalJSON masks it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidRedisAddr indicates the Redis address is invalid.
	ErrInvalidRedisAddr = errors.New("invalid Redis address")

	// ErrInvalidCacheMinScore indicates the similarity floor is out of range.
	ErrInvalidCacheMinScore = errors.New("invalid cache min score")

	// ErrInvalidRetention indicates the history retention window is invalid.
	ErrInvalidRetention = errors.New("invalid retention days")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	Language    string  `mapstructure:"language" json:"language"`
	OllamaHost  string  `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedding configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// PostgreSQL (cold history, vector index)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Redis (exact-match cache, hot history)
	RedisAddr     string `mapstructure:"redis_addr" json:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" json:"redis_password"` // SENSITIVE: masked in MarshalJSON
	RedisDB       int    `mapstructure:"redis_db" json:"redis_db"`
	RedisPoolSize int    `mapstructure:"redis_pool_size" json:"redis_pool_size"`

	// Semantic cache
	CacheTTL      time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	CacheMinScore float64       `mapstructure:"cache_min_score" json:"cache_min_score"`

	// Conversation history
	HotHistorySize int           `mapstructure:"hot_history_size" json:"hot_history_size"`
	HotHistoryTTL  time.Duration `mapstructure:"hot_history_ttl" json:"hot_history_ttl"`
	RetentionDays  int           `mapstructure:"retention_days" json:"retention_days"`

	// Generation
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`
	ModelRateLimit  float64       `mapstructure:"model_rate_limit" json:"model_rate_limit"`
	SystemPrompt    string        `mapstructure:"system_prompt" json:"system_prompt"`

	// HTTP server
	TrustProxy bool `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst  int  `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability (OTLP trace export; empty endpoint disables tracing)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".venn")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL and REDIS_URL override the individual fields when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}
	if err := cfg.parseRedisURL(); err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)
	viper.SetDefault("language", "en")
	viper.SetDefault("ollama_host", "http://localhost:11434")
	viper.SetDefault("embedder_model", "gemini-embedding-001")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "venn")
	viper.SetDefault("postgres_password", "venn_dev_password")
	viper.SetDefault("postgres_db_name", "venn")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Redis defaults
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("redis_pool_size", 10)

	// Cache defaults
	viper.SetDefault("cache_ttl", 24*time.Hour)
	viper.SetDefault("cache_min_score", 0.90)

	// History defaults
	viper.SetDefault("hot_history_size", 50)
	viper.SetDefault("hot_history_ttl", 6*time.Hour)
	viper.SetDefault("retention_days", 90)

	// Generation defaults
	viper.SetDefault("generate_timeout", 60*time.Second)
	viper.SetDefault("model_rate_limit", 0.0)

	// Server defaults
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// Observability defaults
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("environment", "dev")
	viper.SetDefault("service_name", "venn")
}

// bindEnvVariables binds environment overrides explicitly. Provider API keys
// (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the Genkit plugins,
// not via Viper; Validate only checks their presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "VENN_PROVIDER")
	mustBind("model_name", "VENN_MODEL_NAME")
	mustBind("ollama_host", "VENN_OLLAMA_HOST")
	mustBind("redis_password", "VENN_REDIS_PASSWORD")
	mustBind("postgres_password", "VENN_POSTGRES_PASSWORD")
	mustBind("trust_proxy", "VENN_TRUST_PROXY")
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("environment", "VENN_ENVIRONMENT")
}

// Validate performs fail-fast range and presence checks.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY is required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host must be set for provider ollama", ErrInvalidProvider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, googleai, ollama, openai)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name must not be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be in [0, 2])", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidMaxTokens, c.MaxTokens)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: address must not be empty", ErrInvalidRedisAddr)
	}
	if c.CacheMinScore < 0 || c.CacheMinScore > 1 {
		return fmt.Errorf("%w: %v (must be in [0, 1])", ErrInvalidCacheMinScore, c.CacheMinScore)
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidRetention, c.RetentionDays)
	}
	return nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid substring matching against real secret characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 chars or
// fewer are fully masked; longer secrets keep the first and last 2 chars
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.RedisPassword = maskSecret(a.RedisPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
