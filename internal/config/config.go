package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/provider"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Storage   StorageConfig
	STT       STTConfig
	LLM       LLMConfig
	Analytics AnalyticsConfig
}

type StorageConfig struct {
	SupabaseURL string
	ServiceKey  string
	Bucket      string
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type STTConfig struct {
	// APIKeys and WSOverrides are read from <PROVIDER>_API_KEY and
	// <PROVIDER>_WS_URL; a provider with neither is unconfigured.
	APIKeys     map[provider.Provider]string
	WSOverrides map[provider.Provider]string
	APIBases    map[provider.Provider]string

	DefaultProvider string
	ConnectTimeout  time.Duration
	WebhookSecret   string
	PublicBaseURL   string
	CallbackWait    time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration
}

type LLMConfig struct {
	OpenRouterKey     string
	BaseURL           string
	ModelsDefault     []string
	ModelsToolCalling []string
	Timeout           time.Duration
}

type AnalyticsConfig struct {
	Endpoint string
	APIKey   string
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}
	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}
	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	connectTimeout, err := getEnvInt("STT_CONNECT_TIMEOUT_SECONDS", 7)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_CONNECT_TIMEOUT_SECONDS: %w", err)
	}
	callbackWait, err := getEnvInt("STT_CALLBACK_WAIT_SECONDS", 600)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_CALLBACK_WAIT_SECONDS: %w", err)
	}
	rateMax, err := getEnvInt("STT_RATE_LIMIT_MAX", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_RATE_LIMIT_MAX: %w", err)
	}
	rateWindow, err := getEnvInt("STT_RATE_LIMIT_WINDOW_SECONDS", 3600)
	if err != nil {
		return nil, fmt.Errorf("invalid STT_RATE_LIMIT_WINDOW_SECONDS: %w", err)
	}
	llmTimeout, err := getEnvInt("LLM_TIMEOUT_SECONDS", 120)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_TIMEOUT_SECONDS: %w", err)
	}

	apiKeys := make(map[provider.Provider]string)
	wsOverrides := make(map[provider.Provider]string)
	apiBases := make(map[provider.Provider]string)
	for _, p := range provider.AllProviders {
		prefix := strings.ToUpper(p.String())
		apiKeys[p] = getEnv(prefix+"_API_KEY", "")
		wsOverrides[p] = getEnv(prefix+"_WS_URL", "")
		apiBases[p] = getEnv(prefix+"_API_BASE", "")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: maxConns,
			MinConns: minConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Storage: StorageConfig{
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			ServiceKey:  getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "audio-uploads"),
		},
		STT: STTConfig{
			APIKeys:         apiKeys,
			WSOverrides:     wsOverrides,
			APIBases:        apiBases,
			DefaultProvider: getEnv("STT_DEFAULT_PROVIDER", "deepgram"),
			ConnectTimeout:  time.Duration(connectTimeout) * time.Second,
			WebhookSecret:   getEnv("WEBHOOK_SECRET", ""),
			PublicBaseURL:   getEnv("PUBLIC_BASE_URL", ""),
			CallbackWait:    time.Duration(callbackWait) * time.Second,
			RateLimitMax:    rateMax,
			RateLimitWindow: time.Duration(rateWindow) * time.Second,
		},
		LLM: LLMConfig{
			OpenRouterKey:     getEnv("OPENROUTER_API_KEY", ""),
			BaseURL:           getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			ModelsDefault:     splitList(getEnv("LLM_MODELS", "openai/gpt-4o-mini,anthropic/claude-3-5-haiku")),
			ModelsToolCalling: splitList(getEnv("LLM_MODELS_TOOL_CALLING", "openai/gpt-4o,anthropic/claude-sonnet-4")),
			Timeout:           time.Duration(llmTimeout) * time.Second,
		},
		Analytics: AnalyticsConfig{
			Endpoint: getEnv("ANALYTICS_ENDPOINT", ""),
			APIKey:   getEnv("ANALYTICS_API_KEY", ""),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.STT.WebhookSecret == "" {
		missing = append(missing, "WEBHOOK_SECRET")
	}
	if c.STT.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DefaultProviderParsed resolves the configured default, so a typo fails
// at startup instead of at the first session.
func (c *Config) DefaultProviderParsed() (provider.Provider, error) {
	return provider.Parse(c.STT.DefaultProvider)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
