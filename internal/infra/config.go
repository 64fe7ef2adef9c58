package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"

	VisionProviderOpenAI = "openai"
	VisionProviderGemini = "gemini"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	StoreDriver        string
	DatabaseURL        string
	DBSchema           string
	SQLitePath         string
	StoragePath        string
	VisionProvider     string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	OpenAIOrg          string
	OpenAITimeout      time.Duration
	OpenAIMaxTokens    int
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	BatchItemDelay     time.Duration
	MaxUploadBytes     int64
	MaxBatchFiles      int
	MaxAppendFiles     int
	MaxParseBatchFiles int
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
}

// LookupFunc resolves one configuration key, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(os.LookupEnv)
}

// LoadConfigFrom is LoadConfig over an arbitrary key source.
func LoadConfigFrom(lookup LookupFunc) (*Config, error) {
	env := source(lookup)
	cfg := &Config{
		AppEnv:             env.get("APP_ENV", "development"),
		Port:               env.get("PORT", "8080"),
		StoreDriver:        strings.ToLower(env.get("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:        env.get("DATABASE_URL", ""),
		DBSchema:           strings.TrimSpace(env.get("DB_SCHEMA", "")),
		SQLitePath:         env.get("SQLITE_PATH", "pagebatch.db"),
		StoragePath:        strings.TrimSpace(env.get("STORAGE_PATH", "")),
		VisionProvider:     strings.ToLower(env.get("VISION_PROVIDER", VisionProviderOpenAI)),
		OpenAIAPIKey:       strings.TrimSpace(env.get("OPENAI_API_KEY", "")),
		OpenAIModel:        env.get("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL:      env.get("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:          env.get("OPENAI_ORG", ""),
		OpenAITimeout:      time.Second * time.Duration(env.getInt("OPENAI_TIMEOUT_SECONDS", 180)),
		OpenAIMaxTokens:    env.getInt("OPENAI_MAX_TOKENS", 4096),
		GeminiAPIKey:       strings.TrimSpace(env.get("GEMINI_API_KEY", "")),
		GeminiModel:        env.get("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiBaseURL:      env.get("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		BatchItemDelay:     time.Millisecond * time.Duration(env.getInt("BATCH_ITEM_DELAY_MS", 3000)),
		MaxUploadBytes:     int64(env.getInt("MAX_UPLOAD_MB", 10)) << 20,
		MaxBatchFiles:      env.getInt("MAX_BATCH_FILES", 300),
		MaxAppendFiles:     env.getInt("MAX_APPEND_FILES", 100),
		MaxParseBatchFiles: env.getInt("MAX_PARSE_BATCH_FILES", 20),
		CORSAllowedOrigins: splitList(env.get("CORS_ALLOWED_ORIGINS", "")),
		HTTPReadTimeout:    time.Second * time.Duration(env.getInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout:   time.Second * time.Duration(env.getInt("HTTP_WRITE_TIMEOUT_SECONDS", 600)),
		HTTPIdleTimeout:    time.Second * time.Duration(env.getInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    env.getInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("SQLITE_PATH is required")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER %q must be one of: postgres, sqlite", cfg.StoreDriver)
	}

	switch cfg.VisionProvider {
	case VisionProviderOpenAI, VisionProviderGemini:
	default:
		return nil, fmt.Errorf("VISION_PROVIDER %q must be one of: openai, gemini", cfg.VisionProvider)
	}

	if cfg.BatchItemDelay < 0 {
		return nil, fmt.Errorf("BATCH_ITEM_DELAY_MS must not be negative")
	}

	return cfg, nil
}

type source LookupFunc

func (s source) get(key, fallback string) string {
	if v, ok := s(key); ok && v != "" {
		return v
	}
	return fallback
}

func (s source) getInt(key string, fallback int) int {
	if v, ok := s(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
