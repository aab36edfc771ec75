// Package config centralizes how the nutrition service reads environment
// variables and exposes them as strongly typed Go values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration for the API server, the worker, and
// the shared pipeline pieces they construct.
type Config struct {
	Address string

	// Ingestion limits.
	MaxImageBytes  int64
	AllowedFormats []string

	// Inference provider.
	Provider        string // "openai" or "vertex"
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	VertexProjectID string
	VertexLocation  string
	VertexCredsFile string
	VertexModel     string

	// Retry and rate discipline for provider calls.
	AnalyzeTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ProviderRate   float64
	ProviderBurst  int

	// Plausibility bounds for validation.
	MaxMealCalories float64
	MaxMacroGrams   float64

	// Ledger defaults.
	DefaultTimezone string

	// Collaborators.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool
	S3Region    string
	PhotoBucket string
	PhotoURLTTL time.Duration

	ProcessingPool int
}

const (
	defaultAddress        = ":8080"
	defaultMaxImageBytes  = 8 << 20 // 8 MiB
	defaultFormats        = "image/jpeg,image/png,image/webp"
	defaultProvider       = "openai"
	defaultOpenAIModel    = "gpt-4o"
	defaultOpenAIBaseURL  = "https://api.openai.com/v1"
	defaultVertexModel    = "gemini-pro-vision"
	defaultAnalyzeTimeout = 30 * time.Second
	defaultMaxRetries     = 3
	defaultRetryBase      = 500 * time.Millisecond
	defaultRetryMax       = 8 * time.Second
	defaultProviderRate   = 2.0
	defaultProviderBurst  = 4
	defaultMealCalories   = 4000
	defaultMacroGrams     = 1000
	defaultTimezone       = "UTC"
	defaultPhotoBucket    = "food-photos"
	defaultPhotoTTL       = 5 * time.Minute
	defaultWorkerCount    = 4
)

// Load reads configuration from environment variables falling back to
// defaults. It returns (value, error) so callers can handle failures rather
// than panicking.
func Load() (*Config, error) {
	cfg := &Config{
		Address:         readEnv("NUTRIBOT_ADDRESS", defaultAddress),
		MaxImageBytes:   parseInt64("NUTRIBOT_MAX_IMAGE_BYTES", defaultMaxImageBytes),
		AllowedFormats:  parseList("NUTRIBOT_ALLOWED_FORMATS", defaultFormats),
		Provider:        readEnv("NUTRIBOT_PROVIDER", defaultProvider),
		OpenAIAPIKey:    readEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     readEnv("NUTRIBOT_OPENAI_MODEL", defaultOpenAIModel),
		OpenAIBaseURL:   readEnv("NUTRIBOT_OPENAI_BASE_URL", defaultOpenAIBaseURL),
		VertexProjectID: readEnv("GOOGLE_PROJECT_ID", ""),
		VertexLocation:  readEnv("GOOGLE_LOCATION", ""),
		VertexCredsFile: readEnv("GOOGLE_CREDENTIALS_FILE", ""),
		VertexModel:     readEnv("NUTRIBOT_VERTEX_MODEL", defaultVertexModel),
		AnalyzeTimeout:  parseDuration("NUTRIBOT_ANALYZE_TIMEOUT", defaultAnalyzeTimeout),
		MaxRetries:      parseInt("NUTRIBOT_MAX_RETRIES", defaultMaxRetries),
		RetryBaseDelay:  parseDuration("NUTRIBOT_RETRY_BASE_DELAY", defaultRetryBase),
		RetryMaxDelay:   parseDuration("NUTRIBOT_RETRY_MAX_DELAY", defaultRetryMax),
		ProviderRate:    parseFloat("NUTRIBOT_PROVIDER_RATE", defaultProviderRate),
		ProviderBurst:   parseInt("NUTRIBOT_PROVIDER_BURST", defaultProviderBurst),
		MaxMealCalories: parseFloat("NUTRIBOT_MAX_MEAL_CALORIES", defaultMealCalories),
		MaxMacroGrams:   parseFloat("NUTRIBOT_MAX_MACRO_GRAMS", defaultMacroGrams),
		DefaultTimezone: readEnv("NUTRIBOT_DEFAULT_TIMEZONE", defaultTimezone),
		DatabaseURL:     readEnv("DATABASE_URL", ""),
		RedisAddr:       readEnv("NUTRIBOT_REDIS_ADDR", ""),
		RedisPassword:   readEnv("NUTRIBOT_REDIS_PASSWORD", ""),
		RedisDB:         parseInt("NUTRIBOT_REDIS_DB", 0),
		S3Endpoint:      readEnv("NUTRIBOT_S3_ENDPOINT", ""),
		S3AccessKey:     readEnv("NUTRIBOT_S3_ACCESS_KEY", ""),
		S3SecretKey:     readEnv("NUTRIBOT_S3_SECRET_KEY", ""),
		S3UseSSL:        parseBool("NUTRIBOT_S3_USE_SSL", false),
		S3Region:        readEnv("NUTRIBOT_S3_REGION", "us-east-1"),
		PhotoBucket:     readEnv("NUTRIBOT_PHOTO_BUCKET", defaultPhotoBucket),
		PhotoURLTTL:     parseDuration("NUTRIBOT_PHOTO_URL_TTL", defaultPhotoTTL),
		ProcessingPool:  parseInt("NUTRIBOT_WORKERS", defaultWorkerCount),
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImageBytes
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.ProcessingPool <= 0 {
		cfg.ProcessingPool = defaultWorkerCount
	}
	if cfg.ProviderRate <= 0 {
		cfg.ProviderRate = defaultProviderRate
	}
	if cfg.ProviderBurst <= 0 {
		cfg.ProviderBurst = defaultProviderBurst
	}
	if cfg.AnalyzeTimeout <= 0 {
		cfg.AnalyzeTimeout = defaultAnalyzeTimeout
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	// LookupEnv returns (value, true) when the variable is present.
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func parseList(key, def string) []string {
	val := readEnv(key, def)
	out := strings.Split(val, ",")
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	return out
}

func parseInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
