// Package config loads relay configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/GriffinCanCode/realtime-relay/internal/errors"
)

// DefaultRealtimeURL is the realtime endpoint and model the relay talks to.
const DefaultRealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"

// Config holds everything the relay reads from the environment.
type Config struct {
	HTTPAddr        string
	StaticIndexPath string
	AllowedOrigins  []string
	MetricsEnabled  bool

	OpenAIAPIKey string
	RealtimeURL  string

	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration // 0 disables
	ConnectRetries    int
	RetryBaseDelay    time.Duration
	BreakerThreshold  int // 0 disables
	BreakerReset      time.Duration
	MaxAudioBytes     int64
	UpstreamReadLimit int64

	Log LogConfig
}

// LogConfig controls the slog handler and optional rotating file.
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads ENV_FILE (default .env) into the environment without overriding
// variables that are already set, then builds the Config. Unparseable typed
// values fall back to their defaults; a missing OPENAI_API_KEY or a realtime
// URL that is not ws/wss is an error.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read env file", "path", envFile, "error", err)
	}

	cfg := &Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8000"),
		StaticIndexPath: getEnv("STATIC_INDEX_PATH", "index.html"),
		AllowedOrigins:  getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		MetricsEnabled:  getEnvBool("METRICS_ENABLED", true),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		RealtimeURL:  getEnv("OPENAI_REALTIME_URL", DefaultRealtimeURL),

		DialTimeout:       getEnvDuration("UPSTREAM_DIAL_TIMEOUT", 15*time.Second),
		WriteTimeout:      getEnvDuration("UPSTREAM_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       getEnvDuration("UPSTREAM_IDLE_TIMEOUT", 60*time.Second),
		ConnectRetries:    getEnvInt("UPSTREAM_CONNECT_RETRIES", 0),
		RetryBaseDelay:    getEnvDuration("UPSTREAM_RETRY_BASE_DELAY", 500*time.Millisecond),
		BreakerThreshold:  getEnvInt("UPSTREAM_BREAKER_THRESHOLD", 5),
		BreakerReset:      getEnvDuration("UPSTREAM_BREAKER_RESET", 30*time.Second),
		MaxAudioBytes:     getEnvInt64("MAX_AUDIO_BYTES", 10<<20),
		UpstreamReadLimit: getEnvInt64("UPSTREAM_READ_LIMIT", 16<<20),

		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "text"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, apperrors.New(apperrors.CodeConfigMissing, "OPENAI_API_KEY is not set").
			WithMetadata("env_file", envFile)
	}
	if err := validateRealtimeURL(cfg.RealtimeURL); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateRealtimeURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "OPENAI_REALTIME_URL is not a valid URL")
	}
	if (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "OPENAI_REALTIME_URL must be a ws:// or wss:// URL, got %q", raw)
	}
	return nil
}

// LogValue implements slog.LogValuer. The API key is never included.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("http_addr", c.HTTPAddr),
		slog.String("realtime_url", c.RealtimeURL),
		slog.Duration("dial_timeout", c.DialTimeout),
		slog.Duration("idle_timeout", c.IdleTimeout),
		slog.Int("connect_retries", c.ConnectRetries),
		slog.Int("breaker_threshold", c.BreakerThreshold),
		slog.Int64("max_audio_bytes", c.MaxAudioBytes),
		slog.Bool("metrics", c.MetricsEnabled),
	)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
