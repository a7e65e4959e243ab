package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/realtime-relay/internal/errors"
)

var relayEnv = []string{
	"HTTP_ADDR", "STATIC_INDEX_PATH", "ALLOWED_ORIGINS", "METRICS_ENABLED",
	"OPENAI_API_KEY", "OPENAI_REALTIME_URL",
	"UPSTREAM_DIAL_TIMEOUT", "UPSTREAM_WRITE_TIMEOUT", "UPSTREAM_IDLE_TIMEOUT",
	"UPSTREAM_CONNECT_RETRIES", "UPSTREAM_RETRY_BASE_DELAY",
	"UPSTREAM_BREAKER_THRESHOLD", "UPSTREAM_BREAKER_RESET",
	"MAX_AUDIO_BYTES", "UPSTREAM_READ_LIMIT",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
}

// clearEnv unsets every relay variable for the duration of the test and points
// ENV_FILE at a file that does not exist.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range relayEnv {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8000")
	}
	if cfg.StaticIndexPath != "index.html" {
		t.Errorf("StaticIndexPath = %q, want %q", cfg.StaticIndexPath, "index.html")
	}
	if cfg.RealtimeURL != DefaultRealtimeURL {
		t.Errorf("RealtimeURL = %q, want %q", cfg.RealtimeURL, DefaultRealtimeURL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", cfg.AllowedOrigins)
	}
	if !cfg.MetricsEnabled {
		t.Error("MetricsEnabled should default to true")
	}
	if cfg.DialTimeout != 15*time.Second {
		t.Errorf("DialTimeout = %v, want 15s", cfg.DialTimeout)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.ConnectRetries != 0 {
		t.Errorf("ConnectRetries = %d, want 0", cfg.ConnectRetries)
	}
	if cfg.BreakerThreshold != 5 {
		t.Errorf("BreakerThreshold = %d, want 5", cfg.BreakerThreshold)
	}
	if cfg.MaxAudioBytes != 10<<20 {
		t.Errorf("MaxAudioBytes = %d, want %d", cfg.MaxAudioBytes, 10<<20)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" || cfg.Log.File != "" {
		t.Errorf("Log = %+v, want info/text/stdout", cfg.Log)
	}
}

func TestLoadWithEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("ALLOWED_ORIGINS", "localhost:*, example.com ,")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("UPSTREAM_IDLE_TIMEOUT", "0")
	t.Setenv("UPSTREAM_CONNECT_RETRIES", "2")
	t.Setenv("UPSTREAM_RETRY_BASE_DELAY", "250ms")
	t.Setenv("MAX_AUDIO_BYTES", "1024")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPAddr != ":9000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9000")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "example.com" {
		t.Errorf("AllowedOrigins = %v, want [localhost:* example.com]", cfg.AllowedOrigins)
	}
	if cfg.MetricsEnabled {
		t.Error("MetricsEnabled should be false")
	}
	if cfg.IdleTimeout != 0 {
		t.Errorf("IdleTimeout = %v, want 0", cfg.IdleTimeout)
	}
	if cfg.ConnectRetries != 2 {
		t.Errorf("ConnectRetries = %d, want 2", cfg.ConnectRetries)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want 250ms", cfg.RetryBaseDelay)
	}
	if cfg.MaxAudioBytes != 1024 {
		t.Errorf("MaxAudioBytes = %d, want 1024", cfg.MaxAudioBytes)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("UPSTREAM_DIAL_TIMEOUT", "soon")
	t.Setenv("UPSTREAM_WRITE_TIMEOUT", "-1s")
	t.Setenv("UPSTREAM_BREAKER_THRESHOLD", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DialTimeout != 15*time.Second {
		t.Errorf("DialTimeout = %v, want default", cfg.DialTimeout)
	}
	if cfg.WriteTimeout != 15*time.Second {
		t.Errorf("WriteTimeout = %v, want default", cfg.WriteTimeout)
	}
	if cfg.BreakerThreshold != 5 {
		t.Errorf("BreakerThreshold = %d, want default", cfg.BreakerThreshold)
	}
}

func TestLoadMissingKey(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err == nil {
		t.Fatalf("Load() = %+v, want error", cfg)
	}
	if !apperrors.IsCode(err, apperrors.CodeConfigMissing) {
		t.Errorf("error code = %v, want CONFIG_MISSING", apperrors.CodeOf(err))
	}
}

func TestLoadInvalidRealtimeURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"http scheme", "https://api.openai.com/v1/realtime"},
		{"no host", "wss:///v1/realtime"},
		{"unparseable", "wss://bad host/%zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("OPENAI_API_KEY", "sk-test")
			t.Setenv("OPENAI_REALTIME_URL", tt.url)

			_, err := Load()
			if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
				t.Errorf("Load() error = %v, want CONFIG_INVALID", err)
			}
		})
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "relay.env")
	content := "OPENAI_API_KEY=sk-from-file\nHTTP_ADDR=:7000\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("HTTP_ADDR", ":7500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIAPIKey != "sk-from-file" {
		t.Errorf("OpenAIAPIKey = %q, want value from env file", cfg.OpenAIAPIKey)
	}
	if cfg.HTTPAddr != ":7500" {
		t.Errorf("HTTPAddr = %q, want process env to win over env file", cfg.HTTPAddr)
	}
}

func TestLogValueOmitsKey(t *testing.T) {
	cfg := &Config{OpenAIAPIKey: "sk-secret", HTTPAddr: ":8000"}

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("config", "config", cfg)

	if strings.Contains(buf.String(), "sk-secret") {
		t.Errorf("log output leaks API key: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "config.http_addr=:8000") {
		t.Errorf("log output missing http_addr: %s", buf.String())
	}
}
