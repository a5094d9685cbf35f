package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.UploadInterval != 12*time.Second {
		t.Fatalf("expected 12s upload interval, got %v", cfg.UploadInterval)
	}
	if cfg.UploadDistanceM != 50 {
		t.Fatalf("expected 50m upload distance, got %v", cfg.UploadDistanceM)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Fatalf("expected 30s sync interval, got %v", cfg.SyncInterval)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("CONTROL_SECRET", "secret")
	t.Setenv("UPLOAD_INTERVAL", "20s")
	t.Setenv("UPLOAD_DISTANCE_M", "75")
	t.Setenv("DATA_DIR", "/tmp/livetrack")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.ControlSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.UploadInterval != 20*time.Second {
		t.Fatalf("expected override interval, got %v", cfg.UploadInterval)
	}
	if cfg.UploadDistanceM != 75 {
		t.Fatalf("expected override distance, got %v", cfg.UploadDistanceM)
	}
	if cfg.DataDir != "/tmp/livetrack" {
		t.Fatalf("expected override data dir")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug {
		t.Fatalf("expected debug")
	}
	if ParseLevel("warning") != slog.LevelWarn {
		t.Fatalf("expected warn")
	}
	if ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("expected info fallback")
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{LogFormat: "json", LogLevel: "info"}, &buf)
	logger.Debug("hidden")
	logger.Info("visible", "component", "test")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"component":"test"`) {
		t.Fatalf("expected json output, got %s", out)
	}
}
