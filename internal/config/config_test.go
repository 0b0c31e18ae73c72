package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONVERTFLOW_API_ADDR", "")
	t.Setenv("RATE_LIMIT_CAPACITY", "")

	cfg := Load()
	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default api addr, got %q", cfg.API.Addr)
	}
	if cfg.RateLimit.Capacity != 0 {
		t.Fatalf("expected rate limiting disabled by default, got %d", cfg.RateLimit.Capacity)
	}
	if cfg.Database.Driver != "memory" {
		t.Fatalf("expected memory job store by default, got %q", cfg.Database.Driver)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CONVERT_JPEG_QUALITY", "55")
	t.Setenv("WEBHOOK_TIMEOUT", "2s")
	t.Setenv("RATE_LIMIT_WINDOW", "not-a-duration")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	t.Setenv("MINIO_USE_SSL", "true")

	cfg := Load()
	if cfg.Convert.Quality != 55 {
		t.Fatalf("expected quality 55, got %d", cfg.Convert.Quality)
	}
	if cfg.Webhook.Timeout != 2*time.Second {
		t.Fatalf("expected webhook timeout 2s, got %v", cfg.Webhook.Timeout)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("expected invalid window to fall back to 1m, got %v", cfg.RateLimit.Window)
	}
	if cfg.Tracing.SampleRatio != 0.25 {
		t.Fatalf("expected sample ratio 0.25, got %v", cfg.Tracing.SampleRatio)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected MINIO_USE_SSL=true to be honored")
	}
}
