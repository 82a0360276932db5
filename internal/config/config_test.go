package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Compression.CeilingBytes != cfg.Compression.ThresholdBytes {
		t.Fatalf("expected ceiling to default to threshold, got %d vs %d", cfg.Compression.CeilingBytes, cfg.Compression.ThresholdBytes)
	}
	if cfg.MessageTTL != 24*time.Hour {
		t.Fatalf("expected 24h message ttl got %v", cfg.MessageTTL)
	}
	if cfg.SignedURLCache >= cfg.SignedURLTTL {
		t.Fatalf("signed url cache must expire before the url itself")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STARRYVLOG_PORT", "9090")
	t.Setenv("STARRYVLOG_COMPRESS_THRESHOLD_BYTES", "1024")
	t.Setenv("STARRYVLOG_SIGNED_URL_TTL", "30m")
	t.Setenv("STARRYVLOG_SIGNED_URL_CACHE_TTL", "25m")
	t.Setenv("STARRYVLOG_FEED_LIMIT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppPort != 9090 {
		t.Fatalf("expected port override got %d", cfg.AppPort)
	}
	if cfg.Compression.ThresholdBytes != 1024 || cfg.Compression.CeilingBytes != 1024 {
		t.Fatalf("unexpected compression sizes: %+v", cfg.Compression)
	}
	if cfg.SignedURLTTL != 30*time.Minute {
		t.Fatalf("expected signed url ttl override got %v", cfg.SignedURLTTL)
	}
	if cfg.FeedLimit != 100 {
		t.Fatalf("expected invalid int to fall back, got %d", cfg.FeedLimit)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("STARRYVLOG_SIGNED_URL_TTL", "10m")
	t.Setenv("STARRYVLOG_SIGNED_URL_CACHE_TTL", "20m")
	t.Setenv("STARRYVLOG_JWT_SECRET", "short")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadAllowedOrigins(t *testing.T) {
	t.Setenv("STARRYVLOG_ALLOWED_ORIGINS", "https://starry.example, ,http://localhost:5173")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://localhost:5173" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}
