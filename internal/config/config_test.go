// internal/config/config_test.go
// Package config provides unit tests for environment-driven configuration.
package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BV_JWT_ISSUER", "https://accounts.test")
	t.Setenv("BV_JWT_AUDIENCE", "boothvault")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Env = %q, want dev", cfg.Env)
	}
	if cfg.S3Region != "us-east-1" {
		t.Errorf("S3Region = %q, want us-east-1", cfg.S3Region)
	}
	if cfg.MaxDownloadBytes != 50*1024*1024 {
		t.Errorf("MaxDownloadBytes = %d, want 50 MiB", cfg.MaxDownloadBytes)
	}
	if cfg.MinImageBytes != 4096 {
		t.Errorf("MinImageBytes = %d, want 4096", cfg.MinImageBytes)
	}
	if cfg.MaxRedirectHops != 5 {
		t.Errorf("MaxRedirectHops = %d, want 5", cfg.MaxRedirectHops)
	}
	if cfg.MaxHTMLHops != 2 {
		t.Errorf("MaxHTMLHops = %d, want 2", cfg.MaxHTMLHops)
	}
	if cfg.TraversalDeadline != 45*time.Second {
		t.Errorf("TraversalDeadline = %v, want 45s", cfg.TraversalDeadline)
	}
}

func TestLoadRequiresJWTSettings(t *testing.T) {
	t.Setenv("BV_JWT_ISSUER", "")
	t.Setenv("BV_JWT_AUDIENCE", "boothvault")
	if _, err := Load(); err == nil {
		t.Error("Load without BV_JWT_ISSUER must fail")
	}

	t.Setenv("BV_JWT_ISSUER", "https://accounts.test")
	t.Setenv("BV_JWT_AUDIENCE", "")
	if _, err := Load(); err == nil {
		t.Error("Load without BV_JWT_AUDIENCE must fail")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BV_PORT", "9090")
	t.Setenv("BV_MAX_DOWNLOAD_BYTES", "1048576")
	t.Setenv("BV_TRAVERSAL_DEADLINE", "90s")
	t.Setenv("BV_MAX_REDIRECT_HOPS", "8")
	t.Setenv("BV_JWKS_URL", "https://keys.example/jwks.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.JWKSURL != "https://keys.example/jwks.json" {
		t.Errorf("JWKSURL = %q, want the configured key set URL", cfg.JWKSURL)
	}
	if cfg.MaxDownloadBytes != 1048576 {
		t.Errorf("MaxDownloadBytes = %d, want 1048576", cfg.MaxDownloadBytes)
	}
	if cfg.TraversalDeadline != 90*time.Second {
		t.Errorf("TraversalDeadline = %v, want 90s", cfg.TraversalDeadline)
	}
	if cfg.MaxRedirectHops != 8 {
		t.Errorf("MaxRedirectHops = %d, want 8", cfg.MaxRedirectHops)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("BV_MAX_DOWNLOAD_BYTES", "not-a-number")
	t.Setenv("BV_TRAVERSAL_DEADLINE", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxDownloadBytes != 50*1024*1024 {
		t.Errorf("MaxDownloadBytes = %d, want the default on parse failure", cfg.MaxDownloadBytes)
	}
	if cfg.TraversalDeadline != 45*time.Second {
		t.Errorf("TraversalDeadline = %v, want the default on parse failure", cfg.TraversalDeadline)
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	setRequired(t)
	t.Setenv("BV_CORS_ALLOWED_ORIGINS", "https://app.test, https://staging.app.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.CORSAllowedOrigins)
	}
	if cfg.CORSAllowedOrigins[1] != "https://staging.app.test" {
		t.Errorf("origin not trimmed: %q", cfg.CORSAllowedOrigins[1])
	}
}
