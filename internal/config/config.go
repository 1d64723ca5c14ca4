// internal/config/config.go
// Package config provides configuration loading and management for the ingest
// service. It handles environment variable parsing and provides default
// values for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// init loads environment variables from .env files during package
// initialization. godotenv.Load() does not override already-set environment
// variables, preserving OS env > .env precedence.
func init() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
		}
	}

	// .env.local holds local overrides, gitignored
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Load(".env.local"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to load .env.local file: %v\n", err)
		}
	}
}

// Config captures environment-driven settings for the ingest service.
type Config struct {
	Env         string // Deployment environment (dev, staging, prod)
	Port        string // HTTP server port
	DatabaseDSN string // Database connection string (PostgreSQL)
	NATSURL     string // NATS server URL
	S3Endpoint  string // S3-compatible storage endpoint
	S3Region    string // S3 region
	S3Bucket    string // S3 bucket name
	S3AccessKey string // S3 access key
	S3SecretKey string // S3 secret key
	JWTIssuer   string // Expected issuer for JWT validation
	JWTAudience string // Expected audience for JWT validation
	JWKSURL     string // Key set endpoint of the account service

	// Public base URL under which stored media is served
	PublicMediaBaseURL string

	// Traversal limits
	MaxDownloadBytes  int64         // Per-response download ceiling
	MinImageBytes     int           // Smallest plausible booth photo
	MaxRedirectHops   int           // HTTP redirects tolerated per traversal
	MaxHTMLHops       int           // HTML documents tolerated per traversal
	TraversalDeadline time.Duration // Wall-clock budget per traversal

	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Default configuration values used when environment variables are not set
const (
	defaultPort     = "8080"
	defaultS3Region = "us-east-1"
	defaultEnv      = "dev"

	defaultMaxDownloadBytes  = 50 * 1024 * 1024
	defaultMinImageBytes     = 4 * 1024
	defaultMaxRedirectHops   = 5
	defaultMaxHTMLHops       = 2
	defaultTraversalDeadline = 45 * time.Second
)

// Load reads environment variables and produces a Config suitable for wiring
// the service. Returns an error if required parameters are missing.
func Load() (Config, error) {
	cfg := Config{
		Env:                getEnv("BV_ENV", defaultEnv),
		Port:               getEnv("BV_PORT", defaultPort),
		DatabaseDSN:        os.Getenv("BV_DB_DSN"),
		NATSURL:            os.Getenv("BV_NATS_URL"),
		S3Endpoint:         os.Getenv("BV_S3_ENDPOINT"),
		S3Region:           getEnv("BV_S3_REGION", defaultS3Region),
		S3Bucket:           os.Getenv("BV_S3_BUCKET"),
		S3AccessKey:        os.Getenv("BV_S3_ACCESS_KEY"),
		S3SecretKey:        os.Getenv("BV_S3_SECRET_KEY"),
		JWTIssuer:          os.Getenv("BV_JWT_ISSUER"),
		JWTAudience:        os.Getenv("BV_JWT_AUDIENCE"),
		JWKSURL:            os.Getenv("BV_JWKS_URL"),
		PublicMediaBaseURL: os.Getenv("BV_PUBLIC_MEDIA_BASE_URL"),
	}

	cfg.MaxDownloadBytes = getEnvInt64("BV_MAX_DOWNLOAD_BYTES", defaultMaxDownloadBytes)
	cfg.MinImageBytes = int(getEnvInt64("BV_MIN_IMAGE_BYTES", defaultMinImageBytes))
	cfg.MaxRedirectHops = int(getEnvInt64("BV_MAX_REDIRECT_HOPS", defaultMaxRedirectHops))
	cfg.MaxHTMLHops = int(getEnvInt64("BV_MAX_HTML_HOPS", defaultMaxHTMLHops))
	cfg.TraversalDeadline = getEnvDuration("BV_TRAVERSAL_DEADLINE", defaultTraversalDeadline)

	if corsOrigins, exists := os.LookupEnv("BV_CORS_ALLOWED_ORIGINS"); exists {
		cfg.CORSAllowedOrigins = strings.Split(corsOrigins, ",")
		for i, origin := range cfg.CORSAllowedOrigins {
			cfg.CORSAllowedOrigins[i] = strings.TrimSpace(origin)
		}
	}

	if cfg.JWTIssuer == "" {
		return cfg, fmt.Errorf("BV_JWT_ISSUER is required")
	}
	if cfg.JWTAudience == "" {
		return cfg, fmt.Errorf("BV_JWT_AUDIENCE is required")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable value, returning a fallback if not
// set or empty.
func getEnv(key, fallback string) string {
	if v, exists := os.LookupEnv(key); exists && v != "" {
		return v
	}
	return fallback
}

// getEnvInt64 parses an integer environment variable, returning the fallback
// on absence or parse failure.
func getEnvInt64(key string, fallback int64) int64 {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using default\n", key, v)
		return fallback
	}
	return n
}

// getEnvDuration parses a duration environment variable ("45s", "2m"),
// returning the fallback on absence or parse failure.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using default\n", key, v)
		return fallback
	}
	return d
}
