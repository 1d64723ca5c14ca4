// cmd/ingestd/main.go
// Package main implements the entry point for the ingest service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/config"
	"github.com/boothvault/boothvault-ingest-go/internal/event"
	"github.com/boothvault/boothvault-ingest-go/internal/fetch"
	"github.com/boothvault/boothvault-ingest-go/internal/ingest"
	"github.com/boothvault/boothvault-ingest-go/internal/media"
	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/resolve"
	"github.com/boothvault/boothvault-ingest-go/internal/server"
	"github.com/boothvault/boothvault-ingest-go/internal/storage"
	"github.com/boothvault/boothvault-ingest-go/internal/telemetry"
)

// main initializes all components, starts the HTTP server, and handles
// graceful shutdown.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	_, err = telemetry.InitTracer("boothvault-ingest", cfg.Env)
	if err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	// Initialize storage backend (PostgreSQL or in-memory)
	var store storage.Store
	if cfg.DatabaseDSN != "" {
		store, err = storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			logger.Error("failed to initialize postgres storage", "error", err)
			os.Exit(1)
		}
	} else {
		store = storage.NewMemory()
	}

	// Initialize blob storage (S3 or in-memory)
	var blobs media.BlobStore
	if cfg.S3Endpoint != "" && cfg.S3Bucket != "" {
		blobs, err = media.NewS3Store(cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket,
			cfg.S3AccessKey, cfg.S3SecretKey, cfg.PublicMediaBaseURL)
		if err != nil {
			logger.Error("failed to initialize S3 blob store", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no S3 configuration, using in-memory blob store")
		blobs = media.NewMemoryStore()
	}

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	m := metrics.NewMetrics()

	// Wire the resolution pipeline
	fetchClient := fetch.NewClient(cfg.MaxDownloadBytes)
	resolver := resolve.NewResolver(resolve.ClientSessions(fetchClient), blobs, m, resolve.Config{
		MaxRedirectHops:  cfg.MaxRedirectHops,
		MaxHTMLHops:      cfg.MaxHTMLHops,
		MinImageBytes:    cfg.MinImageBytes,
		TraversalTimeout: cfg.TraversalDeadline,
	})
	ingester := ingest.NewService(store, blobs, resolver, pub, m)

	mux, err := server.NewMux(server.Options{
		Store:              store,
		Ingester:           ingester,
		Publisher:          pub,
		JWKSURL:            cfg.JWKSURL,
		JWTIssuer:          cfg.JWTIssuer,
		JWTAudience:        cfg.JWTAudience,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})
	if err != nil {
		logger.Error("failed to initialize HTTP mux", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		// Remote traversals can take most of a minute; the write timeout
		// must outlast the traversal deadline.
		WriteTimeout: cfg.TraversalDeadline + 15*time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	if postgresStore, ok := store.(interface{ Close() }); ok {
		postgresStore.Close()
	}

	logger.Info("server exited")
}
