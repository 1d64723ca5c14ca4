// internal/media/media.go
// Package media provides the blob store the ingest pipeline writes resolved
// bytes to. Keys returned by Put are opaque to callers; the pipeline only
// hands them back to PublicURL when assembling asset records.
package media

import (
	"context"
	"errors"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
)

// ErrNotFound is returned when a blob does not exist.
var ErrNotFound = errors.New("blob not found")

// observeOp records one blob operation in the shared metrics, alongside the
// repository operations under the same collector.
func observeOp(m *metrics.Metrics, op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	m.StorageOperationTotal.WithLabelValues(op, status).Inc()
	m.StorageOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// BlobStore is the storage sink consumed by the ingest pipeline.
type BlobStore interface {
	// Put stores data under a new opaque key. A failed write is fatal to the
	// ingestion attempt; implementations must never silently drop bytes.
	Put(ctx context.Context, data []byte, contentType, filename string) (string, error)

	// Get returns the blob bytes and stored content type for a key.
	Get(ctx context.Context, key string) ([]byte, string, error)

	// PublicURL converts a storage key into the URL served to clients.
	// Pure and deterministic.
	PublicURL(key string) string
}
