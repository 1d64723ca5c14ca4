// internal/event/nats.go
// Package event provides NATS JetStream implementation for event publishing.
// It streams asset lifecycle events so downstream consumers (galleries, sync
// clients) can react to ingestions and deletions without polling.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Publisher interface defines the event publishing operations required by the
// ingest service.
type Publisher interface {
	// Asset lifecycle events
	PublishAssetResolved(ctx context.Context, asset model.ResolvedAsset) error
	PublishAssetDeleted(ctx context.Context, assetID, ownerID string) error

	// Close closes the publisher connection
	Close() error
}

// noop is a no-op implementation of Publisher for when NATS is not configured.
// It allows the service to function without event streaming.
type noop struct{}

// Close implements Publisher.
func (n *noop) Close() error { return nil }

// PublishAssetResolved implements Publisher.
func (n *noop) PublishAssetResolved(ctx context.Context, asset model.ResolvedAsset) error {
	return nil
}

// PublishAssetDeleted implements Publisher.
func (n *noop) PublishAssetDeleted(ctx context.Context, assetID, ownerID string) error {
	return nil
}

// NewNoop returns a publisher that discards all events.
func NewNoop() Publisher { return &noop{} }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn            // NATS connection
	js nats.JetStreamContext // JetStream context for stream operations
	m  *metrics.Metrics

	// Deduplication: asset ID -> last publish time. Retry storms during
	// flaky vendor outages should not flood consumers with repeats.
	dedup map[string]time.Time
	mutex sync.RWMutex
}

// dedupWindow suppresses repeat events for the same asset within this span.
const dedupWindow = 2 * time.Minute

// NewPublisher creates a publisher for the given NATS URL. An empty URL or a
// failed connection yields a no-op publisher; event streaming is optional.
func NewPublisher(url string) Publisher {
	if url == "" {
		return &noop{}
	}

	nc, err := nats.Connect(url)
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return &noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return &noop{}
	}

	return &natsPub{
		nc:    nc,
		js:    js,
		m:     metrics.NewMetrics(),
		dedup: make(map[string]time.Time),
	}
}

// initStreams creates the BV_ASSETS stream carrying all asset lifecycle
// events under booth.assets.*.
func initStreams(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      "BV_ASSETS",
		Subjects:  []string{"booth.assets.*"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create BV_ASSETS stream: %w", err)
	}
	return nil
}

// EventEnvelope represents the standard event envelope structure.
// All events published to NATS are wrapped in this envelope for consistency.
type EventEnvelope struct {
	Type          string      `json:"type"`          // Event type identifier
	Version       string      `json:"version"`       // Event schema version
	OccurredAt    time.Time   `json:"occurredAt"`    // When the event occurred
	CorrelationID string      `json:"correlationId"` // Correlation ID for tracing
	Payload       interface{} `json:"payload"`       // Event-specific data
}

// Close closes the NATS connection.
func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

// shouldDedup reports whether an event for key was published within the
// dedup window.
func (p *natsPub) shouldDedup(key string) bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if lastTime, exists := p.dedup[key]; exists {
		return time.Since(lastTime) < dedupWindow
	}
	return false
}

// updateDedup records a successful publish and expires stale entries.
func (p *natsPub) updateDedup(key string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	cutoff := time.Now().Add(-5 * time.Minute)
	for k, t := range p.dedup {
		if t.Before(cutoff) {
			delete(p.dedup, k)
		}
	}
	p.dedup[key] = time.Now()
}

// observePublish records one publish attempt in the shared metrics.
func observePublish(m *metrics.Metrics, eventType string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EventPublishTotal.WithLabelValues(eventType, status).Inc()
	m.EventPublishDuration.WithLabelValues(eventType, status).Observe(time.Since(start).Seconds())
}

// publish wraps payload in an envelope and sends it to the stream.
func (p *natsPub) publish(subject, eventType string, payload interface{}) (err error) {
	start := time.Now()
	defer func() { observePublish(p.m, eventType, start, err) }()

	envelope := EventEnvelope{
		Type:          eventType,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	}

	b, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(subject, b)
	return err
}

// PublishAssetResolved publishes an event for a freshly ingested asset.
func (p *natsPub) PublishAssetResolved(ctx context.Context, asset model.ResolvedAsset) error {
	if p.shouldDedup(asset.ID) {
		return nil
	}
	if err := p.publish("booth.assets.resolved", "booth.assets.resolved", asset); err != nil {
		return err
	}
	p.updateDedup(asset.ID)
	return nil
}

// assetDeletedPayload is the payload for deletion events. The media URLs are
// intentionally omitted; consumers only need the identity.
type assetDeletedPayload struct {
	AssetID string `json:"assetId"`
	OwnerID string `json:"ownerId"`
}

// PublishAssetDeleted publishes an event for a soft-deleted asset.
func (p *natsPub) PublishAssetDeleted(ctx context.Context, assetID, ownerID string) error {
	if p.shouldDedup("del:" + assetID) {
		return nil
	}
	payload := assetDeletedPayload{AssetID: assetID, OwnerID: ownerID}
	if err := p.publish("booth.assets.deleted", "booth.assets.deleted", payload); err != nil {
		return err
	}
	p.updateDedup("del:" + assetID)
	return nil
}
