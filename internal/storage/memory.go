// internal/storage/memory.go
// Package storage provides implementations of the Store interface
// for both in-memory and PostgreSQL asset repositories.
package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
)

// Standard errors returned by the storage layer
var (
	ErrNotFound = errors.New("not found") // Returned when an asset is not found
	ErrConflict = errors.New("conflict")  // Returned when a fingerprint already has a live asset
)

// Store is the asset repository consumed by the ingest service. The
// fingerprint uniqueness guarantee lives here: CreateAsset must reject a
// second live asset with the same fingerprint at the storage layer, not
// merely in application logic.
type Store interface {
	CreateAsset(ctx context.Context, asset model.ResolvedAsset) error
	GetAsset(ctx context.Context, id string) (*model.ResolvedAsset, error)
	// GetAssetByFingerprint only considers live (non-deleted) assets.
	GetAssetByFingerprint(ctx context.Context, fingerprint string) (*model.ResolvedAsset, error)
	ListAssets(ctx context.Context, query model.ListAssetsQuery) (*model.ListAssetsResult, error)
	// SoftDeleteAsset marks the asset deleted; rows are never removed.
	SoftDeleteAsset(ctx context.Context, id, ownerID string) error
}

// observeOp records one repository operation in the shared metrics. Every
// Store implementation routes its results through here so the operation and
// status labels stay consistent across backends.
func observeOp(m *metrics.Metrics, op string, start time.Time, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case errors.Is(err, ErrConflict):
		status = "conflict"
	case err != nil:
		status = "error"
	}
	m.StorageOperationTotal.WithLabelValues(op, status).Inc()
	m.StorageOperationDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// memory implements the Store interface using in-memory maps.
// It's intended for development and testing purposes.
type memory struct {
	mu            sync.RWMutex
	assets        map[string]*model.ResolvedAsset // By asset ID
	byFingerprint map[string]string               // Live fingerprint -> asset ID
	metrics       *metrics.Metrics
}

// NewMemory creates a new in-memory asset repository.
func NewMemory() Store {
	return &memory{
		assets:        make(map[string]*model.ResolvedAsset),
		byFingerprint: make(map[string]string),
		metrics:       metrics.NewMetrics(),
	}
}

func (m *memory) CreateAsset(ctx context.Context, asset model.ResolvedAsset) (err error) {
	start := time.Now()
	defer func() { observeOp(m.metrics, "create_asset", start, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.assets[asset.ID]; exists {
		return ErrConflict
	}
	if _, exists := m.byFingerprint[asset.Fingerprint]; exists {
		return ErrConflict
	}

	assetCopy := asset
	m.assets[asset.ID] = &assetCopy
	m.byFingerprint[asset.Fingerprint] = asset.ID
	return nil
}

func (m *memory) GetAsset(ctx context.Context, id string) (asset *model.ResolvedAsset, err error) {
	start := time.Now()
	defer func() { observeOp(m.metrics, "get_asset", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, exists := m.assets[id]
	if !exists {
		return nil, ErrNotFound
	}
	assetCopy := *stored
	return &assetCopy, nil
}

func (m *memory) GetAssetByFingerprint(ctx context.Context, fingerprint string) (asset *model.ResolvedAsset, err error) {
	start := time.Now()
	defer func() { observeOp(m.metrics, "get_asset_by_fingerprint", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, exists := m.byFingerprint[fingerprint]
	if !exists {
		return nil, ErrNotFound
	}
	assetCopy := *m.assets[id]
	return &assetCopy, nil
}

// memoryCursor is the cursor payload for in-memory pagination.
type memoryCursor struct {
	LastCreatedAt int64  `json:"lastCreatedAt"`
	LastID        string `json:"lastId"`
}

func encodeMemoryCursor(lastCreatedAt time.Time, lastID string) string {
	jsonBytes, _ := json.Marshal(memoryCursor{
		LastCreatedAt: lastCreatedAt.UnixNano(),
		LastID:        lastID,
	})
	return base64.URLEncoding.EncodeToString(jsonBytes)
}

func decodeMemoryCursor(cursor string) (time.Time, string, error) {
	dataBytes, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	var data memoryCursor
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, data.LastCreatedAt), data.LastID, nil
}

func (m *memory) ListAssets(ctx context.Context, query model.ListAssetsQuery) (result *model.ListAssetsResult, err error) {
	start := time.Now()
	defer func() { observeOp(m.metrics, "list_assets", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	filtered := make([]*model.ResolvedAsset, 0)
	for _, asset := range m.assets {
		if asset.OwnerID == query.OwnerID && !asset.Deleted {
			filtered = append(filtered, asset)
		}
	}

	// Sort by createdAt descending, then by ID ascending for stable ordering
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	startIndex := 0
	if query.Cursor != "" {
		lastCreatedAt, lastID, err := decodeMemoryCursor(query.Cursor)
		if err == nil {
			startIndex = len(filtered)
			for i, asset := range filtered {
				if asset.CreatedAt.Before(lastCreatedAt) ||
					(asset.CreatedAt.Equal(lastCreatedAt) && asset.ID > lastID) {
					startIndex = i
					break
				}
			}
		}
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 25
	} else if limit > 100 {
		limit = 100
	}

	endIndex := startIndex + limit
	if endIndex > len(filtered) {
		endIndex = len(filtered)
	}

	page := filtered[startIndex:endIndex]
	resultAssets := make([]model.ResolvedAsset, len(page))
	for i, asset := range page {
		resultAssets[i] = *asset
	}

	result = &model.ListAssetsResult{Assets: resultAssets}
	if endIndex < len(filtered) && len(resultAssets) > 0 {
		last := resultAssets[len(resultAssets)-1]
		result.NextCursor = encodeMemoryCursor(last.CreatedAt, last.ID)
	}

	return result, nil
}

func (m *memory) SoftDeleteAsset(ctx context.Context, id, ownerID string) (err error) {
	start := time.Now()
	defer func() { observeOp(m.metrics, "soft_delete_asset", start, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	asset, exists := m.assets[id]
	if !exists || asset.OwnerID != ownerID || asset.Deleted {
		return ErrNotFound
	}

	asset.Deleted = true
	delete(m.byFingerprint, asset.Fingerprint)
	return nil
}
