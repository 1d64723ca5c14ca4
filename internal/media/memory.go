// internal/media/memory.go
// In-memory BlobStore for development and tests.
package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
)

type blob struct {
	data        []byte
	contentType string
}

// MemoryStore keeps blobs in a map. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string]blob
	next    int
	metrics *metrics.Metrics
}

// NewMemoryStore creates an empty in-memory blob store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]blob), metrics: metrics.NewMetrics()}
}

func (m *MemoryStore) Put(ctx context.Context, data []byte, contentType, filename string) (key string, err error) {
	start := time.Now()
	defer func() { observeOp(m.metrics, "blob_put", start, err) }()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	key = fmt.Sprintf("mem/%06d-%s", m.next, filename)

	stored := make([]byte, len(data))
	copy(stored, data)
	m.blobs[key] = blob{data: stored, contentType: contentType}
	return key, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (data []byte, contentType string, err error) {
	start := time.Now()
	defer func() { observeOp(m.metrics, "blob_get", start, err) }()

	m.mu.RLock()
	defer m.mu.RUnlock()

	b, exists := m.blobs[key]
	if !exists {
		return nil, "", ErrNotFound
	}
	data = make([]byte, len(b.data))
	copy(data, b.data)
	return data, b.contentType, nil
}

func (m *MemoryStore) PublicURL(key string) string {
	return "https://media.test/" + key
}

// Len reports the number of stored blobs. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
