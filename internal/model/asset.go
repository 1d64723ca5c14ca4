// internal/model/asset.go
// Package model defines the data structures used throughout the ingest service.
// These structures represent the core domain objects for QR payloads, resolution
// candidates, and persisted booth assets.
package model

import (
	"time"
)

// ResolvedAsset is the persisted result of a successful ingestion.
// One row exists per physical QR code; the payload fingerprint is the
// uniqueness key among live (non-deleted) rows. Rows are soft-deleted,
// never removed or re-resolved in place.
// This corresponds to the assets table in storage.
type ResolvedAsset struct {
	ID           string     `json:"id" db:"id"`                       // Unique asset identifier (ULID)
	OwnerID      string     `json:"ownerId" db:"owner_id"`            // Subject of the authenticated caller
	Fingerprint  string     `json:"-" db:"fingerprint"`               // SHA-256 digest of the raw QR payload
	ImageURL     string     `json:"imageUrl" db:"image_url"`          // Public URL of the stored image
	ThumbnailURL string     `json:"thumbnailUrl" db:"thumbnail_url"`  // Public URL of the thumbnail (same object as the image when none is generated)
	VideoURL     string     `json:"videoUrl,omitempty" db:"video_url"` // Public URL of the paired video, if any
	Brand        string     `json:"brand,omitempty" db:"brand"`       // Booth vendor brand, best-effort inference
	TakenAt      time.Time  `json:"takenAt" db:"taken_at"`            // When the photo was taken (or resolved, as a fallback)
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`        // When the asset row was created
	Deleted      bool       `json:"-" db:"deleted"`                   // Soft-delete flag
}

// AssetCandidate is the mutable working result of one resolution attempt.
// It is built incrementally while the resolver walks the vendor site and is
// discarded unless the traversal terminates successfully.
type AssetCandidate struct {
	ImageKey     string     // Storage key of the downloaded image, empty until found
	ThumbnailKey string     // Storage key of the thumbnail; defaults to ImageKey
	VideoKey     string     // Storage key of the paired video, empty unless found
	TakenAt      *time.Time // Capture time when the remote source declared one
}

// HasMedia reports whether the candidate carries at least one stored object.
func (c *AssetCandidate) HasMedia() bool {
	return c.ImageKey != "" || c.VideoKey != ""
}

// IngestRequest represents the ingest request body.
// The payload is the raw string scanned from the booth receipt. It is either
// URL-shaped (remote resolution) or opaque (valid only with a direct upload).
type IngestRequest struct {
	Payload string     `json:"payload"`           // Raw QR payload string
	Brand   string     `json:"brand,omitempty"`   // Optional caller-declared brand, overrides inference
	TakenAt *time.Time `json:"takenAt,omitempty"` // Optional capture time
}

// UploadedFile is a named byte buffer handed to the ingest service alongside
// an opaque payload. There is no file abstraction beyond this; the bytes go
// straight to the blob store.
type UploadedFile struct {
	Name string // Client-supplied filename, advisory only
	Data []byte // Raw file contents
}

// IngestResponse wraps the created asset in the standard data envelope.
type IngestResponse struct {
	Data ResolvedAsset `json:"data"`
}

// GetAssetResponse wraps a single asset in the standard data envelope.
type GetAssetResponse struct {
	Data ResolvedAsset `json:"data"`
}

// ListAssetsQuery represents the query parameters for listing assets.
type ListAssetsQuery struct {
	OwnerID string // Filter by owner (required; callers only see their own assets)
	Limit   int    // Maximum number of assets to return
	Cursor  string // Pagination cursor
}

// ListAssetsResult represents one page of a list query.
type ListAssetsResult struct {
	Assets     []ResolvedAsset `json:"assets"`
	NextCursor string          `json:"nextCursor,omitempty"` // Cursor for the next page, empty on the last page
}
