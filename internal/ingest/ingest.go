// internal/ingest/ingest.go
// Package ingest is the entry point of the pipeline. It turns a scanned QR
// payload (or a direct upload) into a persisted asset, enforcing the
// one-asset-per-physical-QR guarantee via the payload fingerprint before any
// network or storage work happens.
package ingest

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	errordefs "github.com/boothvault/boothvault-ingest-go/internal/errors"
	"github.com/boothvault/boothvault-ingest-go/internal/event"
	"github.com/boothvault/boothvault-ingest-go/internal/media"
	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
	"github.com/boothvault/boothvault-ingest-go/internal/sniff"
	"github.com/boothvault/boothvault-ingest-go/internal/storage"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
)

// Resolver resolves a URL-shaped payload into stored media. Implemented by
// *resolve.Resolver; tests substitute fakes.
type Resolver interface {
	Resolve(ctx context.Context, startURL string) (*model.AssetCandidate, error)
}

// minUploadBytes rejects obviously-truncated direct uploads the same way the
// resolver rejects placeholder images.
const minUploadBytes = 1024

// knownBrands maps payload substrings to booth vendor brands. Best-effort
// only; inference never fails an ingestion.
var knownBrands = map[string]string{
	"life4cut":       "life4cut",
	"lifefourcut":    "life4cut",
	"photoism":       "photoism",
	"seobuk":         "photoism",
	"harufilm":       "harufilm",
	"haru2":          "harufilm",
	"photogray":      "photogray",
	"pgshort":        "photogray",
	"monomansion":    "monomansion",
	"photosignature": "photosignature",
	"selpix":         "selpix",
}

// Service orchestrates one ingestion per call.
type Service struct {
	store    storage.Store
	blobs    media.BlobStore
	resolver Resolver
	pub      event.Publisher
	m        *metrics.Metrics
}

// NewService wires the ingestion service.
func NewService(store storage.Store, blobs media.BlobStore, resolver Resolver, pub event.Publisher, m *metrics.Metrics) *Service {
	return &Service{
		store:    store,
		blobs:    blobs,
		resolver: resolver,
		pub:      pub,
		m:        m,
	}
}

// Fingerprint computes the payload identity: a SHA-256 digest of the raw
// payload string. It identifies the physical QR code, not the image content;
// the same picture behind two different QR strings is two assets.
func Fingerprint(payload string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(payload)))
}

// Ingest resolves one QR payload into a persisted asset.
//
// Order matters: the duplicate check runs before any network or storage
// work. A direct upload skips remote resolution entirely; otherwise the
// payload must be URL-shaped and goes through the resolver. A uniqueness
// conflict reported by the store at save time (a race against the pre-check)
// surfaces as the same duplicate error.
func (s *Service) Ingest(ctx context.Context, ownerID string, req model.IngestRequest, upload *model.UploadedFile) (*model.ResolvedAsset, error) {
	ctx, span := otel.Tracer("ingest-service").Start(ctx, "ingest")
	defer span.End()

	asset, err := s.ingest(ctx, ownerID, req, upload)
	if err != nil {
		s.m.IngestTotal.WithLabelValues(outcomeLabel(err)).Inc()
		return nil, err
	}
	s.m.IngestTotal.WithLabelValues("success").Inc()
	return asset, nil
}

func (s *Service) ingest(ctx context.Context, ownerID string, req model.IngestRequest, upload *model.UploadedFile) (*model.ResolvedAsset, error) {
	payload := strings.TrimSpace(req.Payload)
	if payload == "" {
		return nil, errordefs.New(errordefs.INGEST_INVALID_PAYLOAD, "payload is required", "")
	}

	fingerprint := Fingerprint(payload)
	if existing, err := s.store.GetAssetByFingerprint(ctx, fingerprint); err == nil && existing != nil {
		return nil, errordefs.New(errordefs.INGEST_DUPLICATE, "payload already ingested", "")
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, errordefs.New(errordefs.INGEST_INTERNAL, fmt.Sprintf("fingerprint lookup failed: %v", err), "")
	}

	var candidate *model.AssetCandidate
	var err error
	if upload != nil && len(upload.Data) > 0 {
		candidate, err = s.storeUpload(ctx, upload)
	} else {
		if !isURLShaped(payload) {
			return nil, errordefs.New(errordefs.INGEST_INVALID_PAYLOAD,
				"payload must be an http(s) URL when no file is uploaded", "")
		}
		candidate, err = s.resolver.Resolve(ctx, payload)
	}
	if err != nil {
		return nil, err
	}
	if !candidate.HasMedia() {
		return nil, errordefs.New(errordefs.INGEST_UNRECOGNIZED_CONTENT, "resolution produced no media", "")
	}

	asset := s.assembleAsset(ownerID, payload, fingerprint, req, candidate)

	if err := s.store.CreateAsset(ctx, *asset); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the race against a concurrent ingestion of the same QR
			// code; the pre-check above is only the fast path.
			return nil, errordefs.New(errordefs.INGEST_DUPLICATE, "payload already ingested", "")
		}
		return nil, errordefs.New(errordefs.INGEST_INTERNAL, fmt.Sprintf("failed to persist asset: %v", err), "")
	}

	if err := s.pub.PublishAssetResolved(ctx, *asset); err != nil {
		slog.Warn("failed to publish asset resolved event", "asset_id", asset.ID, "error", err)
	}

	slog.Info("asset ingested",
		"asset_id", asset.ID,
		"owner_id", ownerID,
		"brand", asset.Brand,
		"has_video", asset.VideoURL != "",
		"direct_upload", upload != nil && len(upload.Data) > 0,
	)
	return asset, nil
}

// storeUpload validates and stores a directly-uploaded file. The same magic
// byte rules apply as for remote media; the declared filename is advisory.
func (s *Service) storeUpload(ctx context.Context, upload *model.UploadedFile) (*model.AssetCandidate, error) {
	kind := sniff.Sniff(upload.Data)
	if !kind.IsImage() && !kind.IsVideo() {
		return nil, errordefs.New(errordefs.INGEST_CONTENT_INVALID,
			"uploaded file matches no known media signature", "")
	}
	if kind.IsImage() && len(upload.Data) < minUploadBytes {
		return nil, errordefs.New(errordefs.INGEST_CONTENT_INVALID,
			fmt.Sprintf("uploaded image of %d bytes below plausible minimum", len(upload.Data)), "")
	}

	name := upload.Name
	if name == "" {
		name = "upload" + sniff.ExtensionFor(kind)
	}
	key, err := s.blobs.Put(ctx, upload.Data, sniff.ContentTypeFor(kind), name)
	if err != nil {
		return nil, errordefs.New(errordefs.INGEST_STORAGE, err.Error(), "")
	}

	candidate := &model.AssetCandidate{}
	if kind.IsVideo() {
		candidate.VideoKey = key
	} else {
		candidate.ImageKey = key
		candidate.ThumbnailKey = key
	}
	return candidate, nil
}

// assembleAsset builds the persisted record from a finished candidate.
func (s *Service) assembleAsset(ownerID, payload, fingerprint string, req model.IngestRequest, candidate *model.AssetCandidate) *model.ResolvedAsset {
	now := time.Now().UTC()

	takenAt := now
	if req.TakenAt != nil {
		takenAt = req.TakenAt.UTC()
	} else if candidate.TakenAt != nil {
		takenAt = candidate.TakenAt.UTC()
	}

	brand := req.Brand
	if brand == "" {
		brand = inferBrand(payload)
	}

	asset := &model.ResolvedAsset{
		ID:          ulid.Make().String(),
		OwnerID:     ownerID,
		Fingerprint: fingerprint,
		Brand:       brand,
		TakenAt:     takenAt,
		CreatedAt:   now,
	}
	if candidate.ImageKey != "" {
		asset.ImageURL = s.blobs.PublicURL(candidate.ImageKey)
		asset.ThumbnailURL = s.blobs.PublicURL(candidate.ThumbnailKey)
	}
	if candidate.VideoKey != "" {
		asset.VideoURL = s.blobs.PublicURL(candidate.VideoKey)
	}
	return asset
}

// isURLShaped reports whether the payload parses as an absolute http(s) URL.
func isURLShaped(payload string) bool {
	u, err := url.Parse(payload)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// inferBrand matches the payload against known vendor substrings.
func inferBrand(payload string) string {
	lower := strings.ToLower(payload)
	for substring, brand := range knownBrands {
		if strings.Contains(lower, substring) {
			return brand
		}
	}
	return ""
}

// outcomeLabel maps a classified error to its metric label.
func outcomeLabel(err error) string {
	var e *errordefs.Error
	if !errors.As(err, &e) {
		return "internal"
	}
	switch e.Code {
	case errordefs.INGEST_INVALID_PAYLOAD:
		return "invalid_payload"
	case errordefs.INGEST_DUPLICATE:
		return "duplicate"
	case errordefs.INGEST_REDIRECT_LOOP:
		return "redirect_loop"
	case errordefs.INGEST_BUDGET_EXCEEDED:
		return "budget_exceeded"
	case errordefs.INGEST_UNRECOGNIZED_CONTENT:
		return "unrecognized_content"
	case errordefs.INGEST_CONTENT_INVALID:
		return "content_invalid"
	case errordefs.INGEST_UPSTREAM:
		return "upstream"
	case errordefs.INGEST_STORAGE:
		return "storage"
	default:
		return "internal"
	}
}
