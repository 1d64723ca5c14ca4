// internal/storage/memory_test.go
// Package storage provides unit tests for the in-memory asset repository.
package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testAsset(id, ownerID, fingerprint string, createdAt time.Time) model.ResolvedAsset {
	return model.ResolvedAsset{
		ID:           id,
		OwnerID:      ownerID,
		Fingerprint:  fingerprint,
		ImageURL:     "https://media.test/assets/" + id + ".jpg",
		ThumbnailURL: "https://media.test/assets/" + id + ".jpg",
		TakenAt:      createdAt,
		CreatedAt:    createdAt,
	}
}

func TestCreateAndGetAsset(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	asset := testAsset("asset-1", "owner-1", "fp-1", time.Now().UTC())
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	got, err := store.GetAsset(ctx, "asset-1")
	if err != nil {
		t.Fatalf("GetAsset: %v", err)
	}
	if got.OwnerID != "owner-1" || got.Fingerprint != "fp-1" {
		t.Errorf("got asset %+v, want the stored one", got)
	}

	if _, err := store.GetAsset(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAsset(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFingerprintUniqueness(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateAsset(ctx, testAsset("a1", "owner-1", "fp-dup", now)); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	// Same fingerprint, different ID and even different owner: conflict.
	err := store.CreateAsset(ctx, testAsset("a2", "owner-2", "fp-dup", now))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("CreateAsset with duplicate fingerprint error = %v, want ErrConflict", err)
	}
}

func TestGetAssetByFingerprintLiveOnly(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	asset := testAsset("a1", "owner-1", "fp-1", time.Now().UTC())
	if err := store.CreateAsset(ctx, asset); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	got, err := store.GetAssetByFingerprint(ctx, "fp-1")
	if err != nil || got.ID != "a1" {
		t.Fatalf("GetAssetByFingerprint = %v, %v; want the live asset", got, err)
	}

	if err := store.SoftDeleteAsset(ctx, "a1", "owner-1"); err != nil {
		t.Fatalf("SoftDeleteAsset: %v", err)
	}

	// Deleted assets no longer occupy their fingerprint.
	if _, err := store.GetAssetByFingerprint(ctx, "fp-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAssetByFingerprint after delete error = %v, want ErrNotFound", err)
	}

	// And the fingerprint is free for a new live asset.
	if err := store.CreateAsset(ctx, testAsset("a2", "owner-1", "fp-1", time.Now().UTC())); err != nil {
		t.Errorf("CreateAsset after delete: %v", err)
	}
}

func TestSoftDeleteScoping(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	if err := store.CreateAsset(ctx, testAsset("a1", "owner-1", "fp-1", time.Now().UTC())); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}

	// The wrong owner cannot delete the asset.
	if err := store.SoftDeleteAsset(ctx, "a1", "owner-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SoftDeleteAsset by wrong owner error = %v, want ErrNotFound", err)
	}

	if err := store.SoftDeleteAsset(ctx, "a1", "owner-1"); err != nil {
		t.Fatalf("SoftDeleteAsset: %v", err)
	}

	// Double deletion reads as not found.
	if err := store.SoftDeleteAsset(ctx, "a1", "owner-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second SoftDeleteAsset error = %v, want ErrNotFound", err)
	}

	// The row still exists, flagged deleted.
	got, err := store.GetAsset(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAsset after delete: %v", err)
	}
	if !got.Deleted {
		t.Error("asset not flagged deleted")
	}
}

func TestListAssetsOrderingAndPagination(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		asset := testAsset(fmt.Sprintf("a%d", i), "owner-1", fmt.Sprintf("fp-%d", i), base.Add(time.Duration(i)*time.Hour))
		if err := store.CreateAsset(ctx, asset); err != nil {
			t.Fatalf("CreateAsset %d: %v", i, err)
		}
	}
	// Another owner's asset never appears in the listing.
	if err := store.CreateAsset(ctx, testAsset("other", "owner-2", "fp-other", base)); err != nil {
		t.Fatalf("CreateAsset other: %v", err)
	}

	first, err := store.ListAssets(ctx, model.ListAssetsQuery{OwnerID: "owner-1", Limit: 3})
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(first.Assets) != 3 {
		t.Fatalf("first page has %d assets, want 3", len(first.Assets))
	}
	// Newest first.
	if first.Assets[0].ID != "a6" || first.Assets[2].ID != "a4" {
		t.Errorf("first page order = %s..%s, want a6..a4", first.Assets[0].ID, first.Assets[2].ID)
	}
	if first.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	second, err := store.ListAssets(ctx, model.ListAssetsQuery{OwnerID: "owner-1", Limit: 3, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("ListAssets page 2: %v", err)
	}
	if len(second.Assets) != 3 || second.Assets[0].ID != "a3" {
		t.Errorf("second page starts at %s with %d assets, want a3 with 3", second.Assets[0].ID, len(second.Assets))
	}

	third, err := store.ListAssets(ctx, model.ListAssetsQuery{OwnerID: "owner-1", Limit: 3, Cursor: second.NextCursor})
	if err != nil {
		t.Fatalf("ListAssets page 3: %v", err)
	}
	if len(third.Assets) != 1 || third.Assets[0].ID != "a0" {
		t.Errorf("third page = %+v, want just a0", third.Assets)
	}
	if third.NextCursor != "" {
		t.Error("last page must not carry a cursor")
	}
}

func TestListAssetsExcludesDeleted(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateAsset(ctx, testAsset("keep", "owner-1", "fp-keep", now)); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateAsset(ctx, testAsset("drop", "owner-1", "fp-drop", now.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	if err := store.SoftDeleteAsset(ctx, "drop", "owner-1"); err != nil {
		t.Fatal(err)
	}

	result, err := store.ListAssets(ctx, model.ListAssetsQuery{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if len(result.Assets) != 1 || result.Assets[0].ID != "keep" {
		t.Errorf("listing = %+v, want only the live asset", result.Assets)
	}
}

func TestListAssetsLimitClamping(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	result, err := store.ListAssets(ctx, model.ListAssetsQuery{OwnerID: "owner-1", Limit: 0})
	if err != nil {
		t.Fatalf("ListAssets: %v", err)
	}
	if result.Assets == nil {
		t.Error("empty listing must still return a slice")
	}
}

func TestRepositoryOperationsAreMetered(t *testing.T) {
	m := metrics.NewMetrics()
	created := m.StorageOperationTotal.WithLabelValues("create_asset", "ok")
	missed := m.StorageOperationTotal.WithLabelValues("get_asset", "not_found")
	conflicted := m.StorageOperationTotal.WithLabelValues("create_asset", "conflict")

	createdBefore := testutil.ToFloat64(created)
	missedBefore := testutil.ToFloat64(missed)
	conflictedBefore := testutil.ToFloat64(conflicted)

	store := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.CreateAsset(ctx, testAsset("m1", "owner-1", "fp-m1", now)); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	if _, err := store.GetAsset(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAsset(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.CreateAsset(ctx, testAsset("m2", "owner-1", "fp-m1", now)); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate CreateAsset error = %v, want ErrConflict", err)
	}

	if got := testutil.ToFloat64(created); got != createdBefore+1 {
		t.Errorf("create_asset ok count = %v, want %v", got, createdBefore+1)
	}
	if got := testutil.ToFloat64(missed); got != missedBefore+1 {
		t.Errorf("get_asset not_found count = %v, want %v", got, missedBefore+1)
	}
	if got := testutil.ToFloat64(conflicted); got != conflictedBefore+1 {
		t.Errorf("create_asset conflict count = %v, want %v", got, conflictedBefore+1)
	}
}
