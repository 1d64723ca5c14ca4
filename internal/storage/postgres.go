// internal/storage/postgres.go
// PostgreSQL implementation of the Store interface. This implementation is
// intended for production use; the fingerprint uniqueness guarantee is a
// partial unique index over live rows, so the application-level duplicate
// pre-check is an optimization, never the enforcement point.
package storage

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgres struct {
	db      *pgxpool.Pool // Connection pool to PostgreSQL database
	metrics *metrics.Metrics
}

// NewPostgres creates a new PostgreSQL asset repository. It establishes a
// connection pool and initializes the schema.
func NewPostgres(dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid database DSN: %w", err)
	}

	// Connection pool settings
	config.MaxConns = 20
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = time.Minute * 30
	config.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &postgres{db: pool, metrics: metrics.NewMetrics()}, nil
}

// initSchema creates the assets table and indexes if they don't exist.
func initSchema(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
		CREATE TABLE IF NOT EXISTS assets (
		    id TEXT PRIMARY KEY,                     -- ULID asset identifier
		    owner_id TEXT NOT NULL,                  -- Authenticated owner
		    fingerprint TEXT NOT NULL,               -- SHA-256 of the raw QR payload
		    image_url TEXT,                          -- Public URL of the stored image, nullable for video-only assets
		    thumbnail_url TEXT,                      -- Public URL of the thumbnail
		    video_url TEXT,                          -- Public URL of the paired video, nullable
		    brand TEXT,                              -- Booth vendor brand, nullable
		    taken_at TIMESTAMP WITH TIME ZONE NOT NULL,  -- Capture (or resolution) time
		    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		    deleted BOOLEAN NOT NULL DEFAULT FALSE   -- Soft-delete flag
		);

		-- One live asset per physical QR code. Partial so a soft-deleted
		-- asset frees the fingerprint for re-ingestion.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_assets_fingerprint_live
		    ON assets(fingerprint) WHERE NOT deleted;

		CREATE INDEX IF NOT EXISTS idx_assets_owner_created_at
		    ON assets(owner_id, created_at DESC);
	`

	_, err := db.Exec(ctx, schema)
	return err
}

// Close closes the database connection pool
func (p *postgres) Close() {
	p.db.Close()
}

func (p *postgres) CreateAsset(ctx context.Context, asset model.ResolvedAsset) (err error) {
	start := time.Now()
	defer func() { observeOp(p.metrics, "create_asset", start, err) }()

	query := `INSERT INTO assets (id, owner_id, fingerprint, image_url, thumbnail_url, video_url, brand, taken_at, created_at, deleted)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = p.db.Exec(ctx, query,
		asset.ID,
		asset.OwnerID,
		asset.Fingerprint,
		nullable(asset.ImageURL),
		nullable(asset.ThumbnailURL),
		nullable(asset.VideoURL),
		nullable(asset.Brand),
		asset.TakenAt,
		asset.CreatedAt,
		asset.Deleted)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}
	return nil
}

const assetColumns = `id, owner_id, fingerprint, image_url, thumbnail_url, video_url, brand, taken_at, created_at, deleted`

func (p *postgres) GetAsset(ctx context.Context, id string) (asset *model.ResolvedAsset, err error) {
	start := time.Now()
	defer func() { observeOp(p.metrics, "get_asset", start, err) }()

	query := `SELECT ` + assetColumns + ` FROM assets WHERE id = $1`
	return p.scanAsset(p.db.QueryRow(ctx, query, id))
}

func (p *postgres) GetAssetByFingerprint(ctx context.Context, fingerprint string) (asset *model.ResolvedAsset, err error) {
	start := time.Now()
	defer func() { observeOp(p.metrics, "get_asset_by_fingerprint", start, err) }()

	query := `SELECT ` + assetColumns + ` FROM assets WHERE fingerprint = $1 AND NOT deleted`
	return p.scanAsset(p.db.QueryRow(ctx, query, fingerprint))
}

func (p *postgres) scanAsset(row pgx.Row) (*model.ResolvedAsset, error) {
	var asset model.ResolvedAsset
	var imageURL, thumbnailURL, videoURL, brand sql.NullString

	err := row.Scan(
		&asset.ID,
		&asset.OwnerID,
		&asset.Fingerprint,
		&imageURL,
		&thumbnailURL,
		&videoURL,
		&brand,
		&asset.TakenAt,
		&asset.CreatedAt,
		&asset.Deleted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	asset.ImageURL = imageURL.String
	asset.ThumbnailURL = thumbnailURL.String
	asset.VideoURL = videoURL.String
	asset.Brand = brand.String
	return &asset, nil
}

// cursorData represents the data encoded in a pagination cursor
type cursorData struct {
	LastCreatedAt time.Time // Timestamp of the last asset
	LastID        string    // ID of the last asset
}

func encodeCursor(lastCreatedAt time.Time, lastID string) string {
	jsonBytes, _ := json.Marshal(cursorData{LastCreatedAt: lastCreatedAt, LastID: lastID})
	return base64.URLEncoding.EncodeToString(jsonBytes)
}

func decodeCursor(cursor string) (*cursorData, error) {
	dataBytes, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor format: %w", err)
	}
	var data cursorData
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return nil, fmt.Errorf("invalid cursor data: %w", err)
	}
	return &data, nil
}

func (p *postgres) ListAssets(ctx context.Context, query model.ListAssetsQuery) (result *model.ListAssetsResult, err error) {
	start := time.Now()
	defer func() { observeOp(p.metrics, "list_assets", start, err) }()

	baseQuery := `SELECT ` + assetColumns + ` FROM assets WHERE owner_id = $1 AND NOT deleted`
	args := []interface{}{query.OwnerID}
	argIndex := 2

	if query.Cursor != "" {
		cursorData, err := decodeCursor(query.Cursor)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor: %w", err)
		}
		baseQuery += fmt.Sprintf(" AND (created_at < $%d OR (created_at = $%d AND id > $%d))", argIndex, argIndex, argIndex+1)
		args = append(args, cursorData.LastCreatedAt, cursorData.LastID)
		argIndex += 2
	}

	baseQuery += " ORDER BY created_at DESC, id ASC"

	limit := query.Limit
	if limit <= 0 {
		limit = 25
	} else if limit > 100 {
		limit = 100
	}
	baseQuery += fmt.Sprintf(" LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra row to detect a next page

	rows, err := p.db.Query(ctx, baseQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []model.ResolvedAsset
	rowCount := 0

	for rows.Next() {
		var asset model.ResolvedAsset
		var imageURL, thumbnailURL, videoURL, brand sql.NullString

		err := rows.Scan(
			&asset.ID,
			&asset.OwnerID,
			&asset.Fingerprint,
			&imageURL,
			&thumbnailURL,
			&videoURL,
			&brand,
			&asset.TakenAt,
			&asset.CreatedAt,
			&asset.Deleted,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}

		asset.ImageURL = imageURL.String
		asset.ThumbnailURL = thumbnailURL.String
		asset.VideoURL = videoURL.String
		asset.Brand = brand.String

		rowCount++
		if rowCount <= limit {
			assets = append(assets, asset)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	result = &model.ListAssetsResult{Assets: assets}
	if rowCount > limit && len(assets) > 0 {
		last := assets[len(assets)-1]
		result.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}

	return result, nil
}

func (p *postgres) SoftDeleteAsset(ctx context.Context, id, ownerID string) (err error) {
	start := time.Now()
	defer func() { observeOp(p.metrics, "soft_delete_asset", start, err) }()

	query := `UPDATE assets SET deleted = TRUE WHERE id = $1 AND owner_id = $2 AND NOT deleted`

	result, err := p.db.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// nullable maps empty strings to NULL columns.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
