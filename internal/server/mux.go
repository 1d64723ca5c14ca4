// internal/server/mux.go
// Package server implements the HTTP handlers and routing for the ingest
// service. It provides RESTful endpoints for asset ingestion and retrieval
// with JWT authentication, request validation, and event publishing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	errordefs "github.com/boothvault/boothvault-ingest-go/internal/errors"
	"github.com/boothvault/boothvault-ingest-go/internal/event"
	"github.com/boothvault/boothvault-ingest-go/internal/ingest"
	"github.com/boothvault/boothvault-ingest-go/internal/jwks"
	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
	"github.com/boothvault/boothvault-ingest-go/internal/schema"
	"github.com/boothvault/boothvault-ingest-go/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeyOwnerID       ContextKey = "ownerId"       // Stores the subject from JWT
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	// DefaultListLimit is the page size when the caller does not pass one.
	// The upper bound on limit lives in the list query schema.
	DefaultListLimit = 25

	// maxUploadBytes bounds direct-upload request bodies.
	maxUploadBytes = 50 << 20
)

// Options carries the dependencies and settings for the HTTP surface.
type Options struct {
	Store       storage.Store
	Ingester    *ingest.Service
	Publisher   event.Publisher
	JWKSClient  *jwks.Client
	JWKSURL     string // Key set endpoint; empty derives it from JWTIssuer
	JWTIssuer   string
	JWTAudience string

	// CORS configuration (empty means deny all)
	CORSAllowedOrigins []string
}

// Mux handles HTTP requests for the ingest service.
type Mux struct {
	mux         *http.ServeMux
	s           storage.Store
	svc         *ingest.Service
	p           event.Publisher
	jwksClient  *jwks.Client
	jwtIssuer   string
	jwtAudience string
	validator   *schema.Validator
	metrics     *metrics.Metrics

	corsAllowedOrigins []string
}

// NewMux creates a new HTTP mux with all ingest endpoints.
func NewMux(opts Options) (*http.ServeMux, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize request validator: %w", err)
	}

	jwksClient := opts.JWKSClient
	if jwksClient == nil {
		jwksURL := opts.JWKSURL
		if jwksURL == "" {
			jwksURL = fmt.Sprintf("%s/.well-known/jwks.json", opts.JWTIssuer)
		}
		jwksClient = jwks.NewClient(jwksURL)
	}

	m := &Mux{
		mux:                http.NewServeMux(),
		s:                  opts.Store,
		svc:                opts.Ingester,
		p:                  opts.Publisher,
		jwksClient:         jwksClient,
		jwtIssuer:          opts.JWTIssuer,
		jwtAudience:        opts.JWTAudience,
		validator:          validator,
		metrics:            metrics.NewMetrics(),
		corsAllowedOrigins: opts.CORSAllowedOrigins,
	}

	// Health endpoints
	m.mux.HandleFunc("/healthz", m.handleHealthz)
	m.mux.HandleFunc("/readyz", m.handleReadyz)
	m.mux.Handle("/metrics", promhttp.Handler())

	// Asset endpoints
	m.mux.HandleFunc("/v1/assets", m.withMiddleware(m.handleAssets))
	m.mux.HandleFunc("/v1/assets/", m.withMiddleware(m.handleAssetByID))

	return m.mux, nil
}

// handleAssets dispatches the collection endpoint by method.
func (m *Mux) handleAssets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		m.handleIngest(w, r)
	case http.MethodGet:
		m.handleListAssets(w, r)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_BAD_REQUEST, "method not allowed", m.correlationID(r)))
	}
}

// handleAssetByID dispatches the item endpoint by method.
func (m *Mux) handleAssetByID(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		m.handleGetAsset(w, r)
	case http.MethodDelete:
		m.handleDeleteAsset(w, r)
	default:
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_BAD_REQUEST, "method not allowed", m.correlationID(r)))
	}
}

// statusRecorder captures the status code written by a handler so middleware
// can log and meter it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies CORS, correlation IDs, JWT authentication, request
// logging, and HTTP metrics to handlers. All /v1 endpoints require a valid
// bearer token; the token subject becomes the asset owner.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		m.applyCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID))
		w.Header().Set("X-Correlation-Id", correlationID)

		ownerID, err := m.validateJWT(r)
		if err != nil {
			var errorDef *errordefs.Error
			if e, ok := err.(*errordefs.Error); ok {
				errorDef = e
				errorDef.CorrelationID = correlationID
			} else {
				errorDef = errordefs.New(errordefs.INGEST_AUTHZ, err.Error(), correlationID)
			}
			m.writeErrorDef(w, errorDef)
			m.logRequest(r, errorDef.HTTPStatus, time.Since(start), correlationID, err)
			m.recordHTTPMetrics(r, errorDef.HTTPStatus, time.Since(start))
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), ContextKeyOwnerID, ownerID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)

		m.logRequest(r, rec.status, time.Since(start), correlationID, nil)
		m.recordHTTPMetrics(r, rec.status, time.Since(start))
	}
}

// applyCORS sets CORS response headers when the origin is allowed.
func (m *Mux) applyCORS(w http.ResponseWriter, r *http.Request) {
	if len(m.corsAllowedOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, allowedOrigin := range m.corsAllowedOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
		w.Header().Set("Access-Control-Max-Age", "86400")
	}
}

// recordHTTPMetrics meters one completed request. The path is normalized so
// per-asset URLs do not explode label cardinality.
func (m *Mux) recordHTTPMetrics(r *http.Request, status int, duration time.Duration) {
	path := r.URL.Path
	if strings.HasPrefix(path, "/v1/assets/") {
		path = "/v1/assets/{id}"
	}
	statusLabel := strconv.Itoa(status)
	m.metrics.HTTPRequestTotal.WithLabelValues(r.Method, path, statusLabel).Inc()
	m.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, statusLabel).Observe(duration.Seconds())
}

// validateJWT validates a bearer token and extracts the subject using JWKS.
func (m *Mux) validateJWT(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errordefs.New(errordefs.INGEST_AUTHN, "missing Authorization header", "")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", errordefs.New(errordefs.INGEST_AUTHN, "invalid Authorization header format", "")
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	claims, err := m.jwksClient.ValidateJWT(r.Context(), tokenString, m.jwtIssuer, m.jwtAudience)
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "expired"):
			return "", errordefs.New(errordefs.INGEST_JWT_EXPIRED, "JWT token expired", "")
		case strings.Contains(errStr, "invalid issuer"):
			return "", errordefs.New(errordefs.INGEST_JWT_INVALID, "invalid JWT issuer", "")
		case strings.Contains(errStr, "invalid audience"):
			return "", errordefs.New(errordefs.INGEST_JWT_INVALID, "invalid JWT audience", "")
		case strings.Contains(errStr, "kid"):
			return "", errordefs.New(errordefs.INGEST_JWT_MALFORMED, "missing or invalid kid in JWT header", "")
		case strings.Contains(errStr, "signature") || strings.Contains(errStr, "verify"):
			return "", errordefs.New(errordefs.INGEST_JWT_INVALID, "invalid JWT signature", "")
		default:
			return "", errordefs.New(errordefs.INGEST_JWT_INVALID, fmt.Sprintf("failed to validate JWT: %v", err), "")
		}
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errordefs.New(errordefs.INGEST_JWT_INVALID, "missing or invalid sub claim", "")
	}
	return sub, nil
}

// correlationID reads the correlation ID from the request context.
func (m *Mux) correlationID(r *http.Request) string {
	if id, ok := r.Context().Value(ContextKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

// ownerID reads the authenticated subject from the request context.
func (m *Mux) ownerID(r *http.Request) string {
	if id, ok := r.Context().Value(ContextKeyOwnerID).(string); ok {
		return id
	}
	return ""
}

// writeSuccess writes a successful response.
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"data": data,
	}
	_ = json.NewEncoder(w).Encode(response)
}

// writeErrorDef writes an error response following the ingest error taxonomy.
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	errBody := map[string]interface{}{
		"code":          string(err.Code),
		"message":       err.Message,
		"correlationId": err.CorrelationID,
	}
	if err.Details != nil {
		errBody["details"] = err.Details
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": errBody})
}

// logRequest logs request details.
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if ownerID := m.ownerID(r); ownerID != "" {
		attrs = append(attrs, slog.String("owner_id", ownerID))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleHealthz handles liveness health check requests.
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz handles readiness health check requests. A storage probe that
// fails with anything other than not-found means the backing store is down.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	_, err := m.s.GetAsset(ctx, "readiness-probe")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleIngest handles POST /v1/assets. The endpoint accepts either a JSON
// body carrying a QR payload to resolve remotely, or a multipart form with a
// "file" part for direct uploads alongside a "payload" field.
func (m *Mux) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ingest-service").Start(r.Context(), "handleIngest")
	defer span.End()
	defer r.Body.Close()

	correlationID := m.correlationID(r)
	ownerID := m.ownerID(r)

	var req model.IngestRequest
	var upload *model.UploadedFile

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			span.SetStatus(codes.Error, "invalid multipart form")
			m.writeErrorDef(w, errordefs.New(errordefs.INGEST_VALIDATION, "invalid multipart form", correlationID))
			return
		}
		req.Payload = r.FormValue("payload")
		req.Brand = r.FormValue("brand")
		if takenAtStr := r.FormValue("takenAt"); takenAtStr != "" {
			if t, err := time.Parse(time.RFC3339, takenAtStr); err == nil {
				req.TakenAt = &t
			}
		}

		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			data, readErr := io.ReadAll(file)
			if readErr != nil {
				m.writeErrorDef(w, errordefs.New(errordefs.INGEST_VALIDATION, "failed to read uploaded file", correlationID))
				return
			}
			upload = &model.UploadedFile{Name: header.Filename, Data: data}
		}
	} else {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.INGEST_VALIDATION, "failed to read request body", correlationID))
			return
		}
		if err := m.validator.ValidateIngestRequest(body); err != nil {
			span.SetStatus(codes.Error, "request validation failed")
			m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.INGEST_VALIDATION, "invalid ingest request", correlationID, err.Error()))
			return
		}
		if err := json.Unmarshal(body, &req); err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.INGEST_VALIDATION, "invalid JSON", correlationID))
			return
		}
	}

	span.SetAttributes(
		attribute.String("owner_id", ownerID),
		attribute.Bool("direct_upload", upload != nil),
	)

	asset, err := m.svc.Ingest(ctx, ownerID, req, upload)
	if err != nil {
		m.writePipelineError(w, err, correlationID)
		return
	}

	m.writeSuccess(w, http.StatusCreated, asset)
}

// writePipelineError maps an ingestion error to the HTTP response. Unknown
// errors collapse to a generic internal error so pipeline details never leak.
func (m *Mux) writePipelineError(w http.ResponseWriter, err error, correlationID string) {
	var errorDef *errordefs.Error
	if errors.As(err, &errorDef) {
		errorDef.CorrelationID = correlationID
		m.writeErrorDef(w, errorDef)
		return
	}
	m.writeErrorDef(w, errordefs.New(errordefs.INGEST_INTERNAL, "ingestion failed", correlationID))
}

// handleListAssets handles GET /v1/assets.
func (m *Mux) handleListAssets(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ingest-service").Start(r.Context(), "handleListAssets")
	defer span.End()

	correlationID := m.correlationID(r)
	ownerID := m.ownerID(r)
	span.SetAttributes(attribute.String("owner_id", ownerID))

	// Normalize the query string into a JSON document so the schema can
	// enforce the limit range and cursor shape in one place.
	limit := DefaultListLimit
	queryDoc := map[string]interface{}{}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			m.writeErrorDef(w, errordefs.New(errordefs.INGEST_VALIDATION, "limit must be an integer", correlationID))
			return
		}
		queryDoc["limit"] = v
	}
	if cursor := r.URL.Query().Get("cursor"); cursor != "" {
		queryDoc["cursor"] = cursor
	}
	queryJSON, _ := json.Marshal(queryDoc)
	if err := m.validator.ValidateListQuery(queryJSON); err != nil {
		span.SetStatus(codes.Error, "query validation failed")
		m.writeErrorDef(w, errordefs.NewWithDetails(errordefs.INGEST_VALIDATION, "invalid list query", correlationID, err.Error()))
		return
	}
	if v, ok := queryDoc["limit"].(int); ok {
		limit = v
	}

	query := model.ListAssetsQuery{
		OwnerID: ownerID,
		Limit:   limit,
		Cursor:  r.URL.Query().Get("cursor"),
	}

	result, err := m.s.ListAssets(ctx, query)
	if err != nil {
		span.SetStatus(codes.Error, "failed to list assets")
		if strings.Contains(err.Error(), "invalid cursor") {
			m.writeErrorDef(w, errordefs.New(errordefs.INGEST_CURSOR, err.Error(), correlationID))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_INTERNAL, "failed to list assets", correlationID))
		return
	}

	m.writeSuccess(w, http.StatusOK, result)
}

// assetIDFromPath extracts the asset ID from /v1/assets/{id}.
func assetIDFromPath(path string) string {
	id := strings.TrimPrefix(path, "/v1/assets/")
	return strings.Trim(id, "/")
}

// handleGetAsset handles GET /v1/assets/{id}. Assets belonging to other
// owners read as not found.
func (m *Mux) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ingest-service").Start(r.Context(), "handleGetAsset")
	defer span.End()

	correlationID := m.correlationID(r)
	assetID := assetIDFromPath(r.URL.Path)
	if assetID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_VALIDATION, "asset id is required", correlationID))
		return
	}
	span.SetAttributes(attribute.String("asset_id", assetID))

	asset, err := m.s.GetAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.INGEST_NOT_FOUND, "asset not found", correlationID))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_INTERNAL, "failed to get asset", correlationID))
		return
	}
	if asset.Deleted || asset.OwnerID != m.ownerID(r) {
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_NOT_FOUND, "asset not found", correlationID))
		return
	}

	m.writeSuccess(w, http.StatusOK, asset)
}

// handleDeleteAsset handles DELETE /v1/assets/{id}. Deletion is soft; the
// fingerprint becomes re-ingestable afterwards.
func (m *Mux) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ingest-service").Start(r.Context(), "handleDeleteAsset")
	defer span.End()

	correlationID := m.correlationID(r)
	ownerID := m.ownerID(r)
	assetID := assetIDFromPath(r.URL.Path)
	if assetID == "" {
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_VALIDATION, "asset id is required", correlationID))
		return
	}
	span.SetAttributes(attribute.String("asset_id", assetID))

	if err := m.s.SoftDeleteAsset(ctx, assetID, ownerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.writeErrorDef(w, errordefs.New(errordefs.INGEST_NOT_FOUND, "asset not found", correlationID))
			return
		}
		m.writeErrorDef(w, errordefs.New(errordefs.INGEST_INTERNAL, "failed to delete asset", correlationID))
		return
	}

	if err := m.p.PublishAssetDeleted(ctx, assetID, ownerID); err != nil {
		slog.Warn("failed to publish asset deleted event", "asset_id", assetID, "error", err)
	}

	m.writeSuccess(w, http.StatusOK, map[string]interface{}{"id": assetID, "deleted": true})
}
