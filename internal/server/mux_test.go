// internal/server/mux_test.go
// Package server provides unit tests for the HTTP handlers and routing.
package server

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boothvault/boothvault-ingest-go/internal/event"
	"github.com/boothvault/boothvault-ingest-go/internal/ingest"
	"github.com/boothvault/boothvault-ingest-go/internal/jwks"
	"github.com/boothvault/boothvault-ingest-go/internal/media"
	"github.com/boothvault/boothvault-ingest-go/internal/metrics"
	"github.com/boothvault/boothvault-ingest-go/internal/model"
	"github.com/boothvault/boothvault-ingest-go/internal/storage"
	"github.com/golang-jwt/jwt/v5"
)

// Unsigned bearer tokens accepted by the test JWKS client. Claims carry
// iss=test-issuer, aud=test-audience and the named subject.
const (
	tokenOwner123 = "Bearer eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJvd25lci0xMjMiLCJhdWQiOiJ0ZXN0LWF1ZGllbmNlIiwiaXNzIjoidGVzdC1pc3N1ZXIifQ.X"
	tokenOwner456 = "Bearer eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJvd25lci00NTYiLCJhdWQiOiJ0ZXN0LWF1ZGllbmNlIiwiaXNzIjoidGVzdC1pc3N1ZXIifQ.X"
	tokenWrongAud = "Bearer eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiJvd25lci0xMjMiLCJhdWQiOiJ3cm9uZyIsImlzcyI6InRlc3QtaXNzdWVyIn0.X"
)

// stubResolver satisfies ingest.Resolver without touching the network.
type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, startURL string) (*model.AssetCandidate, error) {
	return &model.AssetCandidate{
		ImageKey:     "assets/2025/08/stub.jpg",
		ThumbnailKey: "assets/2025/08/stub.jpg",
	}, nil
}

func newTestMux(t *testing.T) (*http.ServeMux, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	blobs := media.NewMemoryStore()
	svc := ingest.NewService(store, blobs, stubResolver{}, event.NewNoop(), metrics.NewMetrics())

	mux, err := NewMux(Options{
		Store:       store,
		Ingester:    svc,
		Publisher:   event.NewNoop(),
		JWKSClient:  jwks.NewTestClient(),
		JWTIssuer:   "test-issuer",
		JWTAudience: "test-audience",
	})
	if err != nil {
		t.Fatalf("NewMux: %v", err)
	}
	return mux, store
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, path, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func ingestJSON(t *testing.T, mux *http.ServeMux, token, payload string) *httptest.ResponseRecorder {
	t.Helper()
	body := bytes.NewBufferString(`{"payload":"` + payload + `"}`)
	return doRequest(t, mux, "POST", "/v1/assets", token, body, "application/json")
}

// decodeData unwraps the {"data": ...} envelope.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rr.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rr.Body.String())
	}
	return envelope.Error.Code
}

func TestHealthzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	req, err := http.NewRequest("GET", "/healthz", nil)
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("handler returned unexpected body: got %v want ok", rr.Body.String())
	}
}

func TestReadyzEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)

	req, err := http.NewRequest("GET", "/readyz", nil)
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
}

func TestAuthRequired(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, "GET", "/v1/assets", "", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a token", rr.Code)
	}

	rr = doRequest(t, mux, "GET", "/v1/assets", tokenWrongAud, nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 with wrong audience", rr.Code)
	}
}

func TestIngestAndFetchAsset(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := ingestJSON(t, mux, tokenOwner123, "https://v.example/dl/abc")
	if rr.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d, want 201 (body %s)", rr.Code, rr.Body.String())
	}
	var asset model.ResolvedAsset
	decodeData(t, rr, &asset)
	if asset.ID == "" || asset.OwnerID != "owner-123" {
		t.Errorf("unexpected asset %+v", asset)
	}
	if asset.ImageURL == "" {
		t.Error("ImageURL not populated")
	}

	rr = doRequest(t, mux, "GET", "/v1/assets/"+asset.ID, tokenOwner123, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rr.Code)
	}

	// Another principal cannot see the asset.
	rr = doRequest(t, mux, "GET", "/v1/assets/"+asset.ID, tokenOwner456, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("cross-owner get status = %d, want 404", rr.Code)
	}
}

func TestIngestDuplicateConflict(t *testing.T) {
	mux, _ := newTestMux(t)

	if rr := ingestJSON(t, mux, tokenOwner123, "https://v.example/dl/dup"); rr.Code != http.StatusCreated {
		t.Fatalf("first ingest status = %d", rr.Code)
	}
	rr := ingestJSON(t, mux, tokenOwner123, "https://v.example/dl/dup")
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate ingest status = %d, want 409", rr.Code)
	}
	if code := errorCode(t, rr); code != "INGEST_DUPLICATE" {
		t.Errorf("error code = %s, want INGEST_DUPLICATE", code)
	}
}

func TestIngestValidation(t *testing.T) {
	mux, _ := newTestMux(t)

	// Missing payload fails schema validation.
	body := bytes.NewBufferString(`{"brand":"photoism"}`)
	rr := doRequest(t, mux, "POST", "/v1/assets", tokenOwner123, body, "application/json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing payload", rr.Code)
	}

	// Unknown fields are rejected outright.
	body = bytes.NewBufferString(`{"payload":"https://v.example/x","surprise":true}`)
	rr = doRequest(t, mux, "POST", "/v1/assets", tokenOwner123, body, "application/json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for unknown fields", rr.Code)
	}

	// Broken JSON.
	body = bytes.NewBufferString(`{"payload":`)
	rr = doRequest(t, mux, "POST", "/v1/assets", tokenOwner123, body, "application/json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for broken JSON", rr.Code)
	}
}

func TestListAssets(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, payload := range []string{"https://v.example/1", "https://v.example/2"} {
		if rr := ingestJSON(t, mux, tokenOwner123, payload); rr.Code != http.StatusCreated {
			t.Fatalf("ingest %s status = %d", payload, rr.Code)
		}
	}
	// Other owner's asset must not leak into the listing.
	if rr := ingestJSON(t, mux, tokenOwner456, "https://v.example/3"); rr.Code != http.StatusCreated {
		t.Fatal("ingest for second owner failed")
	}

	rr := doRequest(t, mux, "GET", "/v1/assets", tokenOwner123, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rr.Code)
	}
	var result model.ListAssetsResult
	decodeData(t, rr, &result)
	if len(result.Assets) != 2 {
		t.Errorf("listing has %d assets, want 2", len(result.Assets))
	}
	for _, a := range result.Assets {
		if a.OwnerID != "owner-123" {
			t.Errorf("foreign asset in listing: %+v", a)
		}
	}
}

func TestListAssetsBadLimit(t *testing.T) {
	mux, _ := newTestMux(t)

	for _, limit := range []string{"abc", "0", "-3", "101"} {
		rr := doRequest(t, mux, "GET", "/v1/assets?limit="+limit, tokenOwner123, nil, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", limit, rr.Code)
		}
	}
}

func TestListAssetsOversizedCursor(t *testing.T) {
	mux, _ := newTestMux(t)

	cursor := strings.Repeat("a", 600)
	rr := doRequest(t, mux, "GET", "/v1/assets?cursor="+cursor, tokenOwner123, nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an oversized cursor", rr.Code)
	}
}

// TestJWKSURLOverride stands up a key server at a path unrelated to the
// issuer and proves tokens verify against it end to end.
func TestJWKSURLOverride(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	keySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/custom/keys" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "OKP",
				"crv": "Ed25519",
				"alg": "EdDSA",
				"kid": "booth-key-1",
				"x":   base64.RawURLEncoding.EncodeToString(pub),
			}},
		})
	}))
	defer keySrv.Close()

	store := storage.NewMemory()
	blobs := media.NewMemoryStore()
	svc := ingest.NewService(store, blobs, stubResolver{}, event.NewNoop(), metrics.NewMetrics())
	mux, err := NewMux(Options{
		Store:       store,
		Ingester:    svc,
		Publisher:   event.NewNoop(),
		JWKSURL:     keySrv.URL + "/custom/keys",
		JWTIssuer:   "test-issuer",
		JWTAudience: "test-audience",
	})
	if err != nil {
		t.Fatalf("NewMux: %v", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "owner-123",
		"iss": "test-issuer",
		"aud": "test-audience",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token.Header["kid"] = "booth-key-1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	rr := doRequest(t, mux, "GET", "/v1/assets", "Bearer "+signed, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 against the configured key set (body %s)", rr.Code, rr.Body.String())
	}

	// A token signed by a different key is rejected.
	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	forged := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": "owner-123",
		"iss": "test-issuer",
		"aud": "test-audience",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	forged.Header["kid"] = "booth-key-1"
	forgedSigned, err := forged.SignedString(otherPriv)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	rr = doRequest(t, mux, "GET", "/v1/assets", "Bearer "+forgedSigned, nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("forged token status = %d, want 401", rr.Code)
	}
}

func TestDeleteAsset(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := ingestJSON(t, mux, tokenOwner123, "https://v.example/dl/del")
	if rr.Code != http.StatusCreated {
		t.Fatalf("ingest status = %d", rr.Code)
	}
	var asset model.ResolvedAsset
	decodeData(t, rr, &asset)

	// The wrong owner cannot delete it.
	rr = doRequest(t, mux, "DELETE", "/v1/assets/"+asset.ID, tokenOwner456, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("cross-owner delete status = %d, want 404", rr.Code)
	}

	rr = doRequest(t, mux, "DELETE", "/v1/assets/"+asset.ID, tokenOwner123, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rr.Code)
	}

	rr = doRequest(t, mux, "GET", "/v1/assets/"+asset.ID, tokenOwner123, nil, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rr.Code)
	}

	// The payload is free again after deletion.
	rr = ingestJSON(t, mux, tokenOwner123, "https://v.example/dl/del")
	if rr.Code != http.StatusCreated {
		t.Errorf("re-ingest after delete status = %d, want 201", rr.Code)
	}
}

func TestMultipartUpload(t *testing.T) {
	mux, _ := newTestMux(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("payload", "booth-ticket-999"); err != nil {
		t.Fatal(err)
	}
	part, err := writer.CreateFormFile("file", "booth.jpg")
	if err != nil {
		t.Fatal(err)
	}
	jpeg := make([]byte, 4096)
	copy(jpeg, []byte{0xFF, 0xD8, 0xFF, 0xE0})
	if _, err := part.Write(jpeg); err != nil {
		t.Fatal(err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	rr := doRequest(t, mux, "POST", "/v1/assets", tokenOwner123, &buf, writer.FormDataContentType())
	if rr.Code != http.StatusCreated {
		t.Fatalf("multipart ingest status = %d (body %s)", rr.Code, rr.Body.String())
	}
	var asset model.ResolvedAsset
	decodeData(t, rr, &asset)
	if asset.ImageURL == "" {
		t.Error("ImageURL not set for a direct upload")
	}
	if !strings.HasPrefix(asset.ImageURL, "https://media.test/") {
		t.Errorf("ImageURL = %q, want a blob-store URL", asset.ImageURL)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestMux(t)

	rr := doRequest(t, mux, "PUT", "/v1/assets", tokenOwner123, nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an unsupported method", rr.Code)
	}
}
