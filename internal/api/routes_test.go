package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/ap-reconcile-engine/internal/exceptions"
	"github.com/rawblock/ap-reconcile-engine/internal/idempotency"
	"github.com/rawblock/ap-reconcile-engine/internal/ingest"
	"github.com/rawblock/ap-reconcile-engine/internal/matching"
	"github.com/rawblock/ap-reconcile-engine/internal/rules"
	"github.com/rawblock/ap-reconcile-engine/internal/store"
)

const testAuthToken = "test-token"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStore()
	resolver := rules.New(st, time.Minute)
	hub := NewHub()

	return SetupRouter(RouterConfig{
		Store:        st,
		Matcher:      matching.New(st, resolver),
		Exceptions:   exceptions.New(st),
		Idempotency:  idempotency.New(24 * time.Hour),
		Ingest:       ingest.New(st, 500, 0.10, "US"),
		Resolver:     resolver,
		Hub:          hub,
		APIAuthToken: testAuthToken,
	})
}

func authedRequest(method, path string, body any) *http.Request {
	var r *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("Authorization", "Bearer "+testAuthToken)
	r.Header.Set("X-Tenant-ID", "tenant-a")
	r.Header.Set("X-User-ID", "reviewer-1")
	return r
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestProtectedRouteRejectsMissingBearerToken(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing Authorization header, got %d", w.Code)
	}
	var pd problemDetails
	if err := json.Unmarshal(w.Body.Bytes(), &pd); err != nil {
		t.Fatalf("response was not valid Problem Details JSON: %v", err)
	}
	if pd.Status != http.StatusBadRequest {
		t.Errorf("problem details status = %d, want %d", pd.Status, http.StatusBadRequest)
	}
}

func TestVendorCreateThenListRoundTrips(t *testing.T) {
	router := newTestRouter(t)

	createReq := authedRequest(http.MethodPost, "/api/v1/vendors", createVendorRequest{
		LegalName: "acme  supply co",
	})
	createReq.Header.Set("Idempotency-Key", "vendor-create-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, createReq)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created vendor: %v", err)
	}
	if created["normalized_name"] != "ACME SUPPLY CO" {
		t.Errorf("normalized_name = %v, want ACME SUPPLY CO", created["normalized_name"])
	}

	listReq := authedRequest(http.MethodGet, "/api/v1/vendors", nil)
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, listReq)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 listing vendors, got %d", w2.Code)
	}
	var listed map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode vendor list: %v", err)
	}
	if listed["total"].(float64) != 1 {
		t.Fatalf("expected 1 vendor, got %v", listed["total"])
	}
}

func TestIdempotentCreateReplaysStoredResponse(t *testing.T) {
	router := newTestRouter(t)
	body := createVendorRequest{LegalName: "Replay Vendor"}

	req1 := authedRequest(http.MethodPost, "/api/v1/vendors", body)
	req1.Header.Set("Idempotency-Key", "same-key")
	w1 := httptest.NewRecorder()
	router.ServeHTTP(w1, req1)
	if w1.Code != http.StatusCreated {
		t.Fatalf("first request: expected 201, got %d: %s", w1.Code, w1.Body.String())
	}

	req2 := authedRequest(http.MethodPost, "/api/v1/vendors", body)
	req2.Header.Set("Idempotency-Key", "same-key")
	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, req2)
	if w2.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d: %s", w2.Code, w2.Body.String())
	}
	if w1.Body.String() != w2.Body.String() {
		t.Fatalf("replayed response body differs from original:\n%s\nvs\n%s", w1.Body.String(), w2.Body.String())
	}

	conflictReq := authedRequest(http.MethodPost, "/api/v1/vendors", createVendorRequest{LegalName: "Different Vendor"})
	conflictReq.Header.Set("Idempotency-Key", "same-key")
	w3 := httptest.NewRecorder()
	router.ServeHTTP(w3, conflictReq)
	if w3.Code != http.StatusConflict {
		t.Fatalf("conflicting fingerprint on same key: expected 409, got %d: %s", w3.Code, w3.Body.String())
	}
}

func TestGetUnknownInvoiceReturnsProblemDetailsNotFound(t *testing.T) {
	router := newTestRouter(t)
	req := authedRequest(http.MethodGet, "/api/v1/invoices/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	var pd problemDetails
	if err := json.Unmarshal(w.Body.Bytes(), &pd); err != nil {
		t.Fatalf("decode problem details: %v", err)
	}
	if pd.Title != "not_found" {
		t.Errorf("title = %q, want not_found", pd.Title)
	}
}

func TestUnknownRouteRendersProblemDetails404(t *testing.T) {
	router := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
}
