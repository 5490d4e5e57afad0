package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/audit"
	"github.com/yourusername/edge-proxy/internal/keyregistry"
	"github.com/yourusername/edge-proxy/internal/statestore"
)

func newTestSurface(t *testing.T) (*Surface, *statestore.MemoryStore) {
	t.Helper()
	store := statestore.NewMemoryStore(false)
	keys := keyregistry.New(store, "apikeys", zap.NewNop())
	invalidator := NewInvalidator(store)
	sink := audit.New(zap.NewNop(), nil)
	return NewSurface(keys, invalidator, sink, "admin-secret", zap.NewNop()), store
}

func router(s *Surface) http.Handler {
	r := chi.NewRouter()
	r.Route("/internal", func(r chi.Router) {
		r.Use(s.RequireBearer)
		r.Post("/api-keys", s.CreateAPIKey)
		r.Get("/api-keys", s.ListAPIKeys)
		r.Post("/api-keys/{keyId}/revoke", s.RevokeAPIKey)
		r.Post("/api-keys/{keyId}/activate", s.ActivateAPIKey)
		r.Delete("/api-keys/{keyId}", s.DeleteAPIKey)
		r.Post("/cache/invalidate", s.InvalidateCache)
	})
	return r
}

func TestRequireBearerRejectsMissingOrWrongToken(t *testing.T) {
	s, _ := newTestSurface(t)
	r := router(s)

	req := httptest.NewRequest(http.MethodGet, "/internal/api-keys", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/internal/api-keys", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
}

func TestCreateListRevokeActivateDeleteLifecycle(t *testing.T) {
	s, _ := newTestSurface(t)
	r := router(s)
	auth := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer admin-secret")
		return req
	}

	createBody, _ := json.Marshal(map[string]string{"owner": "mobile-team"})
	req := auth(httptest.NewRequest(http.MethodPost, "/internal/api-keys", bytes.NewReader(createBody)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	json.Unmarshal(rec.Body.Bytes(), &created)
	keyID, _ := created["keyId"].(string)
	if keyID == "" || created["apiKey"] == "" {
		t.Fatalf("expected keyId and apiKey in create response, got %+v", created)
	}

	req = auth(httptest.NewRequest(http.MethodGet, "/internal/api-keys", nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var list map[string]any
	json.Unmarshal(rec.Body.Bytes(), &list)
	items, _ := list["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %+v", list)
	}
	first, _ := items[0].(map[string]any)
	if _, present := first["apiKey"]; present {
		t.Fatal("list response must never include the raw api key")
	}

	req = auth(httptest.NewRequest(http.MethodPost, "/internal/api-keys/"+keyID+"/revoke", nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke failed: %d %s", rec.Code, rec.Body.String())
	}

	req = auth(httptest.NewRequest(http.MethodPost, "/internal/api-keys/"+keyID+"/activate", nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate failed: %d %s", rec.Code, rec.Body.String())
	}

	req = auth(httptest.NewRequest(http.MethodDelete, "/internal/api-keys/"+keyID, nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", rec.Code, rec.Body.String())
	}

	req = auth(httptest.NewRequest(http.MethodDelete, "/internal/api-keys/"+keyID, nil))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting an already-deleted key, got %d", rec.Code)
	}
}

func TestCreateAPIKeyHonorsExpiresAt(t *testing.T) {
	s, _ := newTestSurface(t)
	r := router(s)
	auth := func(req *http.Request) *http.Request {
		req.Header.Set("Authorization", "Bearer admin-secret")
		return req
	}

	createBody, _ := json.Marshal(map[string]string{"owner": "mobile-team", "expiresAt": "2030-01-01T00:00:00Z"})
	req := auth(httptest.NewRequest(http.MethodPost, "/internal/api-keys", bytes.NewReader(createBody)))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]any
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created["expiresAt"] != "2030-01-01T00:00:00Z" {
		t.Fatalf("expected expiresAt to round-trip, got %+v", created)
	}

	badBody, _ := json.Marshal(map[string]string{"owner": "mobile-team", "expiresAt": "not-a-date"})
	req = auth(httptest.NewRequest(http.MethodPost, "/internal/api-keys", bytes.NewReader(badBody)))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed expiresAt, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateAPIKeyRejectsMissingOwner(t *testing.T) {
	s, _ := newTestSurface(t)
	r := router(s)

	createBody, _ := json.Marshal(map[string]string{"owner": ""})
	req := httptest.NewRequest(http.MethodPost, "/internal/api-keys", bytes.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing owner, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInvalidateCacheRejectsUnknownScope(t *testing.T) {
	s, _ := newTestSurface(t)
	r := router(s)

	body, _ := json.Marshal(map[string]any{"scope": "everything"})
	req := httptest.NewRequest(http.MethodPost, "/internal/cache/invalidate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown scope, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInvalidateCacheEndpoint(t *testing.T) {
	s, store := newTestSurface(t)
	r := router(s)

	if err := store.Set(context.Background(), "proxy:GET:/pst/find:x", `{"value":{}}`, 0); err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{"scope": "all"})
	req := httptest.NewRequest(http.MethodPost, "/internal/cache/invalidate", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer admin-secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["matched"].(float64) != 1 || resp["deleted"].(float64) != 1 {
		t.Fatalf("expected matched=1 deleted=1, got %+v", resp)
	}
}
