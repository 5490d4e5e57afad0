package admin

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/apierr"
	"github.com/yourusername/edge-proxy/internal/audit"
	"github.com/yourusername/edge-proxy/internal/keyregistry"
)

// validate is shared across every admin payload, the same way
// internal/config validates its bound struct.
var validate = validator.New()

// Surface implements the guarded admin HTTP endpoints for API-key lifecycle
// management and cache invalidation.
type Surface struct {
	keys        *keyregistry.Registry
	invalidator *Invalidator
	auditSink   *audit.Sink
	adminToken  string
	logger      *zap.Logger
}

func NewSurface(keys *keyregistry.Registry, invalidator *Invalidator, auditSink *audit.Sink, adminToken string, logger *zap.Logger) *Surface {
	return &Surface{keys: keys, invalidator: invalidator, auditSink: auditSink, adminToken: adminToken, logger: logger}
}

// RequireBearer is chi-mountable middleware enforcing the admin bearer
// token via constant-time comparison (crypto/subtle from the standard
// library).
func (s *Surface) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, apierr.Unauthorized("invalid admin token"))
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), identityKey, adminIdentity(token)))
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// adminIdentity fingerprints the token for audit logs; the raw token is
// never retained.
func adminIdentity(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "token:" + hex.EncodeToString(sum[:])[:32]
}

type contextKey string

const identityKey contextKey = "admin_identity"

func identityFrom(r *http.Request) string {
	if v, ok := r.Context().Value(identityKey).(string); ok {
		return v
	}
	return ""
}

type createKeyRequest struct {
	Owner     string `json:"owner" validate:"required"`
	Label     string `json:"label"`
	Contact   string `json:"contact"`
	ExpiresAt string `json:"expiresAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type keyResponse struct {
	KeyID     string  `json:"keyId"`
	APIKey    string  `json:"apiKey,omitempty"`
	Owner     string  `json:"owner"`
	Label     string  `json:"label,omitempty"`
	Contact   string  `json:"contact,omitempty"`
	CreatedAt string  `json:"createdAt"`
	CreatedBy string  `json:"createdBy,omitempty"`
	ExpiresAt *string `json:"expiresAt,omitempty"`
	Revoked   bool    `json:"revoked"`
}

// CreateAPIKey handles POST /internal/api-keys.
func (s *Surface) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.audit("admin.key.create", "error", r, nil)
		writeError(w, apierr.BadRequest("invalid request body"))
		return
	}
	if err := validate.Struct(req); err != nil {
		s.audit("admin.key.create", "error", r, nil)
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}

	var expiresAt *time.Time
	if strings.TrimSpace(req.ExpiresAt) != "" {
		parsed, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			s.audit("admin.key.create", "error", r, nil)
			writeError(w, apierr.BadRequest("expiresAt must be RFC3339"))
			return
		}
		expiresAt = &parsed
	}

	rawKey, record, err := s.keys.Create(r.Context(), keyregistry.CreateParams{
		Owner:     req.Owner,
		Label:     req.Label,
		Contact:   req.Contact,
		CreatedBy: identityFrom(r),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		s.audit("admin.key.create", "error", r, nil)
		writeError(w, apierr.Upstream("couldn't create api key", err))
		return
	}

	s.audit("admin.key.create", "ok", r, map[string]any{"keyId": record.KeyID, "owner": record.Owner})
	writeJSON(w, http.StatusCreated, toKeyResponse(record, rawKey))
}

// ListAPIKeys handles GET /internal/api-keys.
func (s *Surface) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	records, err := s.keys.List(r.Context())
	if err != nil {
		writeError(w, apierr.Upstream("couldn't list api keys", err))
		return
	}
	items := make([]keyResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toKeyResponse(rec, ""))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// RevokeAPIKey handles POST /internal/api-keys/{keyId}/revoke.
func (s *Surface) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyId")
	if err := s.keys.Revoke(r.Context(), keyID); err != nil {
		s.audit("admin.key.revoke", "error", r, map[string]any{"keyId": keyID})
		writeKeyError(w, err)
		return
	}
	s.audit("admin.key.revoke", "ok", r, map[string]any{"keyId": keyID})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ActivateAPIKey handles POST /internal/api-keys/{keyId}/activate.
func (s *Surface) ActivateAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyId")
	if err := s.keys.Activate(r.Context(), keyID); err != nil {
		s.audit("admin.key.activate", "error", r, map[string]any{"keyId": keyID})
		writeKeyError(w, err)
		return
	}
	s.audit("admin.key.activate", "ok", r, map[string]any{"keyId": keyID})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DeleteAPIKey handles DELETE /internal/api-keys/{keyId}.
func (s *Surface) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyId")
	if err := s.keys.Delete(r.Context(), keyID); err != nil {
		s.audit("admin.key.delete", "error", r, map[string]any{"keyId": keyID})
		writeKeyError(w, err)
		return
	}
	s.audit("admin.key.delete", "ok", r, map[string]any{"keyId": keyID})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeKeyError(w http.ResponseWriter, err error) {
	if err == keyregistry.ErrNotFound {
		writeError(w, apierr.BadRequestWithStatus(http.StatusNotFound, "key not found"))
		return
	}
	writeError(w, apierr.Upstream("key operation failed", err))
}

type invalidateRequestBody struct {
	Scope      string `json:"scope" validate:"required,oneof=all prefix exact"`
	Path       string `json:"path"`
	PathPrefix string `json:"pathPrefix"`
	Strict     bool   `json:"strict"`
	Headers    struct {
		Accept         string `json:"accept"`
		AcceptLanguage string `json:"acceptLanguage"`
		APIKey         string `json:"apiKey"`
	} `json:"headers"`
	DryRun bool `json:"dryRun"`
}

// InvalidateCache handles POST /internal/cache/invalidate.
func (s *Surface) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	var body invalidateRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.audit("admin.cache.invalidate", "error", r, nil)
		writeError(w, apierr.BadRequest("invalid request body"))
		return
	}
	if err := validate.Struct(body); err != nil {
		s.audit("admin.cache.invalidate", "error", r, nil)
		writeError(w, apierr.BadRequest(err.Error()))
		return
	}

	req := InvalidateRequest{
		Scope:      Scope(body.Scope),
		Path:       body.Path,
		PathPrefix: body.PathPrefix,
		Strict:     body.Strict,
		DryRun:     body.DryRun,
		Headers: HeaderComponents{
			Accept:         body.Headers.Accept,
			AcceptLanguage: body.Headers.AcceptLanguage,
			APIKey:         body.Headers.APIKey,
		},
	}

	result, err := s.invalidator.Invalidate(r.Context(), req)
	if err != nil {
		s.audit("admin.cache.invalidate", "error", r, map[string]any{"scope": body.Scope})
		writeError(w, err)
		return
	}

	s.audit("admin.cache.invalidate", "ok", r, map[string]any{
		"scope": result.Scope, "dryRun": result.DryRun, "matched": result.Matched, "deleted": result.Deleted,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true, "scope": result.Scope, "dryRun": result.DryRun, "matched": result.Matched, "deleted": result.Deleted,
	})
}

func (s *Surface) audit(action, result string, r *http.Request, detail map[string]any) {
	s.auditSink.Record(audit.Event{
		EventName:     "admin",
		Action:        action,
		Result:        result,
		AdminIdentity: identityFrom(r),
		IP:            r.RemoteAddr,
		RequestID:     r.Header.Get("X-Request-Id"),
		Detail:        detail,
	})
}

func toKeyResponse(record keyregistry.Record, rawKey string) keyResponse {
	var expires *string
	if record.ExpiresAt != nil {
		s := record.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
		expires = &s
	}
	return keyResponse{
		KeyID:     record.KeyID,
		APIKey:    rawKey,
		Owner:     record.Owner,
		Label:     record.Label,
		Contact:   record.Contact,
		CreatedAt: record.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		CreatedBy: record.CreatedBy,
		ExpiresAt: expires,
		Revoked:   record.Revoked,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Upstream("internal error", err)
	}
	writeJSON(w, apiErr.HTTPStatus(), map[string]string{"error": apiErr.Message})
}
