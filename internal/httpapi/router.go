// Package httpapi assembles the chi router: health checks, metrics,
// the proxied /api/v1 surface, and the bearer-guarded /internal admin
// surface.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/admin"
	"github.com/yourusername/edge-proxy/internal/metrics"
	"github.com/yourusername/edge-proxy/internal/proxy"
	"github.com/yourusername/edge-proxy/internal/statestore"
)

// Dependencies bundles everything the router needs to mount its routes.
type Dependencies struct {
	Pipeline     *proxy.Pipeline
	AdminSurface *admin.Surface
	Store        statestore.StateStore
	Metrics      *metrics.Metrics
	BodyLimit    int64
	Logger       *zap.Logger
}

// New builds the full router.
func New(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/health/cache", cacheHealthHandler(deps.Store))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(bodyLimitMiddleware(deps.BodyLimit))
		r.HandleFunc("/*", proxyHandler(deps))
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(deps.AdminSurface.RequireBearer)
		r.Post("/api-keys", deps.AdminSurface.CreateAPIKey)
		r.Get("/api-keys", deps.AdminSurface.ListAPIKeys)
		r.Post("/api-keys/{keyId}/revoke", deps.AdminSurface.RevokeAPIKey)
		r.Post("/api-keys/{keyId}/activate", deps.AdminSurface.ActivateAPIKey)
		r.Delete("/api-keys/{keyId}", deps.AdminSurface.DeleteAPIKey)
		r.Post("/cache/invalidate", deps.AdminSurface.InvalidateCache)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func cacheHealthHandler(store statestore.StateStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil || store.Fallback() {
			msg := "cache backend unreachable"
			if err != nil {
				msg = err.Error()
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "degraded", "message": msg})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// proxyHandler adapts *http.Request/ResponseWriter to proxy.Pipeline's
// transport-agnostic Request/Response.
func proxyHandler(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}

		req := &proxy.Request{
			Method:    r.Method,
			Path:      r.URL.Path,
			RawQuery:  r.URL.RawQuery,
			Headers:   map[string][]string(r.Header),
			Body:      body,
			RemoteIP:  r.RemoteAddr,
			RequestID: chimiddleware.GetReqID(r.Context()),
		}

		resp := deps.Pipeline.Handle(r.Context(), req)

		for name, value := range resp.Headers {
			w.Header().Set(name, value)
		}
		if resp.ContentType != "" {
			w.Header().Set("Content-Type", resp.ContentType)
		}
		w.WriteHeader(resp.Status)
		if len(resp.Body) > 0 {
			w.Write(resp.Body)
		}

		if deps.Metrics != nil {
			deps.Metrics.ObserveRequest("proxy", resp.Status, time.Since(start).Seconds())
			if cacheStatus := resp.Headers["x-cache"]; cacheStatus != "" {
				deps.Metrics.ObserveCacheResult(cacheStatus)
			}
			if resp.Status == http.StatusTooManyRequests {
				deps.Metrics.ObserveRateLimitRejection("key")
			}
		}
	}
}

// bodyLimitMiddleware enforces PROXY_BODY_LIMIT via http.MaxBytesReader;
// proxyHandler answers 413 when reading the body overruns the limit, before
// the proxy pipeline runs.
func bodyLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
