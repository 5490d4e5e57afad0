package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/admin"
	"github.com/yourusername/edge-proxy/internal/audit"
	"github.com/yourusername/edge-proxy/internal/auditstore"
	"github.com/yourusername/edge-proxy/internal/cachestore"
	"github.com/yourusername/edge-proxy/internal/config"
	"github.com/yourusername/edge-proxy/internal/httpapi"
	"github.com/yourusername/edge-proxy/internal/keyregistry"
	"github.com/yourusername/edge-proxy/internal/logging"
	"github.com/yourusername/edge-proxy/internal/metrics"
	"github.com/yourusername/edge-proxy/internal/proxy"
	"github.com/yourusername/edge-proxy/internal/ratelimit"
	"github.com/yourusername/edge-proxy/internal/statestore"
	"github.com/yourusername/edge-proxy/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging isn't wired up yet, and a bad config must refuse to
		// start rather than run degraded — a plain stderr line and a
		// non-zero exit is the correct failure mode here.
		os.Stderr.WriteString("couldn't load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		os.Stderr.WriteString("couldn't build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting", zap.String("port", cfg.Port), zap.String("upstream", cfg.HTTPClientBaseURL))

	ctx := context.Background()
	store, err := statestore.NewRedisStore(ctx, cfg.CacheRedisURL)
	if err != nil {
		logger.Warn("state store unreachable at startup, starting in fallback mode", zap.Error(err))
	}
	defer store.Close()

	keys := keyregistry.New(store, cfg.APIKeysRedisPrefix, logger)
	limiter := ratelimit.New(store, cfg.APIKeysRedisPrefix)
	cache := cachestore.New(store, logger)

	upstreamClient, err := upstream.New(cfg.HTTPClientBaseURL, cfg.HTTPClientTimeout, cfg.HTTPClientRetries, logger)
	if err != nil {
		logger.Error("invalid upstream configuration", zap.Error(err))
		os.Exit(1)
	}

	pipeline := proxy.New(keys, limiter, cache, upstreamClient, logger, proxy.Config{
		ServerAPIKey:               cfg.HTTPClientAPIKey,
		CacheTTLDefault:            cfg.CacheTTLDefault,
		CacheStaleTTL:              cfg.CacheStaleTTL,
		CacheIgnoreUpstreamControl: cfg.CacheIgnoreUpstreamControl,
		CacheBypassPaths:           cfg.CacheBypassPaths(),
		CacheDebug:                 cfg.CacheDebug,
		RateLimitWindowSeconds:     cfg.APIKeysRateLimitWindowSeconds,
		RateLimitMaxRequests:       cfg.APIKeysRateLimitMaxRequests,
	})

	var mirror audit.Mirror
	if cfg.AuditDatabaseURL != "" {
		auditDB, err := auditstore.Connect(cfg.AuditDatabaseURL)
		if err != nil {
			logger.Warn("audit database unreachable, continuing without the mirror", zap.Error(err))
		} else {
			defer auditDB.Close()
			mirror = auditDB
		}
	}
	auditSink := audit.New(logger, mirror)

	invalidator := admin.NewInvalidator(store)
	adminSurface := admin.NewSurface(keys, invalidator, auditSink, cfg.AdminAPIToken, logger)

	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	router := httpapi.New(httpapi.Dependencies{
		Pipeline:     pipeline,
		AdminSurface: adminSurface,
		Store:        store,
		Metrics:      appMetrics,
		BodyLimit:    cfg.ProxyBodyLimit,
		Logger:       logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("ready")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
