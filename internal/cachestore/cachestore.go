// Package cachestore implements cache-aside + stale-while-revalidate (SWR)
// semantics on top of a statestore.StateStore.
package cachestore

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/hashing"
	"github.com/yourusername/edge-proxy/internal/statestore"
)

// Status is the outcome tag attached to the response as x-cache.
type Status string

const (
	StatusHit    Status = "HIT"
	StatusMiss   Status = "MISS"
	StatusStale  Status = "STALE"
	StatusBypass Status = "BYPASS"
)

// UpstreamResponse is the cached payload shape.
type UpstreamResponse struct {
	Status      int               `json:"status"`
	Body        json.RawMessage   `json:"body"`
	ContentType string            `json:"contentType,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// envelope is the tagged cache format. Marker distinguishes it from a bare
// legacy value stored directly under the key: any value that fails to
// unmarshal with marker=true is treated as a fresh, non-stale legacy value.
type envelope struct {
	Value       UpstreamResponse `json:"value"`
	StaleUntil  *int64           `json:"staleUntil,omitempty"`
	Marker      bool             `json:"marker"`
}

// LoaderResult is what a loader function returns to swr.
type LoaderResult struct {
	Value           UpstreamResponse
	Cacheable       bool
	TTLSeconds      int
	StaleTTLSeconds int
}

// Loader fetches a fresh value for a cache key (normally: call the upstream
// and run it through cachepolicy.Decide).
type Loader func(ctx context.Context) (LoaderResult, error)

// Store wraps a StateStore with the envelope format and SWR orchestration.
type Store struct {
	backend statestore.StateStore
	logger  *zap.Logger
}

func New(backend statestore.StateStore, logger *zap.Logger) *Store {
	return &Store{backend: backend, logger: logger}
}

// Get returns the cached value for key, tolerating both envelope and
// legacy bare-value formats. Backend errors are logged and treated as a
// miss (absent) — they never propagate to the caller.
func (s *Store) Get(ctx context.Context, key string) (*UpstreamResponse, bool) {
	env, ok, err := s.getEnvelope(ctx, key)
	if err != nil {
		s.logger.Warn("cachestore: get failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &env.Value, true
}

func (s *Store) getEnvelope(ctx context.Context, key string) (*envelope, bool, error) {
	raw, err := s.backend.Get(ctx, key)
	if err == statestore.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || !env.Marker {
		// Legacy bare value: the raw bytes ARE the UpstreamResponse (or
		// this isn't our JSON shape at all). Try to parse it as a bare
		// UpstreamResponse; if that fails too, there's nothing usable.
		var bare UpstreamResponse
		if err2 := json.Unmarshal([]byte(raw), &bare); err2 != nil {
			return nil, false, nil
		}
		return &envelope{Value: bare, Marker: true}, true, nil
	}
	return &env, true, nil
}

// Set stores value at key. If staleTTL > 0 an envelope with a staleUntil
// deadline is stored with backing TTL ttl+staleTTL; otherwise the bare
// value is stored with backing TTL ttl.
func (s *Store) Set(ctx context.Context, key string, value UpstreamResponse, ttl, staleTTL time.Duration) error {
	if staleTTL <= 0 {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return s.backend.Set(ctx, key, string(data), ttl)
	}

	staleUntil := time.Now().Add(ttl).UnixMilli()
	env := envelope{Value: value, StaleUntil: &staleUntil, Marker: true}
	backingTTL := ttl + staleTTL

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.backend.Set(ctx, key, string(data), backingTTL)
}

// Delete removes key; errors are logged, not returned, for callers that
// don't care whether the cache entry was actually present.
func (s *Store) Delete(ctx context.Context, key string) {
	if err := s.backend.Del(ctx, key); err != nil {
		s.logger.Warn("cachestore: delete failed", zap.String("key_hash", hashing.ShortHex(key, 32)), zap.Error(err))
	}
}

// SWR implements the cache-aside + stale-while-revalidate lookup: a fresh
// hit returns immediately, a stale hit returns immediately too while
// kicking off a background refresh, and a miss loads synchronously.
func (s *Store) SWR(ctx context.Context, key string, loader Loader) (UpstreamResponse, Status, error) {
	if s.backend.Fallback() {
		result, err := loader(ctx)
		if err != nil {
			return UpstreamResponse{}, StatusBypass, err
		}
		return result.Value, StatusBypass, nil
	}

	env, ok, err := s.getEnvelope(ctx, key)
	if err != nil {
		s.logger.Warn("cachestore: swr get failed", zap.Error(err))
		ok = false
	}

	if ok {
		if env.StaleUntil == nil || time.Now().UnixMilli() <= *env.StaleUntil {
			return env.Value, StatusHit, nil
		}
		// Stale: serve the cached value once, kick off a detached refresh.
		s.scheduleRefresh(key, loader)
		return env.Value, StatusStale, nil
	}

	result, err := loader(ctx)
	if err != nil {
		return UpstreamResponse{}, "", err
	}
	if !result.Cacheable {
		return result.Value, StatusBypass, nil
	}

	ttl := time.Duration(result.TTLSeconds) * time.Second
	staleTTL := time.Duration(result.StaleTTLSeconds) * time.Second
	if err := s.Set(ctx, key, result.Value, ttl, staleTTL); err != nil {
		s.logger.Warn("cachestore: write failed, downgrading to bypass", zap.Error(err))
		return result.Value, StatusBypass, nil
	}
	return result.Value, StatusMiss, nil
}

// scheduleRefresh launches the background revalidation goroutine. It is
// deliberately decoupled from the request's context: the
// triggering request's cancellation or completion must never cut the
// refresh short, and refresh errors never propagate anywhere but the log.
func (s *Store) scheduleRefresh(key string, loader Loader) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		result, err := loader(ctx)
		if err != nil {
			s.logger.Warn("cachestore: background refresh failed", zap.String("key_hash", hashing.ShortHex(key, 32)), zap.Error(err))
			return
		}
		if !result.Cacheable {
			return
		}

		ttl := time.Duration(result.TTLSeconds) * time.Second
		staleTTL := time.Duration(result.StaleTTLSeconds) * time.Second
		if err := s.Set(ctx, key, result.Value, ttl, staleTTL); err != nil {
			s.logger.Warn("cachestore: background refresh write failed", zap.String("key_hash", hashing.ShortHex(key, 32)), zap.Error(err))
		}
	}()
}
