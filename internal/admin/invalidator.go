// Package admin implements AdminInvalidator and the bearer-guarded
// admin HTTP surface.
package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourusername/edge-proxy/internal/apierr"
	"github.com/yourusername/edge-proxy/internal/cachepolicy"
	"github.com/yourusername/edge-proxy/internal/statestore"
)

// Scope selects how InvalidateRequest.Path/PathPrefix is interpreted.
type Scope string

const (
	ScopeExact  Scope = "exact"
	ScopePrefix Scope = "prefix"
	ScopeAll    Scope = "all"
)

const scanCount = 200
const deleteBatchSize = 100

// HeaderComponents mirrors the subset of request headers strict-exact
// invalidation needs to recompute a cache key.
type HeaderComponents struct {
	Accept         string
	AcceptLanguage string
	APIKey         string
}

// InvalidateRequest is the admin invalidate endpoint's parsed payload.
type InvalidateRequest struct {
	Scope      Scope
	Path       string
	PathPrefix string
	Strict     bool
	Headers    HeaderComponents
	DryRun     bool
}

// InvalidateResult is what the admin endpoint returns.
type InvalidateResult struct {
	Scope   Scope
	DryRun  bool
	Matched int
	Deleted int
}

// Invalidator deletes cache entries from the proxy:GET:* namespace only —
// it is structurally unable to reach any other namespace.
type Invalidator struct {
	store statestore.StateStore
}

func NewInvalidator(store statestore.StateStore) *Invalidator {
	return &Invalidator{store: store}
}

// Invalidate executes req and reports how many keys matched/were deleted.
func (inv *Invalidator) Invalidate(ctx context.Context, req InvalidateRequest) (InvalidateResult, error) {
	if inv.store.Fallback() {
		return InvalidateResult{}, apierr.Unavailable("cache backend unreachable", nil)
	}

	switch req.Scope {
	case ScopeAll:
		return inv.runPattern(ctx, req.Scope, "proxy:GET:*", req.DryRun)

	case ScopePrefix:
		if strings.Contains(req.PathPrefix, "?") {
			return InvalidateResult{}, apierr.BadRequest("pathPrefix must not contain a query string")
		}
		normalized := normalizePrefix(req.PathPrefix)
		pattern := "proxy:GET:" + escapeGlob(normalized) + "*"
		return inv.runPattern(ctx, req.Scope, pattern, req.DryRun)

	case ScopeExact:
		if req.Strict {
			key := cachepolicy.BuildKey("GET", req.Path, cachepolicy.Headers{
				"accept":          req.Headers.Accept,
				"accept-language": req.Headers.AcceptLanguage,
				"api_key":         req.Headers.APIKey,
			})
			return inv.runExact(ctx, key, req.DryRun)
		}
		pattern := "proxy:GET:" + escapeGlob(normalizePathPreservingQuery(req.Path)) + ":*"
		return inv.runPattern(ctx, req.Scope, pattern, req.DryRun)

	default:
		return InvalidateResult{}, apierr.BadRequest(fmt.Sprintf("unknown scope %q", req.Scope))
	}
}

func (inv *Invalidator) runPattern(ctx context.Context, scope Scope, pattern string, dryRun bool) (InvalidateResult, error) {
	var matched []string
	if err := inv.store.Scan(ctx, pattern, scanCount, func(key string) error {
		matched = append(matched, key)
		return nil
	}); err != nil {
		return InvalidateResult{}, apierr.Unavailable("cache scan failed", err)
	}

	result := InvalidateResult{Scope: scope, DryRun: dryRun, Matched: len(matched)}
	if dryRun {
		return result, nil
	}

	deleted := 0
	for start := 0; start < len(matched); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(matched) {
			end = len(matched)
		}
		batch := matched[start:end]
		if err := inv.store.Del(ctx, batch...); err != nil {
			return InvalidateResult{}, apierr.Unavailable("cache delete failed", err)
		}
		deleted += len(batch)
	}
	result.Deleted = deleted
	return result, nil
}

// runExact handles the strict-exact case, preferring EXISTS to confirm
// presence before a single-key delete.
func (inv *Invalidator) runExact(ctx context.Context, key string, dryRun bool) (InvalidateResult, error) {
	exists, err := inv.store.Exists(ctx, key)
	if err != nil {
		return InvalidateResult{}, apierr.Unavailable("cache exists check failed", err)
	}

	matched := 0
	if exists {
		matched = 1
	}
	result := InvalidateResult{Scope: ScopeExact, DryRun: dryRun, Matched: matched}
	if dryRun || !exists {
		return result, nil
	}

	if err := inv.store.Del(ctx, key); err != nil {
		return InvalidateResult{}, apierr.Unavailable("cache delete failed", err)
	}
	result.Deleted = 1
	return result, nil
}

// normalizePrefix forces a leading slash, collapses internal "//", and
// strips a trailing slash.
func normalizePrefix(raw string) string {
	p := raw
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// normalizePathPreservingQuery applies the same leading-slash/"//"
// collapsing to a path's non-query portion, leaving the query string (if
// any) untouched, so an exact-scope lookup matches the key the proxy
// pipeline actually built for the same request.
func normalizePathPreservingQuery(raw string) string {
	path, query := raw, ""
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		path, query = raw[:idx], raw[idx:]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path + query
}

var globMetaChars = []string{`\`, "*", "?", "[", "]"}

// escapeGlob backslash-escapes Redis glob metacharacters in a user-supplied
// path segment before it's folded into a MATCH pattern.
func escapeGlob(s string) string {
	out := s
	for _, ch := range globMetaChars {
		out = strings.ReplaceAll(out, ch, `\`+ch)
	}
	return out
}
