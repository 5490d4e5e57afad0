// Package cachepolicy holds the pure decision functions that decide cache
// keying, cacheability, and bypass — no I/O, fully unit-testable.
package cachepolicy

import (
	"strconv"
	"strings"

	"github.com/yourusername/edge-proxy/internal/hashing"
)

// Headers is the minimal header view cachepolicy needs. Callers (the proxy
// pipeline) build this from the real request/response headers.
type Headers map[string]string

func (h Headers) get(name string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(name)]
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// CredentialSalt computes the hex sha256 of method+path+apiKey — never the
// raw key itself — so the cache key can vary per-caller without ever
// containing the credential in cleartext.
func CredentialSalt(method, pathWithQuery, apiKey string) string {
	if apiKey == "" {
		return ""
	}
	return hashing.Hex(method + ":" + pathWithQuery + ":" + apiKey)
}

// BuildKey returns the stable cache key for (method, pathWithQuery, headers).
// headers must contain the raw, un-hashed "accept", "accept-language" and
// "api_key" values (lowercase keys) collected by the caller.
func BuildKey(method, pathWithQuery string, headers Headers) string {
	accept := normalize(headers.get("accept"))
	acceptLanguage := normalize(headers.get("accept-language"))
	apiKey := headers.get("api_key")

	salt := CredentialSalt(method, pathWithQuery, apiKey)

	fingerprint := accept + "|" + acceptLanguage + "|" + salt
	return "proxy:" + method + ":" + pathWithQuery + ":" + fingerprint
}

// Decision is the outcome of Decide. It carries no stale TTL — the stale
// window is a configured default the loader attaches afterward
// (cachestore.LoaderResult.StaleTTLSeconds); Decide only ever speaks to
// cacheability and the fresh TTL upstream directives imply.
type Decision struct {
	Cacheable  bool
	TTLSeconds int // 0 means "unset", caller applies its own default
}

// Options configures Decide; IgnoreUpstreamControl mirrors
// CACHE_IGNORE_UPSTREAM_CONTROL.
type Options struct {
	IgnoreUpstreamControl bool
}

// Decide implements the ordered cacheability rules. cacheControl is the raw
// upstream Cache-Control header value (may be empty).
func Decide(status int, cacheControl string, opts Options) Decision {
	if status == 204 || status == 304 {
		return Decision{Cacheable: false}
	}
	if status < 200 || status >= 300 {
		return Decision{Cacheable: false}
	}
	if opts.IgnoreUpstreamControl {
		return Decision{Cacheable: true}
	}

	directives := parseCacheControl(cacheControl)
	if _, ok := directives["no-store"]; ok {
		return Decision{Cacheable: false}
	}
	if _, ok := directives["private"]; ok {
		return Decision{Cacheable: false}
	}

	ttl, ok := ttlFromDirectives(directives)
	if !ok {
		return Decision{Cacheable: true}
	}
	if ttl <= 0 {
		return Decision{Cacheable: false}
	}
	return Decision{Cacheable: true, TTLSeconds: ttl}
}

// parseCacheControl splits a Cache-Control header into a directive map.
// Bare tokens map to "true"; key=value pairs keep their value with
// surrounding double quotes stripped.
func parseCacheControl(raw string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return out
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "="); idx >= 0 {
			key := strings.ToLower(strings.TrimSpace(part[:idx]))
			val := strings.TrimSpace(part[idx+1:])
			val = strings.Trim(val, `"`)
			out[key] = val
		} else {
			out[strings.ToLower(part)] = "true"
		}
	}
	return out
}

func ttlFromDirectives(directives map[string]string) (int, bool) {
	for _, name := range []string{"s-maxage", "max-age"} {
		if raw, ok := directives[name]; ok {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			return int(f), true
		}
	}
	return 0, false
}

// BasePath strips the query string, enforces a leading slash, and collapses
// trailing slashes — the normalized form ShouldBypass compares prefixes
// against.
func BasePath(pathWithQuery string) string {
	p := pathWithQuery
	if idx := strings.IndexByte(p, '?'); idx >= 0 {
		p = p[:idx]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// ShouldBypass reports whether a request should skip the cache entirely:
// presence of a forwarded Authorization header, or a configured bypass
// path prefix match.
func ShouldBypass(authorizationHeader string, basePath string, bypassPrefixes []string) bool {
	if strings.TrimSpace(authorizationHeader) != "" {
		return true
	}
	for _, prefix := range bypassPrefixes {
		if matchesPrefix(basePath, prefix) {
			return true
		}
	}
	return false
}

func matchesPrefix(basePath, prefix string) bool {
	if prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		return false
	}
	return basePath == prefix || strings.HasPrefix(basePath, prefix+"/")
}
