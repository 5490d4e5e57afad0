// Package proxy implements ProxyPipeline, the per-request chain that
// authenticates, throttles, and relays client traffic to the fixed upstream
// API, serving GETs from the shared cache with stale-while-revalidate
// semantics.
package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/edge-proxy/internal/apierr"
	"github.com/yourusername/edge-proxy/internal/cachepolicy"
	"github.com/yourusername/edge-proxy/internal/cachestore"
	"github.com/yourusername/edge-proxy/internal/hashing"
	"github.com/yourusername/edge-proxy/internal/keyregistry"
	"github.com/yourusername/edge-proxy/internal/ratelimit"
	"github.com/yourusername/edge-proxy/internal/upstream"
)

// Request is the transport-agnostic view of an inbound client call that
// httpapi builds from *http.Request.
type Request struct {
	Method    string
	Path      string // includes the external route prefix, e.g. "/api/v1/pst/find"
	RawQuery  string
	Headers   map[string][]string
	Body      []byte
	RemoteIP  string
	RequestID string
}

// Response is the transport-agnostic result httpapi writes back verbatim.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
	Headers     map[string]string
}

// Config is the subset of process configuration ProxyPipeline needs.
type Config struct {
	ServerAPIKey               string
	CacheTTLDefault            int
	CacheStaleTTL              int
	CacheIgnoreUpstreamControl bool
	CacheBypassPaths           []string
	CacheDebug                 bool
	RateLimitWindowSeconds     int
	RateLimitMaxRequests       int
}

// Pipeline wires authentication, rate limiting, header filtering, and
// cache dispatch into the single ordered chain a client request walks
// through.
type Pipeline struct {
	keys     *keyregistry.Registry
	limiter  *ratelimit.Limiter
	cache    *cachestore.Store
	upstream *upstream.Client
	logger   *zap.Logger
	cfg      Config
}

func New(keys *keyregistry.Registry, limiter *ratelimit.Limiter, cache *cachestore.Store, upstreamClient *upstream.Client, logger *zap.Logger, cfg Config) *Pipeline {
	return &Pipeline{keys: keys, limiter: limiter, cache: cache, upstream: upstreamClient, logger: logger, cfg: cfg}
}

// Handle runs the full ordered pipeline and always returns a Response —
// errors are mapped to their HTTP status here so httpapi only ever writes
// what it's given.
func (p *Pipeline) Handle(ctx context.Context, req *Request) *Response {
	normalized := normalizeHeaders(req.Headers)
	rawAPIKey := normalized["x-api-key"]
	forwarded := allowlistHeaders(normalized)

	rateHeaders, authErr := p.authenticate(ctx, req, rawAPIKey)
	if authErr != nil {
		return p.errorResponse(authErr, rateHeaders)
	}

	basePath, err := resolvePath(req.Path)
	if err != nil {
		return p.errorResponse(err, rateHeaders)
	}
	pathWithQuery := basePath
	if req.RawQuery != "" {
		pathWithQuery += "?" + req.RawQuery
	}

	if _, present := forwarded["api_key"]; !present && p.cfg.ServerAPIKey != "" {
		forwarded["api_key"] = p.cfg.ServerAPIKey
	}

	switch req.Method {
	case http.MethodGet:
		return p.handleGet(ctx, basePath, pathWithQuery, forwarded, rateHeaders)
	case http.MethodPost:
		return p.handlePost(ctx, req, pathWithQuery, forwarded, rateHeaders)
	default:
		return p.errorResponse(apierr.BadRequestWithStatus(http.StatusNotFound, "method not allowed"), rateHeaders)
	}
}

// authenticate validates x-api-key and applies the matching rate-limit
// scope, returning the headers every response must carry regardless of
// outcome.
func (p *Pipeline) authenticate(ctx context.Context, req *Request, rawAPIKey string) (map[string]string, error) {
	consumer, err := p.keys.Validate(ctx, rawAPIKey)
	if err != nil {
		return nil, apierr.Unavailable("key validation unavailable", err)
	}

	if consumer == nil {
		presence := "missing"
		if rawAPIKey != "" {
			presence = "present"
		}
		identifier := req.RemoteIP + ":" + presence
		result, err := p.limiter.Consume(ctx, ratelimit.ScopePreauth, identifier, p.cfg.RateLimitWindowSeconds, p.cfg.RateLimitMaxRequests)
		if err != nil {
			return nil, apierr.Unavailable("rate limiter unavailable", err)
		}
		headers := rateLimitHeaders(result)
		if !result.Allowed {
			headers["retry-after"] = strconv.Itoa(result.RetryAfter)
			return headers, apierr.Throttled("rate limit exceeded", result.RetryAfter)
		}
		return headers, apierr.Unauthorized("missing or invalid api key")
	}

	result, err := p.limiter.Consume(ctx, ratelimit.ScopeKey, consumer.KeyID, p.cfg.RateLimitWindowSeconds, p.cfg.RateLimitMaxRequests)
	if err != nil {
		return nil, apierr.Unavailable("rate limiter unavailable", err)
	}
	headers := rateLimitHeaders(result)
	if !result.Allowed {
		headers["retry-after"] = strconv.Itoa(result.RetryAfter)
		return headers, apierr.Throttled("rate limit exceeded", result.RetryAfter)
	}
	return headers, nil
}

func rateLimitHeaders(result ratelimit.Result) map[string]string {
	return map[string]string{
		"x-ratelimit-limit":     strconv.Itoa(result.Limit),
		"x-ratelimit-remaining": strconv.Itoa(result.Remaining),
		"x-ratelimit-reset":     strconv.FormatInt(result.ResetAt, 10),
	}
}

func (p *Pipeline) handlePost(ctx context.Context, req *Request, pathWithQuery string, forwarded map[string]string, rateHeaders map[string]string) *Response {
	if len(req.Body) > 0 {
		ct := strings.ToLower(forwarded["content-type"])
		if !strings.Contains(ct, "application/json") && !strings.HasSuffix(strings.TrimSpace(strings.Split(ct, ";")[0]), "+json") {
			return p.errorResponse(apierr.BadRequestWithStatus(http.StatusUnsupportedMediaType, "content-type must be application/json"), rateHeaders)
		}
	}

	resp, err := p.upstream.RequestRaw(ctx, http.MethodPost, pathWithQuery, req.Body, upstream.Options{Headers: forwarded})
	if err != nil {
		return p.errorResponse(apierr.Upstream("upstream request failed", err), rateHeaders)
	}
	return p.relay(resp.Status, resp.Body, resp.ContentType, resp.Headers, "", rateHeaders)
}

func (p *Pipeline) handleGet(ctx context.Context, basePath, pathWithQuery string, forwarded map[string]string, rateHeaders map[string]string) *Response {
	authorizationHeader := forwarded["authorization"]
	if cachepolicy.ShouldBypass(authorizationHeader, basePath, p.cfg.CacheBypassPaths) {
		resp, err := p.upstream.RequestRaw(ctx, http.MethodGet, pathWithQuery, nil, upstream.Options{Headers: forwarded})
		if err != nil {
			return p.errorResponse(apierr.Upstream("upstream request failed", err), rateHeaders)
		}
		return p.relay(resp.Status, resp.Body, resp.ContentType, resp.Headers, string(cachestore.StatusBypass), rateHeaders)
	}

	policyHeaders := cachepolicy.Headers{
		"accept":          forwarded["accept"],
		"accept-language": forwarded["accept-language"],
		"api_key":         forwarded["api_key"],
	}
	key := cachepolicy.BuildKey(http.MethodGet, pathWithQuery, policyHeaders)

	loader := func(loadCtx context.Context) (cachestore.LoaderResult, error) {
		resp, err := p.upstream.RequestRaw(loadCtx, http.MethodGet, pathWithQuery, nil, upstream.Options{Headers: forwarded})
		if err != nil {
			return cachestore.LoaderResult{}, err
		}
		decision := cachepolicy.Decide(resp.Status, resp.Headers["cache-control"], cachepolicy.Options{IgnoreUpstreamControl: p.cfg.CacheIgnoreUpstreamControl})
		ttl := decision.TTLSeconds
		if ttl <= 0 {
			ttl = p.cfg.CacheTTLDefault
		}
		return cachestore.LoaderResult{
			Value: cachestore.UpstreamResponse{
				Status:      resp.Status,
				Body:        resp.Body,
				ContentType: resp.ContentType,
				Headers:     resp.Headers,
			},
			Cacheable:       decision.Cacheable,
			TTLSeconds:      ttl,
			StaleTTLSeconds: p.cfg.CacheStaleTTL,
		}, nil
	}

	value, status, err := p.cache.SWR(ctx, key, loader)
	if err != nil {
		return p.errorResponse(apierr.Upstream("upstream request failed", err), rateHeaders)
	}

	keyHash := ""
	if p.cfg.CacheDebug {
		keyHash = hashing.ShortHex(key, 32)
	}
	return p.relay(value.Status, value.Body, value.ContentType, value.Headers, string(status), rateHeaders, keyHash)
}

// relay builds the final Response: status, retained headers, rate-limit
// headers, x-cache, and (when cache debug is on) x-cache-key-hash. A
// 204/304 status omits the body.
func (p *Pipeline) relay(status int, body json.RawMessage, contentType string, upstreamHeaders map[string]string, cacheStatus string, rateHeaders map[string]string, keyHash ...string) *Response {
	headers := map[string]string{}
	for name, value := range rateHeaders {
		headers[name] = value
	}
	for name, value := range upstreamHeaders {
		headers[name] = value
	}
	if cacheStatus != "" {
		headers["x-cache"] = cacheStatus
	}
	if len(keyHash) > 0 && keyHash[0] != "" {
		headers["x-cache-key-hash"] = keyHash[0]
	}

	out := &Response{Status: status, Headers: headers}
	if status == http.StatusNoContent || status == http.StatusNotModified {
		return out
	}
	out.Body = []byte(body)
	if contentType != "" {
		out.ContentType = contentType
	}
	return out
}

// errorResponse maps an apierr.Error (or any other error) to a Response
// carrying whatever rate-limit headers had already been computed.
func (p *Pipeline) errorResponse(err error, rateHeaders map[string]string) *Response {
	headers := map[string]string{}
	for name, value := range rateHeaders {
		headers[name] = value
	}

	apiErr, ok := apierr.As(err)
	if !ok {
		apiErr = apierr.Upstream("unexpected error", err)
	}

	p.logger.Warn("proxy: request failed",
		zap.Int("kind", int(apiErr.Kind)),
		zap.Int("status", apiErr.HTTPStatus()),
		zap.Error(apiErr),
	)

	if apiErr.RetryAfter > 0 {
		headers["retry-after"] = strconv.Itoa(apiErr.RetryAfter)
	}

	body, _ := json.Marshal(map[string]string{"error": apiErr.Message})
	return &Response{
		Status:      apiErr.HTTPStatus(),
		Body:        body,
		ContentType: "application/json",
		Headers:     headers,
	}
}

