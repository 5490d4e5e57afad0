// Package upstream implements the outbound HTTP client the proxy pipeline
// calls to reach the fixed backend API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// allowedResponseHeaders is the set of response headers worth relaying to
// the caller; everything else from the backend is dropped.
var allowedResponseHeaders = map[string]bool{
	"cache-control":    true,
	"etag":             true,
	"last-modified":    true,
	"expires":          true,
	"vary":             true,
	"content-encoding": true,
	"content-language": true,
	"content-disposition": true,
}

// Response is the normalized outbound-call result.
type Response struct {
	Status      int
	Body        json.RawMessage
	ContentType string
	Headers     map[string]string
}

// Options configures a single RequestRaw call.
type Options struct {
	Headers map[string]string
}

// Client performs outbound requests with a shared pooled transport, a
// per-request timeout, and idempotent GET retries.
type Client struct {
	origin     *url.URL
	httpClient *http.Client
	timeout    time.Duration
	retries    int
	logger     *zap.Logger
}

// New validates baseURL is origin-only and builds a Client with a pooled
// transport (keepalive on, bounded idle connections, no pipelining — which
// net/http never does anyway).
func New(baseURL string, timeoutMs int, retries int, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("upstream: invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream: base url must be absolute with scheme and host")
	}
	if trimmed := strings.Trim(u.Path, "/"); trimmed != "" {
		return nil, fmt.Errorf("upstream: base url must be origin-only, got path %q", u.Path)
	}
	origin := &url.URL{Scheme: u.Scheme, Host: u.Host}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	if retries < 0 {
		retries = 0
	}

	return &Client{
		origin:     origin,
		httpClient: &http.Client{Transport: transport},
		timeout:    time.Duration(timeoutMs) * time.Millisecond,
		retries:    retries,
		logger:     logger,
	}, nil
}

// resolve joins pathWithQuery against the configured origin, rejecting
// absolute-URL smuggling attempts.
func (c *Client) resolve(pathWithQuery string) (*url.URL, error) {
	if strings.HasPrefix(pathWithQuery, "http://") ||
		strings.HasPrefix(pathWithQuery, "https://") ||
		strings.HasPrefix(pathWithQuery, "//") {
		return nil, fmt.Errorf("upstream: absolute URL not allowed in request path")
	}

	ref, err := url.Parse(pathWithQuery)
	if err != nil {
		return nil, fmt.Errorf("upstream: invalid request path: %w", err)
	}

	resolved := c.origin.ResolveReference(ref)
	if resolved.Scheme != c.origin.Scheme || resolved.Host != c.origin.Host {
		return nil, fmt.Errorf("upstream: resolved origin does not match configured origin")
	}
	return resolved, nil
}

// RequestRaw performs one outbound request, retrying idempotent GETs on
// transient failures. Non-2xx responses are returned, not treated as
// errors; network/timeout failures are returned as errors.
func (c *Client) RequestRaw(ctx context.Context, method, pathWithQuery string, body []byte, opts Options) (*Response, error) {
	target, err := c.resolve(pathWithQuery)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = c.retries + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, err := c.do(ctx, method, target, body, opts)
		if err == nil {
			if method == http.MethodGet && resp.Status >= 500 && attempt < attempts-1 {
				lastErr = fmt.Errorf("upstream: transient %d response", resp.Status)
				continue
			}
			return resp, nil
		}

		lastErr = err
		if method != http.MethodGet || !isTransient(err) || attempt == attempts-1 {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method string, target *url.URL, body []byte, opts Options) (*Response, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, target.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("upstream: couldn't build request: %w", err)
	}
	for name, value := range opts.Headers {
		req.Header.Set(name, value)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, fmt.Errorf("upstream: request timed out: %w", err)
		}
		return nil, fmt.Errorf("upstream: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: couldn't read response body: %w", err)
	}

	return c.normalize(httpResp, raw), nil
}

func (c *Client) normalize(httpResp *http.Response, raw []byte) *Response {
	contentType := httpResp.Header.Get("Content-Type")

	var decoded json.RawMessage
	switch {
	case len(raw) == 0:
		decoded = json.RawMessage("null")
	case strings.Contains(strings.ToLower(contentType), "application/json"):
		if json.Valid(raw) {
			decoded = json.RawMessage(raw)
		} else {
			c.logger.Warn("upstream: response declared json but failed to parse, falling back to raw text")
			encoded, _ := json.Marshal(string(raw))
			decoded = json.RawMessage(encoded)
		}
	default:
		encoded, _ := json.Marshal(string(raw))
		decoded = json.RawMessage(encoded)
	}

	headers := make(map[string]string)
	for name := range httpResp.Header {
		lower := strings.ToLower(name)
		if allowedResponseHeaders[lower] {
			headers[lower] = httpResp.Header.Get(name)
		}
	}

	return &Response{
		Status:      httpResp.StatusCode,
		Body:        decoded,
		ContentType: contentType,
		Headers:     headers,
	}
}

// isTransient reports whether err looks like a network-level failure worth
// retrying on a GET. A context cancellation by the caller is never retried;
// everything else from the transport (connection refused, reset, timeout)
// is.
func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Get is a throwing convenience wrapper for internal callers that don't
// want to deal with non-2xx responses explicitly.
func (c *Client) Get(ctx context.Context, pathWithQuery string, opts Options) (*Response, error) {
	resp, err := c.RequestRaw(ctx, http.MethodGet, pathWithQuery, nil, opts)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("upstream: GET %s returned status %d", pathWithQuery, resp.Status)
	}
	return resp, nil
}

// Post is the POST counterpart to Get.
func (c *Client) Post(ctx context.Context, pathWithQuery string, body []byte, opts Options) (*Response, error) {
	resp, err := c.RequestRaw(ctx, http.MethodPost, pathWithQuery, body, opts)
	if err != nil {
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, fmt.Errorf("upstream: POST %s returned status %d", pathWithQuery, resp.Status)
	}
	return resp, nil
}
