package proxy

import (
	"strings"
)

// hopByHop is the fixed RFC list plus the extras the proxy strips before
// forwarding. The whole x-forwarded-* family is dropped by prefix below,
// not enumerated here.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
	"content-length":      true,
	"x-real-ip":           true,
}

// allowlisted is the set of header names ProxyPipeline forwards upstream,
// beyond the dynamic "x-*" rule.
var allowlisted = map[string]bool{
	"accept":          true,
	"accept-encoding": true,
	"accept-language": true,
	"api_key":         true,
	"authorization":   true,
	"content-type":    true,
	"user-agent":      true,
}

// normalizeHeaders coalesces multi-value headers to a comma-joined string,
// lowercases names, and drops the fixed hop-by-hop set plus every token
// named in the request's own Connection header.
func normalizeHeaders(raw map[string][]string) map[string]string {
	out := make(map[string]string, len(raw))
	for name, values := range raw {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}

	dynamic := map[string]bool{}
	if conn, ok := out["connection"]; ok {
		for _, tok := range strings.Split(conn, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				dynamic[tok] = true
			}
		}
	}

	for name := range out {
		if hopByHop[name] || dynamic[name] || strings.HasPrefix(name, "x-forwarded-") {
			delete(out, name)
		}
	}
	return out
}

// allowlistHeaders retains only the names permitted for forwarding upstream.
// x-api-key is authentication material and is deliberately excluded even
// though it matches the "x-*" rule.
func allowlistHeaders(normalized map[string]string) map[string]string {
	out := make(map[string]string)
	for name, value := range normalized {
		if name == "x-api-key" {
			continue
		}
		if allowlisted[name] || strings.HasPrefix(name, "x-") {
			out[name] = value
		}
	}
	return out
}
