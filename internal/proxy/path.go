package proxy

import (
	"regexp"
	"strings"

	"github.com/yourusername/edge-proxy/internal/apierr"
)

const routePrefix = "/api/v1"

var leadingSlashes = regexp.MustCompile(`^/+`)

// resolvePath strips the external route prefix, rejects absolute-URL
// smuggling, and collapses leading slashes.
func resolvePath(fullPath string) (string, error) {
	trimmed := strings.TrimPrefix(fullPath, routePrefix)
	if strings.Contains(trimmed, "://") {
		return "", apierr.BadRequest("invalid path")
	}
	trimmed = leadingSlashes.ReplaceAllString(trimmed, "/")
	if trimmed == "" {
		trimmed = "/"
	}
	return trimmed, nil
}
