// Package versioning negotiates the API version from request headers so
// future breaking changes can ship behind the same routes.
package versioning

import (
	"context"
	"net/http"
	"strings"
)

// Version represents an API version.
type Version int

const (
	// V1 is the initial API version (current default)
	V1 Version = 1
	// V2 is reserved for future breaking changes
	V2 Version = 2

	// DefaultVersion is used when the client does not specify one
	DefaultVersion = V1
)

// vendorPrefix is the vendor-specific media type prefix,
// e.g. Accept: application/vnd.indexpilot.v2+json.
const vendorPrefix = "application/vnd.indexpilot."

// String returns the version as a string (e.g. "v1").
func (v Version) String() string {
	if v <= 0 {
		return "v1"
	}
	return "v" + string(rune('0'+v))
}

type contextKey string

const versionContextKey contextKey = "api-version"

// FromContext retrieves the negotiated API version.
func FromContext(ctx context.Context) Version {
	if v, ok := ctx.Value(versionContextKey).(Version); ok {
		return v
	}
	return DefaultVersion
}

// WithVersion adds the API version to the context.
func WithVersion(ctx context.Context, version Version) context.Context {
	return context.WithValue(ctx, versionContextKey, version)
}

// Negotiation resolves the requested API version from, in priority order,
// the X-API-Version header, a vendor media type in Accept, or a version
// parameter in Accept, defaulting to v1.
func Negotiation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		version := negotiateVersion(r)

		w.Header().Set("X-API-Version", version.String())
		w.Header().Set("Vary", "Accept, X-API-Version")

		ctx := WithVersion(r.Context(), version)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func negotiateVersion(r *http.Request) Version {
	if versionHeader := r.Header.Get("X-API-Version"); versionHeader != "" {
		if v := parseVersionString(versionHeader); v > 0 {
			return v
		}
	}

	acceptHeader := r.Header.Get("Accept")
	if strings.Contains(acceptHeader, vendorPrefix) {
		for _, part := range strings.Split(acceptHeader, ".") {
			versionPart := strings.Split(part, "+")[0]
			if strings.HasPrefix(strings.ToLower(versionPart), "v") {
				if v := parseVersionString(versionPart); v > 0 {
					return v
				}
			}
		}
	}

	if strings.Contains(acceptHeader, "version=") {
		parts := strings.Split(acceptHeader, "version=")
		if len(parts) > 1 {
			versionStr := strings.TrimSpace(strings.Split(parts[1], ";")[0])
			if v := parseVersionString(versionStr); v > 0 {
				return v
			}
		}
	}

	return DefaultVersion
}

func parseVersionString(s string) Version {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "v")

	switch s {
	case "1":
		return V1
	case "2":
		return V2
	default:
		return 0
	}
}
