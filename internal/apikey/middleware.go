// Package apikey authenticates requests by API key. Each key maps to a user
// ID; handlers read the authenticated user from the request context.
package apikey

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/IndexPilot/server/internal/errors"
)

// HeaderName carries the API key on requests.
const HeaderName = "X-API-Key"

// devUserHeader identifies the caller when authentication is disabled.
// Development and tests only.
const devUserHeader = "X-User-ID"

type contextKey string

const contextKeyUserID contextKey = "api_key_user_id"

// Config holds API key authentication configuration.
type Config struct {
	// Keys maps an API key to the user ID it authenticates.
	Keys map[string]string

	// Enabled controls whether authentication is enforced. When disabled,
	// the caller may assert an identity via the X-User-ID header.
	Enabled bool
}

// Middleware resolves the API key to a user ID and stores it in the request
// context. Requests with a missing or unknown key pass through anonymously;
// route groups that need an identity add Require on top.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if cfg.Enabled {
				key := strings.TrimSpace(r.Header.Get(HeaderName))
				if key != "" {
					userID = cfg.Keys[key]
				}
			} else {
				userID = strings.TrimSpace(r.Header.Get(devUserHeader))
			}

			if userID != "" {
				ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Require rejects requests that did not authenticate.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r) == "" {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserID returns the authenticated user ID, or "" for anonymous requests.
func UserID(r *http.Request) string {
	if id, ok := r.Context().Value(contextKeyUserID).(string); ok {
		return id
	}
	return ""
}
