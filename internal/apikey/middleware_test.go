package apikey

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r)))
	})
}

func TestMiddlewareResolvesUser(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Keys:    map[string]string{"key-alpha": "u1", "key-beta": "u2"},
	}
	handler := Middleware(cfg)(echoUser())

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"known key", "key-alpha", "u1"},
		{"second key", "key-beta", "u2"},
		{"unknown key", "key-bogus", ""},
		{"missing key", "", ""},
		{"whitespace trimmed", "  key-alpha  ", "u1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.key != "" {
				req.Header.Set(HeaderName, tc.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Body.String(); got != tc.want {
				t.Errorf("expected user %q, got %q", tc.want, got)
			}
		})
	}
}

func TestMiddlewareDisabledUsesDevHeader(t *testing.T) {
	handler := Middleware(Config{Enabled: false})(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "dev-user")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "dev-user" {
		t.Errorf("expected dev-user, got %q", got)
	}
}

func TestMiddlewareEnabledIgnoresDevHeader(t *testing.T) {
	cfg := Config{Enabled: true, Keys: map[string]string{"key-alpha": "u1"}}
	handler := Middleware(cfg)(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "impostor")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "" {
		t.Errorf("dev header must not authenticate when keys are enforced, got %q", got)
	}
}

func TestRequireRejectsAnonymous(t *testing.T) {
	cfg := Config{Enabled: true, Keys: map[string]string{"key-alpha": "u1"}}
	handler := Middleware(cfg)(Require(echoUser()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderName, "key-alpha")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "u1" {
		t.Errorf("expected authenticated pass-through, got %d %q", rec.Code, rec.Body.String())
	}
}
