package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.GlobalEnabled || cfg.GlobalLimit != 1000 {
		t.Errorf("unexpected global defaults: %+v", cfg)
	}
	if !cfg.PerUserEnabled || cfg.PerUserLimit != 120 {
		t.Errorf("unexpected per-user defaults: %+v", cfg)
	}
	if !cfg.PerIPEnabled || cfg.PerIPLimit != 60 {
		t.Errorf("unexpected per-ip defaults: %+v", cfg)
	}
}

func TestDisabledLimitersPassThrough(t *testing.T) {
	cfg := Config{}
	handler := GlobalLimiter(cfg)(UserLimiter(cfg)(IPLimiter(cfg)(okHandler())))

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d rejected with %d", i, rec.Code)
		}
	}
}

func TestGlobalLimiterRejectsOverLimit(t *testing.T) {
	cfg := Config{
		GlobalEnabled: true,
		GlobalLimit:   3,
		GlobalWindow:  time.Minute,
	}
	handler := GlobalLimiter(cfg)(okHandler())

	var rejected int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			rejected++
			if rec.Header().Get("Retry-After") == "" {
				t.Error("rejection missing Retry-After header")
			}
		}
	}
	if rejected != 2 {
		t.Errorf("expected 2 rejections after limit 3, got %d", rejected)
	}
}

func TestIPLimiterIsolatesClients(t *testing.T) {
	cfg := Config{
		PerIPEnabled: true,
		PerIPLimit:   2,
		PerIPWindow:  time.Minute,
	}
	handler := IPLimiter(cfg)(okHandler())

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	send("10.0.0.1:1000")
	send("10.0.0.1:1000")
	if code := send("10.0.0.1:1000"); code != http.StatusTooManyRequests {
		t.Errorf("expected third request from the same IP to be rejected, got %d", code)
	}
	if code := send("10.0.0.2:1000"); code != http.StatusOK {
		t.Errorf("other clients must not share the bucket, got %d", code)
	}
}
