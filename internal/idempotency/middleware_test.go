package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func submissionHandler(callCount *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*callCount++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"accepted":2,"debited":2}`))
	})
}

func TestMiddlewareNoKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	calls := 0
	handler := Middleware(store, time.Hour)(submissionHandler(&calls))

	req := httptest.NewRequest("POST", "/v1/submissions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
	if rec.Header().Get("X-Idempotency-Replay") != "" {
		t.Error("expected no replay header without a key")
	}
	if calls != 1 {
		t.Errorf("expected one handler call, got %d", calls)
	}
}

func TestMiddlewareReplaysRetriedSubmission(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	calls := 0
	handler := Middleware(store, time.Hour)(submissionHandler(&calls))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/submissions", nil)
		req.Header.Set("Idempotency-Key", "batch-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected status 202, got %d", i, rec.Code)
		}
		if rec.Body.String() != `{"accepted":2,"debited":2}` {
			t.Fatalf("request %d: unexpected body %s", i, rec.Body.String())
		}
		wantReplay := i == 1
		gotReplay := rec.Header().Get("X-Idempotency-Replay") == "true"
		if gotReplay != wantReplay {
			t.Errorf("request %d: replay header = %v, want %v", i, gotReplay, wantReplay)
		}
	}

	// The retry replays the cached response; credits are debited once
	if calls != 1 {
		t.Errorf("expected one handler call across the retry, got %d", calls)
	}
}

func TestMiddlewareDistinctKeysBothExecute(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	calls := 0
	handler := Middleware(store, time.Hour)(submissionHandler(&calls))

	for _, key := range []string{"batch-1", "batch-2"} {
		req := httptest.NewRequest("POST", "/v1/submissions", nil)
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Header().Get("X-Idempotency-Replay") != "" {
			t.Errorf("key %s: fresh key must not replay", key)
		}
	}
	if calls != 2 {
		t.Errorf("expected two handler calls, got %d", calls)
	}
}

func TestMiddlewareScopesKeyByEndpoint(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	calls := 0
	handler := Middleware(store, time.Hour)(submissionHandler(&calls))

	// The same key against a submission and a checkout are separate requests
	for _, path := range []string{"/v1/submissions", "/v1/billing/checkout"} {
		req := httptest.NewRequest("POST", path, nil)
		req.Header.Set("Idempotency-Key", "shared-key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Header().Get("X-Idempotency-Replay") != "" {
			t.Errorf("path %s: key must be scoped per endpoint", path)
		}
	}
	if calls != 2 {
		t.Errorf("expected two handler calls, got %d", calls)
	}
}

func TestMiddlewareDoesNotCacheFailures(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	calls := 0
	handler := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"error":{"code":"insufficient_credits"}}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/submissions", nil)
		req.Header.Set("Idempotency-Key", "batch-poor")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Header().Get("X-Idempotency-Replay") != "" {
			t.Errorf("request %d: failures must not replay", i)
		}
	}

	// A rejected submission may be retried for real after a top-up
	if calls != 2 {
		t.Errorf("expected both attempts to reach the handler, got %d", calls)
	}
}

func TestMiddlewarePreservesHeadersOnReplay(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	handler := Middleware(store, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/v1/urls/url-1")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"accepted":1}`))
	}))

	req1 := httptest.NewRequest("POST", "/v1/submissions", nil)
	req1.Header.Set("Idempotency-Key", "batch-7")
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest("POST", "/v1/submissions", nil)
	req2.Header.Set("Idempotency-Key", "batch-7")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected Content-Type preserved, got %s", rec2.Header().Get("Content-Type"))
	}
	if rec2.Header().Get("Location") != "/v1/urls/url-1" {
		t.Errorf("expected Location preserved, got %s", rec2.Header().Get("Location"))
	}
	if rec2.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("expected replay header on cached response")
	}
}

func TestMiddlewareTTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	calls := 0
	handler := Middleware(store, 50*time.Millisecond)(submissionHandler(&calls))

	req1 := httptest.NewRequest("POST", "/v1/submissions", nil)
	req1.Header.Set("Idempotency-Key", "batch-9")
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	time.Sleep(100 * time.Millisecond)

	req2 := httptest.NewRequest("POST", "/v1/submissions", nil)
	req2.Header.Set("Idempotency-Key", "batch-9")
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec2.Header().Get("X-Idempotency-Replay") != "" {
		t.Error("expected no replay after the key expired")
	}
	if calls != 2 {
		t.Errorf("expected the expired key to execute again, got %d calls", calls)
	}
}

func TestMiddlewareZeroTTLUsesDefault(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	calls := 0
	handler := Middleware(store, 0)(submissionHandler(&calls))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/submissions", nil)
		req.Header.Set("Idempotency-Key", "batch-11")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected status 202, got %d", i, rec.Code)
		}
	}
	if calls != 1 {
		t.Errorf("expected the default TTL to replay the retry, got %d calls", calls)
	}
}

func TestStoreGetSetDelete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()

	if _, found := store.Get(ctx, "missing"); found {
		t.Error("expected miss for an unknown key")
	}

	resp := &Response{
		StatusCode: http.StatusAccepted,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       []byte(`{"accepted":3}`),
		CachedAt:   time.Now(),
	}
	if err := store.Set(ctx, "POST:/v1/submissions:batch-1", resp, time.Hour); err != nil {
		t.Fatalf("set: %v", err)
	}

	cached, found := store.Get(ctx, "POST:/v1/submissions:batch-1")
	if !found {
		t.Fatal("expected cached response")
	}
	if cached.StatusCode != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", cached.StatusCode)
	}
	if !bytes.Equal(cached.Body, []byte(`{"accepted":3}`)) {
		t.Errorf("unexpected body %s", cached.Body)
	}

	if err := store.Delete(ctx, "POST:/v1/submissions:batch-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found := store.Get(ctx, "POST:/v1/submissions:batch-1"); found {
		t.Error("expected miss after delete")
	}
}

func TestStoreExpiration(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()

	resp := &Response{StatusCode: http.StatusAccepted, Body: []byte(`{}`), CachedAt: time.Now()}
	if err := store.Set(ctx, "short-lived", resp, 50*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}

	if _, found := store.Get(ctx, "short-lived"); !found {
		t.Error("expected hit before expiry")
	}

	time.Sleep(100 * time.Millisecond)

	if _, found := store.Get(ctx, "short-lived"); found {
		t.Error("expected miss after expiry")
	}
}
