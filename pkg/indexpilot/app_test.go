package indexpilot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IndexPilot/server/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Server.Address = "127.0.0.1:0"
	return cfg
}

func TestNewAppRequiresConfig(t *testing.T) {
	if _, err := NewApp(nil); err == nil {
		t.Fatal("NewApp(nil) should fail")
	}
}

func TestNewAppMemoryBackends(t *testing.T) {
	app, err := NewApp(testConfig(t))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	if app.Store == nil || app.Queue == nil || app.Dispatcher == nil || app.Verifier == nil {
		t.Fatal("core components missing")
	}
	if app.Billing != nil {
		t.Error("billing should be nil without a Stripe key")
	}

	errChan := make(chan error, 1)
	go func() { errChan <- app.Start() }()
	time.Sleep(50 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}

	// The metrics endpoint serves this app's own registry
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w = httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected runtime collectors in the metrics exposition")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-errChan; err != nil {
		t.Fatalf("Start returned: %v", err)
	}
}

func TestNewAppRejectsUnknownStorageBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "etcd"
	if _, err := NewApp(cfg); err == nil {
		t.Fatal("unknown storage backend should fail")
	}
}

func TestNewAppEnablesBillingWithStripeKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Stripe.SecretKey = "sk_test_x"
	cfg.Stripe.Packs = map[string]int{"price_small": 50}

	app, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if app.Billing == nil || !app.Billing.Enabled() {
		t.Error("billing should be enabled with a Stripe key and packs")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errChan := make(chan error, 1)
	go func() { errChan <- app.Start() }()
	time.Sleep(20 * time.Millisecond)
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	<-errChan
}
