package config

import (
	"os"
	"testing"
	"time"
)

func TestEnvOverrides_TakePrecedence(t *testing.T) {
	clearEnv()
	os.Setenv("INDEXPILOT_SERVER_ADDRESS", ":7070")
	os.Setenv("INDEXPILOT_DATABASE_URL", "postgres://env@localhost/env")
	os.Setenv("INDEXPILOT_STORAGE_BACKEND", "postgres")
	os.Setenv("INDEXPILOT_QUEUE_TICK_INTERVAL", "45s")
	os.Setenv("INDEXPILOT_QUEUE_POP_BATCH_SIZE", "10")
	os.Setenv("INDEXPILOT_CREDITS_INITIAL_GRANT", "5")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Address != ":7070" {
		t.Errorf("expected env address :7070, got %s", cfg.Server.Address)
	}
	if cfg.Storage.PostgresURL != "postgres://env@localhost/env" {
		t.Errorf("expected env postgres url, got %s", cfg.Storage.PostgresURL)
	}
	if cfg.Queue.TickInterval.Duration != 45*time.Second {
		t.Errorf("expected tick interval 45s, got %v", cfg.Queue.TickInterval.Duration)
	}
	if cfg.Queue.PopBatchSize != 10 {
		t.Errorf("expected pop batch size 10, got %d", cfg.Queue.PopBatchSize)
	}
	if cfg.Credits.InitialGrant != 5 {
		t.Errorf("expected initial grant 5, got %d", cfg.Credits.InitialGrant)
	}
}

func TestEnvOverrides_APIKeys(t *testing.T) {
	clearEnv()
	os.Setenv("INDEXPILOT_API_KEY_ENABLED", "true")
	os.Setenv("INDEXPILOT_API_KEY_ACME_MAIN", "user-42")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !cfg.APIKey.Enabled {
		t.Error("expected api keys enabled")
	}
	if got := cfg.APIKey.Keys["acme_main"]; got != "user-42" {
		t.Errorf("expected key acme_main -> user-42, got %q", got)
	}
}

func TestEnvOverrides_NotifyHeaders(t *testing.T) {
	clearEnv()
	os.Setenv("INDEXPILOT_NOTIFY_HEADER_X_SIGNING_SECRET", "topsecret")
	defer clearEnv()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := cfg.Notifications.Headers["X-Signing-Secret"]; got != "topsecret" {
		t.Errorf("expected canonical header X-Signing-Secret, got headers %v", cfg.Notifications.Headers)
	}
}

func TestNormalizeRoutePrefix(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"api", "/api"},
		{"/api/", "/api"},
		{" /v1 ", "/v1"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeRoutePrefix(tt.in); got != tt.want {
			t.Errorf("normalizeRoutePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
