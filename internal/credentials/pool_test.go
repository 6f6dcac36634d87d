package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

func newTestPool(t *testing.T) (*Pool, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { store.Stop() })
	pool := NewPool(store, nil, nil, zerolog.Nop())
	return pool, store
}

func seedCredential(t *testing.T, store *storage.MemoryStore, id string, used int) {
	t.Helper()
	err := store.CreateCredential(context.Background(), storage.Credential{
		ID: id, Name: id, KeyData: "{}", DailyQuota: 200, UsedToday: used, IsActive: true,
	})
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
}

func TestAcquireLeastUsed(t *testing.T) {
	pool, store := newTestPool(t)
	ctx := context.Background()

	seedCredential(t, store, "busy", 150)
	seedCredential(t, store, "idle", 5)

	credential, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if credential.ID != "idle" {
		t.Errorf("expected least-used credential, got %s", credential.ID)
	}
}

func TestAcquireExhaustedPool(t *testing.T) {
	pool, store := newTestPool(t)
	ctx := context.Background()

	seedCredential(t, store, "spent", 200)

	_, err := pool.Acquire(ctx)
	if err != storage.ErrNoCredentials {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

func TestChargeIncrementsUsage(t *testing.T) {
	pool, store := newTestPool(t)
	ctx := context.Background()

	seedCredential(t, store, "c1", 0)
	if err := pool.Charge(ctx, "c1"); err != nil {
		t.Fatalf("charge: %v", err)
	}

	credential, _ := store.GetCredential(ctx, "c1")
	if credential.UsedToday != 1 {
		t.Errorf("expected used_today 1, got %d", credential.UsedToday)
	}
}

func TestHandleAPIStatusDisables(t *testing.T) {
	tests := []struct {
		status     int
		wantActive bool
	}{
		{401, false},
		{403, false},
		{429, false},
		{500, true}, // transient server errors never retire a key
		{200, true},
	}

	for _, tc := range tests {
		pool, store := newTestPool(t)
		ctx := context.Background()
		seedCredential(t, store, "c1", 0)

		pool.HandleAPIStatus(ctx, "c1", tc.status)

		credential, _ := store.GetCredential(ctx, "c1")
		if credential.IsActive != tc.wantActive {
			t.Errorf("status %d: expected active=%v, got %v", tc.status, tc.wantActive, credential.IsActive)
		}
	}
}

func TestResetAllReenablesQuotaDisabled(t *testing.T) {
	pool, store := newTestPool(t)
	ctx := context.Background()

	seedCredential(t, store, "c1", 200)
	pool.HandleAPIStatus(ctx, "c1", 429)

	if _, err := pool.ResetAll(ctx, time.Now()); err != nil {
		t.Fatalf("reset: %v", err)
	}

	credential, _ := store.GetCredential(ctx, "c1")
	if !credential.IsActive || credential.UsedToday != 0 {
		t.Errorf("expected re-enabled zeroed credential, got %+v", credential)
	}
}
