package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { store.Stop() })
	return store
}

func seedSubmittedURL(t *testing.T, store *storage.MemoryStore, id string, submittedAgo time.Duration) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.GetUser(ctx, "u1"); err == storage.ErrNotFound {
		if err := store.CreateUser(ctx, storage.User{ID: "u1", Email: "u1@example.com", CreditBalance: 100}); err != nil {
			t.Fatalf("create user: %v", err)
		}
		if err := store.CreateProject(ctx, storage.Project{ID: "p1", UserID: "u1", Name: "site"}); err != nil {
			t.Fatalf("create project: %v", err)
		}
	}

	if err := store.CreateURLs(ctx, []storage.URL{{ID: id, ProjectID: "p1", Address: "https://example.com/" + id}}); err != nil {
		t.Fatalf("create urls: %v", err)
	}
	if err := store.DebitForURLs(ctx, "u1", []string{id}, "URL submission"); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := store.MarkURLSubmitted(ctx, id, time.Now().Add(-submittedAgo)); err != nil {
		t.Fatalf("mark submitted: %v", err)
	}
}

func TestRefundSweepReturnsCredit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedSubmittedURL(t, store, "expired", 15*24*time.Hour)
	seedSubmittedURL(t, store, "young", 2*24*time.Hour)

	balanceBefore, _ := store.GetBalance(ctx, "u1")

	sweeper := NewRefundSweeper(store, 14*24*time.Hour, nil, zerolog.Nop())
	refunded, err := sweeper.Run(ctx, time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if refunded != 1 {
		t.Fatalf("expected one refund, got %d", refunded)
	}

	balanceAfter, _ := store.GetBalance(ctx, "u1")
	if balanceAfter != balanceBefore+1 {
		t.Errorf("expected balance +1, got %d -> %d", balanceBefore, balanceAfter)
	}

	expired, _ := store.GetURL(ctx, "expired")
	if expired.Status != storage.URLStatusRecredited || !expired.CreditRefunded {
		t.Errorf("unexpected expired url state %+v", expired)
	}

	young, _ := store.GetURL(ctx, "young")
	if young.CreditRefunded {
		t.Errorf("young url must keep its debit, got %+v", young)
	}

	project, _ := store.GetProject(ctx, "p1")
	if project.FailedCount != 1 {
		t.Errorf("expected failed_count 1, got %d", project.FailedCount)
	}

	// The refund transaction carries the policy description
	transactions, _ := store.ListTransactions(ctx, "u1", 10)
	found := false
	for _, tx := range transactions {
		if tx.Description == RefundDescription && tx.Amount == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a refund transaction with the policy description, got %+v", transactions)
	}
}

func TestRefundSweepIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedSubmittedURL(t, store, "expired", 15*24*time.Hour)

	sweeper := NewRefundSweeper(store, 14*24*time.Hour, nil, zerolog.Nop())
	if _, err := sweeper.Run(ctx, time.Now()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	refunded, err := sweeper.Run(ctx, time.Now())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if refunded != 0 {
		t.Errorf("second run must refund nothing, got %d", refunded)
	}

	balance, _ := store.GetBalance(ctx, "u1")
	if balance != 100 {
		t.Errorf("expected balance restored exactly once, got %d", balance)
	}
}

func TestRefundSweepSkipsIndexedURLs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedSubmittedURL(t, store, "expired", 15*24*time.Hour)
	if err := store.RecordCheckResult(ctx, storage.CheckResult{
		URLID: "expired", Verdict: "yes", CheckMethod: "inspection", CheckedAt: time.Now(),
	}); err != nil {
		t.Fatalf("record check: %v", err)
	}

	sweeper := NewRefundSweeper(store, 14*24*time.Hour, nil, zerolog.Nop())
	refunded, err := sweeper.Run(ctx, time.Now())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if refunded != 0 {
		t.Errorf("indexed url must not be refunded, got %d", refunded)
	}
}
