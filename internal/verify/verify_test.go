package verify

import (
	"context"
	"testing"
	"time"

	"github.com/IndexPilot/server/internal/probes"
	"github.com/IndexPilot/server/internal/storage"
	"github.com/rs/zerolog"
)

type stubChecker struct {
	results map[string]probes.Result // keyed by URL address
	calls   int
}

func (s *stubChecker) Check(ctx context.Context, rawURL string) probes.Result {
	s.calls++
	if result, ok := s.results[rawURL]; ok {
		return result
	}
	return probes.Result{Verdict: probes.VerdictUnknown, Probe: "fallback"}
}

type recordingNotifier struct {
	notified []string
}

func (r *recordingNotifier) NotifyIndexed(ctx context.Context, url storage.URL) error {
	r.notified = append(r.notified, url.ID)
	return nil
}

func newTestStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { store.Stop() })
	return store
}

func seedVerifyingURL(t *testing.T, store *storage.MemoryStore, id, address string, submittedAgo time.Duration) {
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

	if err := store.CreateURLs(ctx, []storage.URL{{ID: id, ProjectID: "p1", Address: address}}); err != nil {
		t.Fatalf("create urls: %v", err)
	}
	if err := store.MarkURLSubmitted(ctx, id, time.Now().Add(-submittedAgo)); err != nil {
		t.Fatalf("mark submitted: %v", err)
	}
}

func TestRunTierConfirmsIndexation(t *testing.T) {
	store := newTestStore(t)
	seedVerifyingURL(t, store, "url1", "https://example.com/hit", 2*time.Hour)
	seedVerifyingURL(t, store, "url2", "https://example.com/miss", 2*time.Hour)

	checker := &stubChecker{results: map[string]probes.Result{
		"https://example.com/hit": {Verdict: probes.VerdictYes, Probe: "inspection", Title: "Hit"},
	}}
	notifier := &recordingNotifier{}
	verifier := New(store, checker, notifier, nil, zerolog.Nop())

	tier := Tiers(Config{})["fresh"]
	confirmed := verifier.RunTier(context.Background(), time.Now(), tier)
	if confirmed != 1 {
		t.Fatalf("expected one confirmation, got %d", confirmed)
	}

	hit, _ := store.GetURL(context.Background(), "url1")
	if hit.Status != storage.URLStatusIndexed || !hit.IsIndexed || hit.IndexedAt == nil {
		t.Errorf("unexpected hit state %+v", hit)
	}
	if hit.IndexedTitle != "Hit" || hit.CheckMethod != "inspection" {
		t.Errorf("expected probe evidence persisted, got %+v", hit)
	}
	if hit.CheckCount != 1 {
		t.Errorf("expected check_count 1, got %d", hit.CheckCount)
	}

	miss, _ := store.GetURL(context.Background(), "url2")
	if miss.IsIndexed {
		t.Errorf("miss must not be indexed: %+v", miss)
	}
	if miss.CheckCount != 1 || miss.LastCheckedAt == nil {
		t.Errorf("expected check bookkeeping on miss, got %+v", miss)
	}

	if len(notifier.notified) != 1 || notifier.notified[0] != "url1" {
		t.Errorf("expected exactly one notification for url1, got %v", notifier.notified)
	}

	project, _ := store.GetProject(context.Background(), "p1")
	if project.IndexedCount != 1 {
		t.Errorf("expected project indexed_count 1, got %d", project.IndexedCount)
	}
}

func TestAuthoritativeNoMarksNotIndexed(t *testing.T) {
	store := newTestStore(t)
	seedVerifyingURL(t, store, "url1", "https://example.com/absent", 2*time.Hour)

	checker := &stubChecker{results: map[string]probes.Result{
		"https://example.com/absent": {Verdict: probes.VerdictNo, Probe: "inspection"},
	}}
	verifier := New(store, checker, nil, nil, zerolog.Nop())

	verifier.RunTier(context.Background(), time.Now(), Tiers(Config{})["fresh"])

	url, _ := store.GetURL(context.Background(), "url1")
	if url.Status != storage.URLStatusNotIndexed || !url.VerifiedNotIndexed {
		t.Errorf("expected not_indexed with the monotonic flag, got %+v", url)
	}
}

func TestNotIndexedURLRecovers(t *testing.T) {
	store := newTestStore(t)
	seedVerifyingURL(t, store, "url1", "https://example.com/late", 30*time.Hour)

	// First pass: the authoritative probe says no
	checker := &stubChecker{results: map[string]probes.Result{
		"https://example.com/late": {Verdict: probes.VerdictNo, Probe: "inspection"},
	}}
	notifier := &recordingNotifier{}
	verifier := New(store, checker, notifier, nil, zerolog.Nop())
	verifier.RunTier(context.Background(), time.Now(), Tiers(Config{})["aging"])

	// Second pass: the page appeared after all
	checker.results["https://example.com/late"] = probes.Result{Verdict: probes.VerdictYes, Probe: "inspection"}
	confirmed := verifier.RunTier(context.Background(), time.Now(), Tiers(Config{})["aging"])
	if confirmed != 1 {
		t.Fatalf("expected the late recovery confirmed, got %d", confirmed)
	}

	url, _ := store.GetURL(context.Background(), "url1")
	if url.Status != storage.URLStatusIndexed {
		t.Errorf("expected indexed, got %s", url.Status)
	}
	if !url.VerifiedNotIndexed {
		t.Errorf("the not-indexed observation is permanent history, got %+v", url)
	}
	if len(notifier.notified) != 1 {
		t.Errorf("expected exactly one notification, got %v", notifier.notified)
	}
}

func TestUnresolvedChecksPromoteOneStep(t *testing.T) {
	store := newTestStore(t)
	seedVerifyingURL(t, store, "url1", "https://example.com/slow", 8*time.Hour)

	checker := &stubChecker{}
	verifier := New(store, checker, nil, nil, zerolog.Nop())
	tier := Tiers(Config{})["recent"]

	// First inconclusive check: submitted advances only to indexing
	verifier.RunTier(context.Background(), time.Now(), tier)
	url, _ := store.GetURL(context.Background(), "url1")
	if url.Status != storage.URLStatusIndexing {
		t.Fatalf("expected indexing after first check, got %s", url.Status)
	}

	// Second inconclusive check: indexing advances to verifying
	verifier.RunTier(context.Background(), time.Now(), tier)
	url, _ = store.GetURL(context.Background(), "url1")
	if url.Status != storage.URLStatusVerifying {
		t.Fatalf("expected verifying after second check, got %s", url.Status)
	}

	// Further checks keep polling without another transition
	verifier.RunTier(context.Background(), time.Now(), tier)
	url, _ = store.GetURL(context.Background(), "url1")
	if url.Status != storage.URLStatusVerifying || url.CheckCount != 3 {
		t.Errorf("expected stable verifying with check_count 3, got status=%s count=%d", url.Status, url.CheckCount)
	}
}

func TestTierWindowsExcludeOutOfBandURLs(t *testing.T) {
	store := newTestStore(t)
	seedVerifyingURL(t, store, "young", "https://example.com/young", 2*time.Hour)
	seedVerifyingURL(t, store, "old", "https://example.com/old", 30*time.Hour)

	checker := &stubChecker{}
	verifier := New(store, checker, nil, nil, zerolog.Nop())

	// The recent tier covers 6-24h; neither URL qualifies
	verifier.RunTier(context.Background(), time.Now(), Tiers(Config{})["recent"])
	if checker.calls != 0 {
		t.Errorf("expected no checks in the 6-24h band, got %d", checker.calls)
	}

	// The aging tier picks up only the 30h-old URL
	verifier.RunTier(context.Background(), time.Now(), Tiers(Config{})["aging"])
	if checker.calls != 1 {
		t.Errorf("expected one check in the 1-3d band, got %d", checker.calls)
	}
}

func TestFreshTierHonorsCheckGap(t *testing.T) {
	store := newTestStore(t)
	seedVerifyingURL(t, store, "url1", "https://example.com/page", 2*time.Hour)

	checker := &stubChecker{}
	verifier := New(store, checker, nil, nil, zerolog.Nop())
	tier := Tiers(Config{})["fresh"]

	verifier.RunTier(context.Background(), time.Now(), tier)
	if checker.calls != 1 {
		t.Fatalf("expected first check, got %d", checker.calls)
	}

	// Immediately after, the gap keeps the URL out of the sweep
	verifier.RunTier(context.Background(), time.Now(), tier)
	if checker.calls != 1 {
		t.Errorf("expected the check gap to skip the url, got %d calls", checker.calls)
	}
}

func TestTiersCoverTenDays(t *testing.T) {
	tiers := Tiers(Config{})
	if len(tiers) != 5 {
		t.Fatalf("expected five tiers, got %d", len(tiers))
	}
	if tiers["final"].Window.MaxAge != 10*24*time.Hour {
		t.Errorf("expected the final tier to reach day 10, got %v", tiers["final"].Window.MaxAge)
	}
	if tiers["fresh"].Window.Limit != 100 {
		t.Errorf("expected fresh tier default limit 100, got %d", tiers["fresh"].Window.Limit)
	}
}
