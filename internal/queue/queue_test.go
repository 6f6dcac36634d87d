package queue

import (
	"context"
	"testing"
	"time"
)

func TestMethodDelays(t *testing.T) {
	tests := []struct {
		method string
		want   time.Duration
	}{
		{MethodIndexNow, 0},
		{MethodPingomatic, 2 * time.Minute},
		{MethodWebSub, 4 * time.Minute},
		{MethodArchiveOrg, 8 * time.Minute},
		{MethodBacklinkPing, 12 * time.Minute},
		{MethodGoogleAPI, 30 * time.Minute},
	}
	for _, tc := range tests {
		if got := MethodDelay(tc.method); got != tc.want {
			t.Errorf("%s: expected delay %v, got %v", tc.method, tc.want, got)
		}
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{4, time.Hour}, // capped
		{10, time.Hour},
	}
	for _, tc := range tests {
		if got := RetryDelay(tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}
}

func TestPopRespectsReadyTime(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	now := time.Now()

	if err := b.Jobs.Push(ctx, Job{URLID: "u1", Method: MethodIndexNow}, now); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := b.Jobs.Push(ctx, Job{URLID: "u2", Method: MethodGoogleAPI}, now.Add(30*time.Minute)); err != nil {
		t.Fatalf("push: %v", err)
	}

	jobs, err := b.Jobs.Pop(ctx, now, 50)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(jobs) != 1 || jobs[0].URLID != "u1" {
		t.Fatalf("expected only the eligible job, got %+v", jobs)
	}

	// The future job surfaces once its ready time passes
	jobs, err = b.Jobs.Pop(ctx, now.Add(31*time.Minute), 50)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if len(jobs) != 1 || jobs[0].URLID != "u2" {
		t.Fatalf("expected the delayed job, got %+v", jobs)
	}

	depth, _ := b.Jobs.Depth(ctx)
	if depth != 0 {
		t.Errorf("expected empty queue, depth %d", depth)
	}
}

func TestPopIsExclusive(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		if err := b.Jobs.Push(ctx, Job{URLID: "u", Method: MethodIndexNow, Attempt: i}, now); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	first, _ := b.Jobs.Pop(ctx, now, 6)
	second, _ := b.Jobs.Pop(ctx, now, 6)
	if len(first)+len(second) != 10 {
		t.Errorf("expected all 10 jobs across pops, got %d and %d", len(first), len(second))
	}
}

func TestPopOrdersByReadyTime(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	now := time.Now()

	b.Jobs.Push(ctx, Job{URLID: "late"}, now.Add(-time.Minute))
	b.Jobs.Push(ctx, Job{URLID: "early"}, now.Add(-time.Hour))

	jobs, _ := b.Jobs.Pop(ctx, now, 1)
	if len(jobs) != 1 || jobs[0].URLID != "early" {
		t.Errorf("expected the oldest ready job first, got %+v", jobs)
	}
}

func TestLimiterWindow(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	limit, limited := RateLimit(MethodArchiveOrg)
	if !limited {
		t.Fatal("archive_org should be window limited")
	}

	for i := 0; i < limit; i++ {
		ok, err := b.Limiter.Allow(ctx, MethodArchiveOrg)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("call %d rejected under the limit", i+1)
		}
	}

	ok, err := b.Limiter.Allow(ctx, MethodArchiveOrg)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Error("call over the window limit should be rejected")
	}
}

func TestGoogleAPIHasNoWindowLimit(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	// Throttled by credential quota, not by the window limiter
	for i := 0; i < 500; i++ {
		ok, err := b.Limiter.Allow(ctx, MethodGoogleAPI)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("google_api rejected at call %d", i+1)
		}
	}
}

func TestURLLock(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	ok, err := b.Locker.TryLock(ctx, "url-1", 120*time.Second)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !ok {
		t.Fatal("first lock should succeed")
	}

	ok, _ = b.Locker.TryLock(ctx, "url-1", 120*time.Second)
	if ok {
		t.Error("second lock on the same url should fail")
	}

	if err := b.Locker.Unlock(ctx, "url-1"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	ok, _ = b.Locker.TryLock(ctx, "url-1", 120*time.Second)
	if !ok {
		t.Error("lock should succeed after release")
	}
}

func TestURLLockExpires(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if ok, _ := b.Locker.TryLock(ctx, "url-1", time.Millisecond); !ok {
		t.Fatal("first lock should succeed")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := b.Locker.TryLock(ctx, "url-1", time.Minute); !ok {
		t.Error("expired lock should be reacquirable")
	}
}

func TestNewBackendValidation(t *testing.T) {
	if _, err := New(Config{Backend: "memory"}); err != nil {
		t.Errorf("memory backend: %v", err)
	}
	if _, err := New(Config{Backend: "redis"}); err == nil {
		t.Error("redis backend without URL should fail")
	}
	if _, err := New(Config{Backend: "postgres"}); err == nil {
		t.Error("postgres backend without URL should fail")
	}
	if _, err := New(Config{Backend: "bogus"}); err == nil {
		t.Error("unknown backend should fail")
	}
}
