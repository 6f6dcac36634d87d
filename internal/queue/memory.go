package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements all three queue facets with in-process state.
// Development and tests only.
type MemoryBackend struct {
	mu sync.Mutex

	jobs    []scheduledJob
	windows map[string]*rateWindow
	locks   map[string]time.Time
}

type scheduledJob struct {
	job     Job
	readyAt time.Time
}

type rateWindow struct {
	start time.Time
	count int
}

// NewMemoryBackend creates an in-memory queue backend.
func NewMemoryBackend() *Backend {
	b := &MemoryBackend{
		windows: make(map[string]*rateWindow),
		locks:   make(map[string]time.Time),
	}
	return &Backend{Jobs: b, Limiter: b, Locker: b}
}

// Push schedules a job.
func (b *MemoryBackend) Push(ctx context.Context, job Job, readyAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.jobs = append(b.jobs, scheduledJob{job: job, readyAt: readyAt})
	return nil
}

// Pop atomically removes and returns up to limit eligible jobs.
func (b *MemoryBackend) Pop(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sort.SliceStable(b.jobs, func(i, j int) bool {
		return b.jobs[i].readyAt.Before(b.jobs[j].readyAt)
	})

	var popped []Job
	kept := b.jobs[:0]
	for _, sj := range b.jobs {
		if len(popped) < limit && !sj.readyAt.After(now) {
			popped = append(popped, sj.job)
			continue
		}
		kept = append(kept, sj)
	}
	b.jobs = kept
	return popped, nil
}

// Depth returns the number of queued jobs, eligible or not.
func (b *MemoryBackend) Depth(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs), nil
}

// Allow consumes one slot in the method window.
func (b *MemoryBackend) Allow(ctx context.Context, method string) (bool, error) {
	limit, limited := RateLimit(method)
	if !limited {
		return true, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	w, ok := b.windows[method]
	if !ok || now.Sub(w.start) >= RateWindow {
		b.windows[method] = &rateWindow{start: now, count: 1}
		return true, nil
	}
	w.count++
	return w.count <= limit, nil
}

// TryLock acquires a short exclusive URL lock.
func (b *MemoryBackend) TryLock(ctx context.Context, urlID string, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if expiry, held := b.locks[urlID]; held && expiry.After(now) {
		return false, nil
	}
	b.locks[urlID] = now.Add(ttl)
	return true, nil
}

// Unlock releases a URL lock early.
func (b *MemoryBackend) Unlock(ctx context.Context, urlID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.locks, urlID)
	return nil
}

// Close is a no-op for the memory backend.
func (b *MemoryBackend) Close() error {
	return nil
}
