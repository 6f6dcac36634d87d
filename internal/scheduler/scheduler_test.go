package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestIntervalJobRuns(t *testing.T) {
	var runs atomic.Int32

	s := New(zerolog.Nop())
	s.Every("tick", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})
	s.Start()

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if got := runs.Load(); got < 3 {
		t.Errorf("expected several runs, got %d", got)
	}
}

func TestStopHaltsJobs(t *testing.T) {
	var runs atomic.Int32

	s := New(zerolog.Nop())
	s.Every("tick", 10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	settled := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != settled {
		t.Errorf("job kept running after stop: %d -> %d", settled, got)
	}
}

func TestPanickingJobIsContained(t *testing.T) {
	var healthyRuns atomic.Int32

	s := New(zerolog.Nop())
	s.Every("broken", 10*time.Millisecond, func(ctx context.Context) {
		panic("boom")
	})
	s.Every("healthy", 10*time.Millisecond, func(ctx context.Context) {
		healthyRuns.Add(1)
	})
	s.Start()

	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if got := healthyRuns.Load(); got < 3 {
		t.Errorf("healthy job starved by a panicking sibling, got %d runs", got)
	}
}

func TestUntilNextHour(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Duration
	}{
		{
			"later today",
			time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC),
			6,
			2 * time.Hour,
		},
		{
			"already passed rolls to tomorrow",
			time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
			6,
			21*time.Hour + 30*time.Minute,
		},
		{
			"exactly now rolls to tomorrow",
			time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC),
			6,
			24 * time.Hour,
		},
		{
			"midnight job",
			time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC),
			0,
			time.Hour,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := untilNextHour(tc.now, tc.hour); got != tc.want {
				t.Errorf("untilNextHour(%v, %d) = %v, want %v", tc.now, tc.hour, got, tc.want)
			}
		})
	}
}
