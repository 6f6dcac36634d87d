// Package scheduler runs the background jobs on their clocks: fixed
// intervals for the rolling sweeps and fixed UTC hours for the daily jobs.
// Workers only react to ticks; all timing lives here.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type job struct {
	name string
	fn   func(ctx context.Context)

	interval time.Duration // interval jobs
	atHour   int           // daily jobs, UTC hour
	daily    bool
}

// Scheduler owns the background job clocks.
type Scheduler struct {
	logger zerolog.Logger
	jobs   []job

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates an empty scheduler.
func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Every registers a job that runs on a fixed interval. The first run happens
// one interval after Start, not immediately.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context)) {
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
}

// DailyAt registers a job that runs once a day at the given UTC hour.
func (s *Scheduler) DailyAt(name string, hourUTC int, fn func(ctx context.Context)) {
	s.jobs = append(s.jobs, job{name: name, atHour: hourUTC, daily: true, fn: fn})
}

// Start launches one goroutine per registered job.
func (s *Scheduler) Start() {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(j)
	}
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler.started")
}

// Stop halts all job clocks and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Scheduler) runJob(j job) {
	defer s.wg.Done()

	for {
		var wait time.Duration
		if j.daily {
			wait = untilNextHour(time.Now().UTC(), j.atHour)
		} else {
			wait = j.interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.invoke(j)
		}
	}
}

// invoke runs one job, containing panics so a broken job never takes the
// process down with it.
func (s *Scheduler) invoke(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job", j.name).
				Interface("panic", r).
				Msg("scheduler.job_panicked")
		}
	}()

	started := time.Now()
	j.fn(context.Background())
	s.logger.Debug().
		Str("job", j.name).
		Dur("duration", time.Since(started)).
		Msg("scheduler.job_completed")
}

// untilNextHour returns the wait until the next occurrence of the given UTC
// hour, strictly in the future.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
