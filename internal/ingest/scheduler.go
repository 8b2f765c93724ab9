package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrCycleInFlight is returned when a cycle is requested while another
	// one is still running.
	ErrCycleInFlight = errors.New("ingest: cycle already in flight")

	// ErrNotRunning is returned by Trigger before Run has started.
	ErrNotRunning = errors.New("ingest: scheduler not running")
)

// Work is one unit of scheduled work.
type Work func(ctx context.Context)

// Scheduler runs a unit of work on a fixed interval, never more than one at
// a time.
type Scheduler interface {
	// Run blocks until ctx is done, invoking work immediately and then every
	// interval.
	Run(ctx context.Context, interval time.Duration, work Work) error

	// Trigger requests an extra run outside the interval.
	Trigger() error
}

// TickerScheduler is a single-flight Scheduler on top of time.Ticker. Work
// runs on its own goroutine while the loop keeps receiving ticks; a tick that
// lands while work is in flight is deferred and fires as soon as that work
// returns. Several deferred ticks collapse into one run.
type TickerScheduler struct {
	inFlight atomic.Bool
	running  atomic.Bool
	trigger  chan struct{}

	deferred atomic.Uint64
	runs     atomic.Uint64
}

// NewTickerScheduler creates an idle scheduler.
func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{trigger: make(chan struct{}, 1)}
}

// Run implements Scheduler. It returns ctx.Err() once the in-flight run, if
// any, has finished.
func (s *TickerScheduler) Run(ctx context.Context, interval time.Duration, work Work) error {
	if interval <= 0 {
		return fmt.Errorf("ingest: interval must be positive, got %v", interval)
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("ingest: scheduler already running")
	}
	defer s.running.Store(false)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// done may still hold the signal of an earlier run when a later one is
	// in flight, so shutdown waits on wg rather than on done.
	var wg sync.WaitGroup
	done := make(chan struct{}, 1)
	pending := false

	start := func() {
		if !s.inFlight.CompareAndSwap(false, true) {
			pending = true
			s.deferred.Add(1)
			return
		}
		s.runs.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				s.inFlight.Store(false)
				select {
				case done <- struct{}{}:
				case <-ctx.Done():
				}
			}()
			work(ctx)
		}()
	}

	start()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			start()
		case <-s.trigger:
			start()
		case <-done:
			// A stale signal while a newer run is in flight leaves pending
			// for that run's own signal.
			if pending && !s.inFlight.Load() {
				pending = false
				start()
			}
		}
	}
}

// Trigger implements Scheduler. A trigger while work is in flight returns
// ErrCycleInFlight and is not queued.
func (s *TickerScheduler) Trigger() error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	if s.inFlight.Load() {
		return ErrCycleInFlight
	}
	select {
	case s.trigger <- struct{}{}:
	default:
		// a trigger is already queued
	}
	return nil
}

// InFlight reports whether work is currently running.
func (s *TickerScheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Runs returns how many times work has been started.
func (s *TickerScheduler) Runs() uint64 {
	return s.runs.Load()
}

// Deferred returns how many ticks arrived while work was in flight.
func (s *TickerScheduler) Deferred() uint64 {
	return s.deferred.Load()
}
