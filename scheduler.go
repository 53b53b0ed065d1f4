package splice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// FinalizeFunc runs one finalize attempt for name.
type FinalizeFunc func(ctx context.Context, name string) error

// Scheduler runs finalize work off the request path.
//
// At most workers finalizations run at once, and concurrent requests for the
// same name share a single run. Failed runs are retried with backoff unless
// the error says another finalizer won or the session is incomplete.
type Scheduler struct {
	run      FinalizeFunc
	timeout  time.Duration
	attempts int
	backoff  time.Duration

	sem    *semaphore.Weighted
	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// SchedulerConfig holds options for NewScheduler.
type SchedulerConfig struct {
	Workers  int           // Concurrent finalizations (default: 4)
	Timeout  time.Duration // Per-attempt timeout (default: 10m)
	Attempts int           // Attempts per scheduled name (default: 3)
	Backoff  time.Duration // Delay before the first retry, doubled each time (default: 1s)
}

func NewScheduler(run FinalizeFunc, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		run:      run,
		timeout:  cfg.Timeout,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule queues a finalize for name and returns immediately. It returns
// false once the scheduler is closed.
func (s *Scheduler) Schedule(name string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		_, _, _ = s.flight.Do(name, func() (any, error) {
			return nil, s.runWithRetry(name)
		})
	}()

	return true
}

func (s *Scheduler) runWithRetry(name string) error {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		slog.Warn("finalize dropped", "name", name, "error", err)
		return err
	}
	defer s.sem.Release(1)

	delay := s.backoff
	var err error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err = s.runOnce(name)
		if err == nil || errors.Is(err, ErrRaceLost) || errors.Is(err, ErrIncomplete) {
			return err
		}

		slog.Warn("finalize attempt failed", "name", name, "attempt", attempt, "error", err)
		if attempt == s.attempts {
			break
		}

		select {
		case <-time.After(delay):
			delay *= 2
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}

	slog.Error("finalize gave up", "name", name, "attempts", s.attempts, "error", err)
	return err
}

func (s *Scheduler) runOnce(name string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	return s.run(ctx, name)
}

// Close stops accepting work and waits for queued finalizations. If ctx ends
// first, in-flight work is cancelled and Close returns ctx.Err() after it
// has stopped.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
