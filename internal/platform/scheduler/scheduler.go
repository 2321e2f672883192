package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/rs/zerolog"
)

type task struct {
	name     string
	interval time.Duration
	run      func(context.Context)
	busy     atomic.Bool
}

// Scheduler runs fixed-rate tasks and one-off jobs on a bounded worker
// pool. A task whose previous run is still in flight skips that tick.
type Scheduler struct {
	logger zerolog.Logger
	pool   sizedwaitgroup.SizedWaitGroup

	mu      sync.Mutex
	tasks   []*task
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	tickers sync.WaitGroup
}

func New(logger zerolog.Logger, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		pool:   sizedwaitgroup.New(workers),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Every registers a periodic task. Tasks registered after Start begin
// immediately.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(context.Context)) {
	t := &task{name: name, interval: interval, run: fn}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	started := s.started
	s.mu.Unlock()
	if started {
		s.startTicker(t)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		s.startTicker(t)
	}
}

func (s *Scheduler) startTicker(t *task) {
	s.tickers.Add(1)
	go func() {
		defer s.tickers.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !t.busy.CompareAndSwap(false, true) {
					continue
				}
				if !s.dispatch(t.name, func(ctx context.Context) {
					defer t.busy.Store(false)
					t.run(ctx)
				}) {
					t.busy.Store(false)
				}
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// Go runs fn once on the worker pool. It reports false when the scheduler
// is stopping and the job was not accepted.
func (s *Scheduler) Go(name string, fn func(context.Context)) bool {
	return s.dispatch(name, fn)
}

func (s *Scheduler) dispatch(name string, fn func(context.Context)) bool {
	if s.ctx.Err() != nil {
		return false
	}
	if err := s.pool.AddWithContext(s.ctx); err != nil {
		return false
	}
	go func() {
		defer s.pool.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Str("task", name).Msg("scheduled task panicked")
			}
		}()
		fn(s.ctx)
	}()
	return true
}

// Stop cancels all tickers and waits up to timeout for in-flight work.
// It reports whether every worker finished in time.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.cancel()
	s.tickers.Wait()

	done := make(chan struct{})
	go func() {
		s.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.logger.Warn().Dur("timeout", timeout).Msg("scheduler workers did not finish; abandoning")
		return false
	}
}
