// Package upstream provides the anti-corruption layer between the Impact
// Weather domain logic and the upstream HTTP APIs. All outbound calls are
// routed through a single process-wide Scheduler that enforces a global
// concurrency ceiling and a minimum spacing between task starts, and through
// a Client that enforces consistent resilience patterns: circuit breaking,
// retries with exponential backoff and jitter, and error mapping.
package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"impactweather/internal/types"
)

// queueDepth bounds the pending-task queue. Enqueueing blocks once the queue
// is full, which only happens under sustained bursts far above the
// concurrency ceiling.
const queueDepth = 1024

// Task is a zero-argument operation executed by the Scheduler.
type Task func() (*http.Response, error)

type taskResult struct {
	resp *http.Response
	err  error
}

type pendingTask struct {
	ctx  context.Context
	run  Task
	done chan taskResult
}

// Scheduler serializes task starts through a single dispatcher goroutine:
// tasks start in strict FIFO arrival order, at most maxConcurrent run at any
// moment, and consecutive starts are separated by at least minSpacing. Both
// limits are global across every caller holding a reference to the Scheduler.
//
// A started task runs to completion or failure; there is no mid-flight
// cancellation. A caller may stop awaiting a result (context cancellation),
// but the task still consumes its concurrency slot until it settles.
type Scheduler struct {
	minSpacing time.Duration
	queue      chan *pendingTask
	sem        *semaphore.Weighted
	clock      types.Clock
	sleepFn    func(time.Duration)
	logger     *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// SchedulerOption is a functional option for configuring a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the clock used for spacing decisions.
func WithSchedulerClock(clock types.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = clock }
}

// WithSchedulerSleepFunc overrides the sleep used to honor spacing. Intended
// for tests.
func WithSchedulerSleepFunc(fn func(time.Duration)) SchedulerOption {
	return func(s *Scheduler) { s.sleepFn = fn }
}

// NewScheduler creates a Scheduler with the given concurrency ceiling and
// minimum start spacing, and starts its dispatcher goroutine.
func NewScheduler(maxConcurrent int, minSpacing time.Duration, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		minSpacing: minSpacing,
		queue:      make(chan *pendingTask, queueDepth),
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		clock:      types.RealClock{},
		sleepFn:    time.Sleep,
		logger:     logger,
		closed:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.dispatch()

	return s
}

// Schedule enqueues the task and blocks until it settles or ctx is done.
// If ctx is cancelled before the task starts, the task is skipped; once the
// task has started, cancellation only abandons the wait, not the task.
func (s *Scheduler) Schedule(ctx context.Context, task Task) (*http.Response, error) {
	p := &pendingTask{
		ctx:  ctx,
		run:  task,
		done: make(chan taskResult, 1),
	}

	select {
	case s.queue <- p:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, types.NewAppError(types.ErrCodeSchedulerClosed, "scheduler is closed", nil)
	}

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
		// The result, if any, lands in the buffered done channel and is
		// dropped. An in-flight task keeps its slot until it settles.
		return nil, ctx.Err()
	case <-s.closed:
		return nil, types.NewAppError(types.ErrCodeSchedulerClosed, "scheduler is closed", nil)
	}
}

// Close stops the dispatcher. Tasks already started run to completion;
// callers still enqueued or awaiting a result settle with a
// scheduler-closed error.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// dispatch is the single goroutine that owns the queue head, the spacing
// state, and slot acquisition. Because only this goroutine mutates
// lastStart, no further synchronization is needed.
func (s *Scheduler) dispatch() {
	var lastStart time.Time

	for {
		select {
		case <-s.closed:
			return
		case p := <-s.queue:
			// Skip tasks whose caller gave up before the start.
			if p.ctx.Err() != nil {
				p.done <- taskResult{err: p.ctx.Err()}
				continue
			}

			// Head-of-line blocking is intentional: FIFO start order means
			// the next task cannot start before this one.
			if err := s.sem.Acquire(p.ctx, 1); err != nil {
				p.done <- taskResult{err: err}
				continue
			}

			if !lastStart.IsZero() {
				if wait := s.minSpacing - s.clock.Now().Sub(lastStart); wait > 0 {
					s.sleepFn(wait)
				}
			}
			lastStart = s.clock.Now()

			go func(p *pendingTask) {
				defer s.sem.Release(1)
				resp, err := p.run()
				p.done <- taskResult{resp: resp, err: err}
			}(p)
		}
	}
}
