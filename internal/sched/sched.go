// Package sched runs blocking calls on a small, run-scoped worker pool.
//
// A run owns one Scheduler. Work is submitted as a function and observed
// through a Future, so the caller can keep composing work (matching the
// previous thread, queueing the next fetch) while a call is in flight. The
// first failing task cancels the scheduler's context, and with it every task
// still queued.
package sched

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("scheduler closed")

type Scheduler struct {
	g     *errgroup.Group
	ctx   context.Context
	tasks chan func(context.Context) error

	mu     sync.Mutex
	closed bool
}

// New starts workers goroutines bound to ctx. workers < 1 means one.
func New(ctx context.Context, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	s := &Scheduler{
		g:     g,
		ctx:   gctx,
		tasks: make(chan func(context.Context) error, workers),
	}
	for i := 0; i < workers; i++ {
		g.Go(s.work)
	}
	return s
}

func (s *Scheduler) work() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case task, ok := <-s.tasks:
			if !ok {
				return nil
			}
			if err := task(s.ctx); err != nil {
				return err
			}
		}
	}
}

// Context is canceled when the parent is, or when a task fails.
func (s *Scheduler) Context() context.Context { return s.ctx }

// Close stops accepting work. Queued tasks still run.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.tasks)
}

// Wait closes the scheduler and blocks until every worker exits. It returns
// the first task error.
func (s *Scheduler) Wait() error {
	s.Close()
	return s.g.Wait()
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	sctx context.Context
	done chan struct{}
	val  T
	err  error
}

// Await blocks until the task finished or ctx (or the scheduler) is done.
// A task abandoned because another one failed reports that failure.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-f.sctx.Done():
		select {
		case <-f.done:
			return f.val, f.err
		default:
		}
		return zero, context.Cause(f.sctx)
	}
}

// Submit queues fn. It blocks while the queue is full.
func Submit[T any](s *Scheduler, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{sctx: s.ctx, done: make(chan struct{})}
	task := func(ctx context.Context) error {
		defer close(f.done)
		f.val, f.err = fn(ctx)
		return f.err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		f.err = ErrClosed
		close(f.done)
		return f
	}
	select {
	case s.tasks <- task:
	case <-s.ctx.Done():
		f.err = context.Cause(s.ctx)
		close(f.done)
	}
	return f
}
