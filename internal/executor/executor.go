// Package executor runs blocking radio operations off the caller's goroutine on a bounded pool and
// hands results back through a Future.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the number of operations a Pool executes concurrently when no size is given. A
// connection needs at most one reader, one writer and one connect/discovery task at a time.
const DefaultSize = 4

var ErrClosed = errors.New("executor: pool closed")

// ErrPanic wraps the value recovered from a task that panicked.
var ErrPanic = errors.New("executor: task panicked")

// Pool executes submitted tasks on background goroutines, never running more than its size at once.
// Tasks beyond the limit wait for a slot in submission order.
type Pool struct {
	sem      *semaphore.Weighted
	size     int
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lock     sync.Mutex
	closed   bool
	pending  atomic.Int64
	running  atomic.Int64
	finished atomic.Int64
}

// New returns a Pool that runs up to size tasks concurrently. Non-positive sizes select
// DefaultSize.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		size:   size,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// InFlight returns the number of submitted tasks that have not completed, including tasks waiting
// for a slot.
func (p *Pool) InFlight() int {
	return int(p.pending.Load() + p.running.Load())
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Completed returns the number of tasks that have finished since the pool was created.
func (p *Pool) Completed() int {
	return int(p.finished.Load())
}

// Close rejects new tasks, cancels the context passed to queued and running tasks, and waits for
// running tasks to return. Tasks blocked in calls that ignore their context (such as a read on a
// socket) must be unblocked by the caller, typically by closing the socket first.
func (p *Pool) Close() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	p.lock.Unlock()
	p.cancel()
	p.wg.Wait()
}

// Submit schedules fn on p and returns a Future for its result. If p is closed the Future resolves
// immediately with ErrClosed.
func Submit[T any](p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	var zero T
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return Resolved(zero, ErrClosed)
	}
	p.wg.Add(1)
	p.pending.Add(1)
	p.lock.Unlock()

	f := newFuture[T]()
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.pending.Add(-1)
			f.resolve(zero, ErrClosed)
			return
		}
		p.pending.Add(-1)
		p.running.Add(1)
		value, err := run(p.ctx, fn)
		p.running.Add(-1)
		p.finished.Add(1)
		p.sem.Release(1)
		f.resolve(value, err)
	}()
	return f
}

func run[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			value, err = zero, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn(ctx)
}

// Future holds the eventual result of a task.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future that has already completed. It is used for operations rejected before
// any work is scheduled.
func Resolved[T any](value T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(value, err)
	return f
}

func (f *Future[T]) resolve(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Done returns a channel that is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx expires. Expiry of ctx does not cancel the
// underlying task.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the result without blocking. ok is false if the task has not completed.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// Then registers fn to be called with the result once it is available. fn runs on its own
// goroutine.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.value, f.err)
	}()
}
