// Package worker runs one blocking call per job on its own goroutine and
// hands the call's progress callbacks to a single consumer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrStalled is returned by Next when no progress arrived within the timeout.
	ErrStalled = errors.New("worker: no progress within timeout")
	// ErrFinished is returned by Next once the call returned and every
	// reported value has been consumed.
	ErrFinished = errors.New("worker: call finished")
)

// Func is a blocking call. report never blocks and may be called from any
// goroutine the call owns.
type Func[T any] func(ctx context.Context, report func(percent float64)) (T, error)

// Handle is the supervisor's side of a running call.
type Handle[T any] struct {
	cancel context.CancelFunc
	queue  *queue
	done   chan struct{}

	// set before done is closed
	result T
	err    error
}

// Start runs fn on a new goroutine. The call's context is derived from ctx
// and is canceled by Abandon.
func Start[T any](ctx context.Context, fn Func[T]) *Handle[T] {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{
		cancel: cancel,
		queue:  newQueue(),
		done:   make(chan struct{}),
	}
	go h.run(ctx, fn)
	return h
}

func (h *Handle[T]) run(ctx context.Context, fn Func[T]) {
	defer close(h.done)
	defer h.queue.close()
	defer func() {
		if r := recover(); r != nil {
			h.err = fmt.Errorf("worker crashed: %v", r)
		}
	}()
	h.result, h.err = fn(ctx, h.queue.push)
}

// Next returns the next reported percent, waiting at most timeout for it.
func (h *Handle[T]) Next(ctx context.Context, timeout time.Duration) (float64, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		v, ok, closed := h.queue.pop()
		if ok {
			return v, nil
		}
		if closed {
			return 0, ErrFinished
		}
		select {
		case <-h.queue.notify:
		case <-timer.C:
			return 0, ErrStalled
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Wait blocks until the call returns or ctx is done.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the call has returned.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Abandon cancels the call's context and stops tracking it. The goroutine
// exits whenever the call honours the cancellation.
func (h *Handle[T]) Abandon() {
	h.cancel()
}

// queue is an unbounded single-producer single-consumer handoff.
type queue struct {
	mu     sync.Mutex
	items  []float64
	closed bool
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(v float64) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (v float64, ok, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 {
		v = q.items[0]
		q.items = q.items[1:]
		return v, true, false
	}
	return 0, false, q.closed
}
