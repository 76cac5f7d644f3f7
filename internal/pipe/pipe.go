// Package pipe provides the two synchronisation primitives the
// connection core is built on: a one-shot latch with observable state
// (Deferred) and a FIFO rendezvous channel whose writers can observe
// when their value has been consumed (Pipe).
package pipe

import (
	"context"
	"errors"
	"sync"
)

// ErrAborted is returned by Read when the abort channel fires before a
// value arrives.
var ErrAborted = errors.New("pipe: aborted")

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

type pendingWrite[T any] struct {
	v    T
	done chan struct{}
}

type pendingRead[T any] struct {
	ch chan T // capacity 1; at most one value is ever delivered
}

// Pipe is an unbounded FIFO of writes paired with a FIFO of pending
// reads. Write hands its value directly to the head waiting reader when
// one exists, otherwise queues the value; the returned channel closes
// once a reader has consumed it, which is how the caller applies
// backpressure. Read is symmetric.
//
// The connection core uses a Pipe in two places: the synchronous-message
// slot (the dispatcher awaits each write's done channel, bounding it to
// one in-flight message) and the lock queue (which holds at most one
// token, handed to waiters strictly in arrival order).
type Pipe[T any] struct {
	mu     sync.Mutex
	writes []*pendingWrite[T]
	reads  []*pendingRead[T]
}

// NewPipe returns an empty Pipe.
func NewPipe[T any]() *Pipe[T] {
	return &Pipe[T]{}
}

// Write delivers v to the oldest waiting reader, or queues it if none is
// waiting. The returned channel is closed once a reader has taken v; for
// a direct handoff it is already closed.
func (p *Pipe[T]) Write(v T) <-chan struct{} {
	p.mu.Lock()
	if len(p.reads) > 0 {
		r := p.reads[0]
		p.reads = p.reads[1:]
		p.mu.Unlock()
		r.ch <- v
		return closedChan
	}
	w := &pendingWrite[T]{v: v, done: make(chan struct{})}
	p.writes = append(p.writes, w)
	p.mu.Unlock()
	return w.done
}

// Read returns the oldest queued value, or blocks until one is written.
// It unblocks with ctx.Err() on context cancellation and ErrAborted when
// the abort channel closes; a nil abort channel never fires.
func (p *Pipe[T]) Read(ctx context.Context, abort <-chan struct{}) (T, error) {
	p.mu.Lock()
	if len(p.writes) > 0 {
		w := p.writes[0]
		p.writes = p.writes[1:]
		p.mu.Unlock()
		close(w.done)
		return w.v, nil
	}
	r := &pendingRead[T]{ch: make(chan T, 1)}
	p.reads = append(p.reads, r)
	p.mu.Unlock()

	select {
	case v := <-r.ch:
		return v, nil
	case <-ctx.Done():
		return p.cancelRead(r, ctx.Err())
	case <-abort:
		return p.cancelRead(r, ErrAborted)
	}
}

// TryRead takes the oldest queued value without blocking.
func (p *Pipe[T]) TryRead() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.writes) == 0 {
		var zero T
		return zero, false
	}
	w := p.writes[0]
	p.writes = p.writes[1:]
	close(w.done)
	return w.v, true
}

// Len reports the number of queued, unconsumed writes.
func (p *Pipe[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.writes)
}

// cancelRead removes r from the pending-reader queue. If a writer handed
// r a value in the same instant, the value wins: it is returned instead
// of the cancellation so no write is ever silently dropped.
func (p *Pipe[T]) cancelRead(r *pendingRead[T], cause error) (T, error) {
	p.mu.Lock()
	for i, q := range p.reads {
		if q == r {
			p.reads = append(p.reads[:i:i], p.reads[i+1:]...)
			p.mu.Unlock()
			var zero T
			return zero, cause
		}
	}
	p.mu.Unlock()
	return <-r.ch, nil
}
