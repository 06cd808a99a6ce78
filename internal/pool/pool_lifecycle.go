package pool

import (
	"context"
	"fmt"

	"github.com/oriys/storecache/internal/observability"
	"go.opentelemetry.io/otel/trace"
)

// Release gives c back. The oldest waiter receives it directly; otherwise
// it returns to the idle list, or is destroyed when the idle list is full
// or the pool is closed. Releasing a connection that is not active is a
// no-op.
func (p *Pool[T]) Release(c *Conn[T]) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if c.state != StateActive {
		p.mu.Unlock()
		p.log.Warn("release of inactive connection ignored", "conn_id", c.ID, "state", c.state.String())
		return
	}
	if p.closed {
		p.active--
		p.mu.Unlock()
		p.destroy(c)
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		w.ch <- grant[T]{conn: c}
		p.mu.Unlock()
		return
	}
	if len(p.idle) < p.cfg.MaxConnections {
		p.active--
		c.state = StateIdle
		p.idle = append(p.idle, c)
		p.mu.Unlock()
		return
	}
	p.active--
	p.mu.Unlock()
	p.destroy(c)
}

// Discard destroys a broken connection instead of returning it, freeing its
// slot for the next waiter.
func (p *Pool[T]) Discard(c *Conn[T]) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if c.state != StateActive {
		p.mu.Unlock()
		return
	}
	c.state = StateClosed
	p.active--
	p.grantSlotLocked()
	p.mu.Unlock()

	p.log.Info("connection discarded", "conn_id", c.ID)
	p.destroy(c)
}

// Close destroys idle handles and fails pending waiters with ErrClosed.
// Handles still in use are destroyed when released.
func (p *Pool[T]) Close() {
	p.stopWarmer()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.ch <- grant[T]{err: ErrClosed}
	}
	for _, c := range idle {
		p.destroy(c)
	}
	p.log.Info("pool closed", "destroyed_idle", len(idle), "failed_waiters", len(waiters))
}

// WithConnection acquires a handle, runs op with it and releases it on every
// exit path, including a panic in op.
func WithConnection[T, R any](ctx context.Context, p *Pool[T], op func(context.Context, T) (R, error)) (R, error) {
	var zero R
	c, err := p.Acquire(ctx)
	if err != nil {
		return zero, fmt.Errorf("acquire %s connection: %w", p.name, err)
	}
	defer p.Release(c)

	trace.SpanFromContext(ctx).SetAttributes(observability.AttrPoolConnID.String(c.ID.String()))
	return op(ctx, c.Handle)
}
