package pool

import (
	"context"
	"time"

	"github.com/oriys/storecache/internal/observability"
)

// Acquire returns an idle handle, opens a new one while below
// MaxConnections, or waits for a Release. Waiters are served in arrival
// order. Waiting ends early only when ctx is done or the pool closes.
func (p *Pool[T]) Acquire(ctx context.Context) (*Conn[T], error) {
	ctx, span := observability.StartClientSpan(ctx, "pool.acquire")
	defer span.End()

	conn, waited, err := p.acquire(ctx)
	span.SetAttributes(observability.AttrPoolWaited.Bool(waited))
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(observability.AttrPoolConnID.String(conn.ID.String()))
	return conn, nil
}

func (p *Pool[T]) acquire(ctx context.Context) (*Conn[T], bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrClosed
	}
	if c := p.popIdleLocked(); c != nil {
		p.mu.Unlock()
		return c, false, nil
	}
	if p.totalLocked() < p.cfg.MaxConnections {
		p.active++
		p.mu.Unlock()
		c, err := p.openReserved(ctx)
		return c, false, err
	}

	w := &waiter[T]{ch: make(chan grant[T], 1)}
	p.waiters = append(p.waiters, w)
	p.waits++
	p.mu.Unlock()

	start := time.Now()
	p.log.Debug("pool exhausted, waiting", "max", p.cfg.MaxConnections)
	defer func() {
		p.mu.Lock()
		p.waitTime += time.Since(start)
		p.mu.Unlock()
	}()

	select {
	case g := <-w.ch:
		c, err := p.claim(ctx, g)
		return c, true, err
	case <-ctx.Done():
		p.mu.Lock()
		if p.removeWaiterLocked(w) {
			p.mu.Unlock()
			return nil, true, ctx.Err()
		}
		p.mu.Unlock()
		// A grant raced the cancellation; give it back.
		p.abandon(<-w.ch)
		return nil, true, ctx.Err()
	}
}

// claim turns a grant into a connection for the waiter that received it.
func (p *Pool[T]) claim(ctx context.Context, g grant[T]) (*Conn[T], error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.conn != nil {
		return g.conn, nil
	}
	return p.openReserved(ctx)
}

// abandon returns a grant that its waiter no longer wants.
func (p *Pool[T]) abandon(g grant[T]) {
	switch {
	case g.err != nil:
	case g.conn != nil:
		p.Release(g.conn)
	default:
		p.mu.Lock()
		p.active--
		p.grantSlotLocked()
		p.mu.Unlock()
	}
}

// openReserved creates a handle for a slot already counted in p.active.
// On failure the slot is freed and passed on to the next waiter.
func (p *Pool[T]) openReserved(ctx context.Context) (*Conn[T], error) {
	c, err := p.open(ctx)
	if err != nil {
		p.mu.Lock()
		p.active--
		p.grantSlotLocked()
		p.mu.Unlock()
		p.log.Warn("open connection failed", "error", err)
		return nil, err
	}

	p.mu.Lock()
	if p.closed {
		p.active--
		p.mu.Unlock()
		p.destroy(c)
		return nil, ErrClosed
	}
	p.mu.Unlock()
	return c, nil
}

// popIdleLocked takes the most recently returned idle handle.
func (p *Pool[T]) popIdleLocked() *Conn[T] {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	c := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	c.state = StateActive
	p.active++
	return c
}

func (p *Pool[T]) popWaiterLocked() *waiter[T] {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters[0] = nil
	p.waiters = p.waiters[1:]
	return w
}

func (p *Pool[T]) removeWaiterLocked(w *waiter[T]) bool {
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// grantSlotLocked lets the oldest waiter open a new handle when a slot is
// free.
func (p *Pool[T]) grantSlotLocked() {
	if p.closed || p.totalLocked() >= p.cfg.MaxConnections {
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		p.active++
		w.ch <- grant[T]{}
	}
}
