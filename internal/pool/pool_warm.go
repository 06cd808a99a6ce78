package pool

import (
	"context"
	"time"
)

// Warm opens handles until the pool again holds MinConnections, for example
// after broken handles were discarded. It returns how many were opened.
// New handles go to a waiter first, then to the idle list.
func (p *Pool[T]) Warm(ctx context.Context) int {
	opened := 0
	for ctx.Err() == nil {
		p.mu.Lock()
		if p.closed || p.totalLocked() >= p.cfg.MinConnections {
			p.mu.Unlock()
			break
		}
		p.active++
		p.mu.Unlock()

		c, err := p.openReserved(ctx)
		if err != nil {
			break
		}
		p.Release(c)
		opened++
	}
	if opened > 0 {
		p.log.Debug("pool replenished", "opened", opened, "min", p.cfg.MinConnections)
	}
	return opened
}

// StartWarmer runs Warm every interval until Close. Only the first call
// starts a warmer.
func (p *Pool[T]) StartWarmer(interval time.Duration) {
	if interval <= 0 {
		return
	}
	p.mu.Lock()
	if p.closed || p.warmCancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.warmCancel = cancel
	p.warmDone = make(chan struct{})
	done := p.warmDone
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Warm(ctx)
			}
		}
	}()
}

func (p *Pool[T]) stopWarmer() {
	p.mu.Lock()
	cancel, done := p.warmCancel, p.warmDone
	p.warmCancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
