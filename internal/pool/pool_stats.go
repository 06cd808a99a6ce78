package pool

import "time"

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Idle      int           `json:"idle"`
	Active    int           `json:"active"`
	Total     int           `json:"total"`
	Waiters   int           `json:"waiters"`
	Max       int           `json:"max"`
	Created   uint64        `json:"created"`
	Destroyed uint64        `json:"destroyed"`
	Waits     uint64        `json:"waits"`
	WaitTime  time.Duration `json:"wait_time"`
}

// Stats returns the pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:      len(p.idle),
		Active:    p.active,
		Total:     p.totalLocked(),
		Waiters:   len(p.waiters),
		Max:       p.cfg.MaxConnections,
		Created:   p.created,
		Destroyed: p.destroyed,
		Waits:     p.waits,
		WaitTime:  p.waitTime,
	}
}
