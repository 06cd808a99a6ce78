// Package pool bounds the number of live handles to a backing service.
// Handles are created eagerly up to MinConnections, lazily up to
// MaxConnections, and handed to waiters in FIFO order once exhausted.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oriys/storecache/internal/logging"
)

const (
	DefaultMinConnections = 1
	DefaultMaxConnections = 10
)

// ErrClosed is returned by Acquire once the pool has been closed.
var ErrClosed = errors.New("pool: closed")

// Config bounds the pool.
type Config struct {
	MinConnections int
	MaxConnections int
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MinConnections < 0 {
		c.MinConnections = 0
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}
	return c
}

// Factory opens one handle to the backing service.
type Factory[T any] func(ctx context.Context) (T, error)

// State is the lifecycle state of a pooled connection.
type State int

const (
	StateIdle State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// Conn is a pooled handle. Callers use Handle and give the Conn back through
// Release or Discard.
type Conn[T any] struct {
	ID        uuid.UUID
	Handle    T
	CreatedAt time.Time
	state     State
}

// State returns the connection's state as last recorded by the pool.
func (c *Conn[T]) State() State { return c.state }

// grant is what a waiter receives. A nil conn with a nil err means a slot
// was reserved and the waiter must create the handle itself.
type grant[T any] struct {
	conn *Conn[T]
	err  error
}

type waiter[T any] struct {
	ch chan grant[T]
}

// Pool is a bounded set of reusable handles of type T.
type Pool[T any] struct {
	cfg     Config
	factory Factory[T]
	closer  func(T) error
	log     *slog.Logger
	name    string

	mu      sync.Mutex
	idle    []*Conn[T]
	active  int // handed out or being created
	waiters []*waiter[T]
	closed  bool

	warmCancel context.CancelFunc
	warmDone   chan struct{}

	created   uint64
	destroyed uint64
	waits     uint64
	waitTime  time.Duration
}

// Option customises a Pool.
type Option[T any] func(*Pool[T])

// WithCloser sets the function used to destroy a handle.
func WithCloser[T any](fn func(T) error) Option[T] {
	return func(p *Pool[T]) { p.closer = fn }
}

// WithLogger overrides the operational logger.
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(p *Pool[T]) { p.log = l }
}

// WithName labels the pool in logs and metrics.
func WithName[T any](name string) Option[T] {
	return func(p *Pool[T]) { p.name = name }
}

// New creates a pool and eagerly opens cfg.MinConnections handles. If any
// of them fails, the ones already opened are closed and the error returned.
func New[T any](ctx context.Context, cfg Config, factory Factory[T], opts ...Option[T]) (*Pool[T], error) {
	if factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	p := &Pool[T]{
		cfg:     cfg.withDefaults(),
		factory: factory,
		name:    "default",
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logging.Op()
	}
	p.log = p.log.With("pool", p.name)

	for i := 0; i < p.cfg.MinConnections; i++ {
		conn, err := p.open(ctx)
		if err != nil {
			for _, c := range p.idle {
				p.destroy(c)
			}
			return nil, fmt.Errorf("warm pool %s: %w", p.name, err)
		}
		conn.state = StateIdle
		p.idle = append(p.idle, conn)
	}

	p.log.Info("pool ready",
		"min", p.cfg.MinConnections,
		"max", p.cfg.MaxConnections,
		"warm", len(p.idle))
	return p, nil
}

// Name returns the pool's label.
func (p *Pool[T]) Name() string { return p.name }

// Config returns the effective bounds.
func (p *Pool[T]) Config() Config { return p.cfg }

// open runs the factory. The caller owns the slot accounting.
func (p *Pool[T]) open(ctx context.Context) (*Conn[T], error) {
	h, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	conn := &Conn[T]{
		ID:        uuid.New(),
		Handle:    h,
		CreatedAt: time.Now(),
		state:     StateActive,
	}
	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	p.log.Debug("connection created", "conn_id", conn.ID)
	return conn, nil
}

func (p *Pool[T]) destroy(c *Conn[T]) {
	c.state = StateClosed
	p.mu.Lock()
	p.destroyed++
	p.mu.Unlock()
	if p.closer == nil {
		return
	}
	if err := p.closer(c.Handle); err != nil {
		p.log.Warn("close connection failed", "conn_id", c.ID, "error", err)
	}
}

func (p *Pool[T]) totalLocked() int {
	return len(p.idle) + p.active
}
