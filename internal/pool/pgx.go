package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const pgxCloseTimeout = 5 * time.Second

// PgxFactory opens one Postgres connection per call.
func PgxFactory(connString string) Factory[*pgx.Conn] {
	return func(ctx context.Context) (*pgx.Conn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return conn, nil
	}
}

func closePgx(conn *pgx.Conn) error {
	ctx, cancel := context.WithTimeout(context.Background(), pgxCloseTimeout)
	defer cancel()
	return conn.Close(ctx)
}

// NewPgx builds a pool of Postgres connections for connString.
func NewPgx(ctx context.Context, cfg Config, connString string, opts ...Option[*pgx.Conn]) (*Pool[*pgx.Conn], error) {
	if connString == "" {
		return nil, errors.New("postgres DSN is required")
	}
	base := []Option[*pgx.Conn]{
		WithCloser(closePgx),
		WithName[*pgx.Conn]("postgres"),
	}
	return New(ctx, cfg, PgxFactory(connString), append(base, opts...)...)
}

// PingPgx checks one pooled connection. A connection that fails the ping is
// discarded rather than returned to the pool.
func PingPgx(ctx context.Context, p *Pool[*pgx.Conn]) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := c.Handle.Ping(ctx); err != nil {
		p.Discard(c)
		return fmt.Errorf("ping postgres: %w", err)
	}
	p.Release(c)
	return nil
}
