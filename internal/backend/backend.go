// Package backend runs catalog queries against the backing Postgres service
// through a bounded connection pool. Its fetch functions are what the cache
// calls on a miss.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oriys/storecache/internal/cache"
	"github.com/oriys/storecache/internal/logging"
	"github.com/oriys/storecache/internal/metrics"
	"github.com/oriys/storecache/internal/observability"
	"github.com/oriys/storecache/internal/pool"
)

// ErrNotFound is returned when a query yields no row.
var ErrNotFound = errors.New("backend: not found")

// Conn is the part of a database connection the querier needs.
// *pgx.Conn satisfies it.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Querier runs single-row JSON queries on pooled connections.
type Querier[C Conn] struct {
	pool    *pool.Pool[C]
	metrics *metrics.Metrics
	log     *slog.Logger
}

// QuerierOption customises a Querier.
type QuerierOption[C Conn] func(*Querier[C])

// WithMetrics records fetches on m instead of metrics.Global().
func WithMetrics[C Conn](m *metrics.Metrics) QuerierOption[C] {
	return func(q *Querier[C]) { q.metrics = m }
}

// WithLogger overrides the operational logger.
func WithLogger[C Conn](l *slog.Logger) QuerierOption[C] {
	return func(q *Querier[C]) { q.log = l }
}

// NewQuerier wraps p.
func NewQuerier[C Conn](p *pool.Pool[C], opts ...QuerierOption[C]) *Querier[C] {
	q := &Querier[C]{pool: p, metrics: metrics.Global(), log: logging.Op()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueryJSON runs sql, which must select exactly one JSON column, and returns
// that column. name labels the query in metrics, logs and traces.
func (q *Querier[C]) QueryJSON(ctx context.Context, name, sql string, args ...any) (json.RawMessage, error) {
	ctx, span := observability.StartClientSpan(ctx, "backend.query", observability.AttrQueryName.String(name))
	defer span.End()

	start := time.Now()
	raw, err := pool.WithConnection(ctx, q.pool, func(ctx context.Context, conn C) ([]byte, error) {
		var raw []byte
		if err := conn.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
			return nil, err
		}
		return raw, nil
	})
	elapsed := time.Since(start)
	q.metrics.RecordFetch(name, elapsed, err == nil)

	if errors.Is(err, pgx.ErrNoRows) {
		err = fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		observability.SetSpanError(span, err)
		q.log.Warn("backend query failed", append([]any{"query", name, "duration_ms", elapsed.Milliseconds(), "error", err}, observability.LogAttrs(ctx)...)...)
		return nil, err
	}
	if raw == nil {
		// SQL NULL from an aggregate over no rows.
		raw = []byte("null")
	}
	q.log.Debug("backend query", "query", name, "duration_ms", elapsed.Milliseconds(), "bytes", len(raw))
	return json.RawMessage(raw), nil
}

// Fetch binds a query to a cache.FetchFunc.
func (q *Querier[C]) Fetch(name, sql string, args ...any) cache.FetchFunc {
	return func(ctx context.Context) (json.RawMessage, error) {
		return q.QueryJSON(ctx, name, sql, args...)
	}
}
