// Package metrics exposes cache, pool and backend-fetch metrics as JSON and
// in the Prometheus exposition format.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/storecache/internal/cache"
	"github.com/oriys/storecache/internal/pool"
)

const noMin = int64(^uint64(0) >> 1)

// CacheSource is anything that reports cache stats.
type CacheSource interface {
	Stats() cache.Stats
}

// PoolSource is anything that reports pool stats under a name.
type PoolSource interface {
	Name() string
	Stats() pool.Stats
}

// Metrics tracks backend fetches and the cache and pools they feed.
type Metrics struct {
	TotalFetches   atomic.Int64
	FailedFetches  atomic.Int64
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	queryMetrics sync.Map // query name -> *QueryMetrics

	mu     sync.RWMutex
	caches map[string]CacheSource
	pools  map[string]PoolSource

	prom      atomic.Pointer[PrometheusMetrics]
	startTime time.Time
}

// QueryMetrics tracks fetches for a single named query.
type QueryMetrics struct {
	Fetches  atomic.Int64
	Failures atomic.Int64
	TotalMs  atomic.Int64
	MinMs    atomic.Int64
	MaxMs    atomic.Int64
}

// New returns an empty Metrics.
func New() *Metrics {
	m := &Metrics{
		caches:    make(map[string]CacheSource),
		pools:     make(map[string]PoolSource),
		startTime: time.Now(),
	}
	m.MinLatencyMs.Store(noMin)
	return m
}

var global = New()

// Global returns the process-wide metrics instance.
func Global() *Metrics {
	return global
}

// RegisterCache adds a cache to snapshots and to the Prometheus collector.
func (m *Metrics) RegisterCache(name string, c CacheSource) {
	m.mu.Lock()
	m.caches[name] = c
	m.mu.Unlock()
}

// RegisterPool adds a pool to snapshots and to the Prometheus collector.
func (m *Metrics) RegisterPool(p PoolSource) {
	m.mu.Lock()
	m.pools[p.Name()] = p
	m.mu.Unlock()
}

// RecordFetch records one backend fetch.
func (m *Metrics) RecordFetch(query string, d time.Duration, success bool) {
	ms := d.Milliseconds()
	m.TotalFetches.Add(1)
	if !success {
		m.FailedFetches.Add(1)
	}
	m.TotalLatencyMs.Add(ms)
	updateMin(&m.MinLatencyMs, ms)
	updateMax(&m.MaxLatencyMs, ms)

	qm := m.getQueryMetrics(query)
	qm.Fetches.Add(1)
	if !success {
		qm.Failures.Add(1)
	}
	qm.TotalMs.Add(ms)
	updateMin(&qm.MinMs, ms)
	updateMax(&qm.MaxMs, ms)

	if pm := m.prom.Load(); pm != nil {
		pm.recordFetch(query, d, success)
	}
}

func (m *Metrics) getQueryMetrics(query string) *QueryMetrics {
	if qm, ok := m.queryMetrics.Load(query); ok {
		return qm.(*QueryMetrics)
	}
	qm := &QueryMetrics{}
	qm.MinMs.Store(noMin)
	actual, _ := m.queryMetrics.LoadOrStore(query, qm)
	return actual.(*QueryMetrics)
}

func (m *Metrics) sources() (map[string]CacheSource, map[string]PoolSource) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	caches := make(map[string]CacheSource, len(m.caches))
	for k, v := range m.caches {
		caches[k] = v
	}
	pools := make(map[string]PoolSource, len(m.pools))
	for k, v := range m.pools {
		pools[k] = v
	}
	return caches, pools
}

// Snapshot returns a point-in-time view of every tracked value.
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalFetches.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	caches, pools := m.sources()
	cacheStats := make(map[string]interface{}, len(caches))
	for name, c := range caches {
		st := c.Stats()
		cacheStats[name] = map[string]interface{}{
			"stats":     st,
			"hit_ratio": st.HitRatio(),
		}
	}
	poolStats := make(map[string]pool.Stats, len(pools))
	for name, p := range pools {
		poolStats[name] = p.Stats()
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"fetches": map[string]interface{}{
			"total":  total,
			"failed": m.FailedFetches.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minOrZero(m.MinLatencyMs.Load()),
			"max": m.MaxLatencyMs.Load(),
		},
		"caches": cacheStats,
		"pools":  poolStats,
	}
}

// QueryStats returns per-query fetch metrics, keyed by query name.
func (m *Metrics) QueryStats() map[string]interface{} {
	names := make([]string, 0)
	m.queryMetrics.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)

	result := make(map[string]interface{}, len(names))
	for _, name := range names {
		qm := m.getQueryMetrics(name)
		total := qm.Fetches.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(qm.TotalMs.Load()) / float64(total)
		}
		result[name] = map[string]interface{}{
			"fetches":  total,
			"failures": qm.Failures.Load(),
			"avg_ms":   avgMs,
			"min_ms":   minOrZero(qm.MinMs.Load()),
			"max_ms":   qm.MaxMs.Load(),
		}
	}
	return result
}

// JSONHandler serves Snapshot plus per-query stats as JSON.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["queries"] = m.QueryStats()
		json.NewEncoder(w).Encode(result)
	})
}

func minOrZero(v int64) int64 {
	if v == noMin {
		return 0
	}
	return v
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
