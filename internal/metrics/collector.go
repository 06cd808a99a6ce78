package metrics

import "github.com/prometheus/client_golang/prometheus"

// statsCollector turns cache and pool stats into const metrics on every
// scrape, so the hot paths never touch Prometheus.
type statsCollector struct {
	m *Metrics

	cacheHits        *prometheus.Desc
	cacheMisses      *prometheus.Desc
	cacheEntries     *prometheus.Desc
	cacheMemory      *prometheus.Desc
	cacheEvictions   *prometheus.Desc
	cacheExpirations *prometheus.Desc
	cacheMirrorErrs  *prometheus.Desc
	cacheHitRatio    *prometheus.Desc

	poolConns     *prometheus.Desc
	poolMax       *prometheus.Desc
	poolWaiters   *prometheus.Desc
	poolCreated   *prometheus.Desc
	poolDestroyed *prometheus.Desc
	poolWaits     *prometheus.Desc
	poolWaitSecs  *prometheus.Desc
}

func newStatsCollector(namespace string, m *Metrics) *statsCollector {
	cacheDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, []string{"cache"}, nil)
	}
	poolDesc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, append([]string{"pool"}, labels...), nil)
	}
	return &statsCollector{
		m: m,

		cacheHits:        cacheDesc("hits_total", "Lookups served from the cache"),
		cacheMisses:      cacheDesc("misses_total", "Lookups that missed both tiers"),
		cacheEntries:     cacheDesc("entries", "Entries held in memory"),
		cacheMemory:      cacheDesc("memory_bytes", "Estimated in-memory footprint"),
		cacheEvictions:   cacheDesc("evictions_total", "Entries evicted to make room"),
		cacheExpirations: cacheDesc("expirations_total", "Entries removed after expiring"),
		cacheMirrorErrs:  cacheDesc("mirror_errors_total", "Failed persistent mirror operations"),
		cacheHitRatio:    cacheDesc("hit_ratio", "Hits over total lookups"),

		poolConns:     poolDesc("connections", "Connections by state", "state"),
		poolMax:       poolDesc("max_connections", "Configured connection bound"),
		poolWaiters:   poolDesc("waiters", "Callers waiting for a connection"),
		poolCreated:   poolDesc("connections_created_total", "Connections opened"),
		poolDestroyed: poolDesc("connections_destroyed_total", "Connections closed"),
		poolWaits:     poolDesc("waits_total", "Acquires that had to wait"),
		poolWaitSecs:  poolDesc("wait_seconds_total", "Time spent waiting for connections"),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.cacheHits, c.cacheMisses, c.cacheEntries, c.cacheMemory,
		c.cacheEvictions, c.cacheExpirations, c.cacheMirrorErrs, c.cacheHitRatio,
		c.poolConns, c.poolMax, c.poolWaiters, c.poolCreated,
		c.poolDestroyed, c.poolWaits, c.poolWaitSecs,
	} {
		ch <- d
	}
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	caches, pools := c.m.sources()

	for name, src := range caches {
		st := src.Stats()
		ch <- prometheus.MustNewConstMetric(c.cacheHits, prometheus.CounterValue, float64(st.Hits), name)
		ch <- prometheus.MustNewConstMetric(c.cacheMisses, prometheus.CounterValue, float64(st.Misses), name)
		ch <- prometheus.MustNewConstMetric(c.cacheEntries, prometheus.GaugeValue, float64(st.Entries), name)
		ch <- prometheus.MustNewConstMetric(c.cacheMemory, prometheus.GaugeValue, float64(st.MemoryBytes), name)
		ch <- prometheus.MustNewConstMetric(c.cacheEvictions, prometheus.CounterValue, float64(st.Evictions), name)
		ch <- prometheus.MustNewConstMetric(c.cacheExpirations, prometheus.CounterValue, float64(st.Expirations), name)
		ch <- prometheus.MustNewConstMetric(c.cacheMirrorErrs, prometheus.CounterValue, float64(st.MirrorErrors), name)
		ch <- prometheus.MustNewConstMetric(c.cacheHitRatio, prometheus.GaugeValue, st.HitRatio(), name)
	}

	for name, src := range pools {
		st := src.Stats()
		ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(st.Idle), name, "idle")
		ch <- prometheus.MustNewConstMetric(c.poolConns, prometheus.GaugeValue, float64(st.Active), name, "active")
		ch <- prometheus.MustNewConstMetric(c.poolMax, prometheus.GaugeValue, float64(st.Max), name)
		ch <- prometheus.MustNewConstMetric(c.poolWaiters, prometheus.GaugeValue, float64(st.Waiters), name)
		ch <- prometheus.MustNewConstMetric(c.poolCreated, prometheus.CounterValue, float64(st.Created), name)
		ch <- prometheus.MustNewConstMetric(c.poolDestroyed, prometheus.CounterValue, float64(st.Destroyed), name)
		ch <- prometheus.MustNewConstMetric(c.poolWaits, prometheus.CounterValue, float64(st.Waits), name)
		ch <- prometheus.MustNewConstMetric(c.poolWaitSecs, prometheus.CounterValue, st.WaitTime.Seconds(), name)
	}
}
