package ebtree

import "github.com/prometheus/client_golang/prometheus"

// prometheusRegisterer is a local alias so config.go doesn't need to import
// the prometheus package just to name the Registerer type.
type prometheusRegisterer = prometheus.Registerer

// metricsSet holds every collector the engine exposes (§4.13). A nil
// Registerer at Open time gets a private registry instead of the default
// global one, so an Env never pollutes a host process's /metrics unless
// explicitly asked to. freelistReclaimed is registered, but nothing in the
// package increments it, so it stays at zero.
type metricsSet struct {
	commits           prometheus.Counter
	aborts            prometheus.Counter
	dirtyPages        prometheus.Gauge
	freelistReclaimed prometheus.Counter
	readersActive     prometheus.Gauge
	commitDuration    prometheus.Histogram
}

func newMetricsSet(reg prometheus.Registerer) *metricsSet {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &metricsSet{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebtree_commits_total",
			Help: "Total number of write transactions committed.",
		}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebtree_aborts_total",
			Help: "Total number of write transactions aborted.",
		}),
		dirtyPages: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ebtree_dirty_pages",
			Help: "Number of dirty pages in the most recently committed write transaction.",
		}),
		freelistReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ebtree_freelist_reclaimed_total",
			Help: "Total number of pages recycled from the freelist.",
		}),
		readersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ebtree_readers_active",
			Help: "Number of currently open read transactions.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ebtree_txn_commit_duration_seconds",
			Help:    "Wall-clock duration of Txn.Commit.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.commits, m.aborts, m.dirtyPages, m.freelistReclaimed, m.readersActive, m.commitDuration,
	} {
		_ = reg.Register(c)
	}
	return m
}
