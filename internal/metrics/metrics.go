// Package metrics exposes the worker's Prometheus metrics. A nil *Metrics is
// valid and records nothing, so pure packages and tests can skip wiring it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "policy_scan"

type Metrics struct {
	registry *prometheus.Registry

	cacheLookups  *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	enrichFails   *prometheus.CounterVec
	pages         prometheus.Histogram
	overflow      prometheus.Counter
	jobs          *prometheus.CounterVec
}

// New builds a registry with Go and process collectors plus the worker
// metrics. Pass a registry to share one; nil creates a fresh one.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{
		registry: reg,
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guidelines",
			Name:      "cache_lookups_total",
			Help:      "Guideline cache lookups by result (fresh, refreshed, stale, unavailable).",
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guidelines",
			Name:      "fetches_total",
			Help:      "Underlying guideline fetches by outcome.",
		}, []string{"outcome"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "guidelines",
			Name:      "fetch_duration_seconds",
			Help:      "Guideline fetch latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		enrichFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "failures_total",
			Help:      "Enrichment calls that degraded the report, by call.",
		}, []string{"call"}),
		pages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "pages",
			Help:      "Pages per rendered report.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		overflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "overflow_blocks_total",
			Help:      "Blocks taller than a page body, placed with overflow.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Finished jobs by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.cacheLookups, m.fetches, m.fetchDuration, m.enrichFails, m.pages, m.overflow, m.jobs)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Fetch(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(outcome).Inc()
	m.fetchDuration.Observe(seconds)
}

func (m *Metrics) EnrichmentFailed(call string) {
	if m == nil {
		return
	}
	m.enrichFails.WithLabelValues(call).Inc()
}

func (m *Metrics) Rendered(pages, overflowBlocks int) {
	if m == nil {
		return
	}
	m.pages.Observe(float64(pages))
	m.overflow.Add(float64(overflowBlocks))
}

func (m *Metrics) Job(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}
