// Package metrics provides Prometheus metrics for the tod client.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for one invocation. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RemoteRequestsTotal *prometheus.CounterVec
	RemoteDuration      *prometheus.HistogramVec
	RemoteRetriesTotal  *prometheus.CounterVec
	CacheLookupsTotal   *prometheus.CounterVec
	DecisionsTotal      *prometheus.CounterVec

	registry     *prometheus.Registry
	cacheHitRate sync.Once
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RemoteRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tod_remote_requests_total",
				Help: "Remote API attempts by operation and HTTP status (or \"error\").",
			},
			[]string{"op", "status"},
		),
		RemoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tod_remote_request_duration_seconds",
				Help:    "Remote API attempt duration by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		RemoteRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tod_remote_retries_total",
				Help: "Remote API retries by operation and reason.",
			},
			[]string{"op", "reason"},
		),
		CacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tod_cache_lookups_total",
				Help: "Metadata cache lookups by kind and result.",
			},
			[]string{"kind", "result"},
		),
		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tod_triage_decisions_total",
				Help: "Triage decisions by mode, decision and result.",
			},
			[]string{"mode", "decision", "result"},
		),
		registry: reg,
	}

	reg.MustRegister(m.RemoteRequestsTotal)
	reg.MustRegister(m.RemoteDuration)
	reg.MustRegister(m.RemoteRetriesTotal)
	reg.MustRegister(m.CacheLookupsTotal)
	reg.MustRegister(m.DecisionsTotal)

	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRemote records one remote attempt.
func (m *Metrics) RecordRemote(op, status string, seconds float64) {
	if m == nil {
		return
	}
	m.RemoteRequestsTotal.WithLabelValues(op, status).Inc()
	m.RemoteDuration.WithLabelValues(op).Observe(seconds)
}

// RecordRetry increments the retry counter.
func (m *Metrics) RecordRetry(op, reason string) {
	if m == nil {
		return
	}
	m.RemoteRetriesTotal.WithLabelValues(op, reason).Inc()
}

// RecordCache increments the cache lookup counter. result is "hit", "miss",
// "invalidate" or "evict".
func (m *Metrics) RecordCache(kind, result string) {
	if m == nil {
		return
	}
	m.CacheLookupsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveCacheHitRate exports fn as the metadata cache hit ratio. Only the
// first call on a Metrics registers the gauge.
func (m *Metrics) ObserveCacheHitRate(fn func() float64) {
	if m == nil {
		return
	}
	m.cacheHitRate.Do(func() {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tod_cache_hit_ratio",
			Help: "Share of metadata cache lookups served without a fetch.",
		}, fn))
	})
}

// RecordDecision increments the triage decision counter.
func (m *Metrics) RecordDecision(mode, decision, result string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(mode, decision, result).Inc()
}

// Summary gathers all counters and gauges into sorted "name{labels} value" lines.
func (m *Metrics) Summary() ([]string, error) {
	if m == nil {
		return nil, nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			var value float64
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				value = metric.GetGauge().GetValue()
			default:
				continue
			}
			pairs := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				pairs = append(pairs, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(pairs, ","), value))
		}
	}
	sort.Strings(lines)
	return lines, nil
}
