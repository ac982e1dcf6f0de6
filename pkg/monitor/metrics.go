package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics of one database. Each database owns
// its registry so several can live in one process. All methods accept a
// nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	StatementsTotal   *prometheus.CounterVec
	StatementErrors   *prometheus.CounterVec
	StatementDuration *prometheus.HistogramVec

	CacheHitsTotal          prometheus.Counter
	CacheSemanticHitsTotal  prometheus.Counter
	CacheMissesTotal        prometheus.Counter
	CacheEvictionsTotal     prometheus.Counter
	CacheInvalidationsTotal prometheus.Counter
	CacheEntries            prometheus.Gauge

	PolicyChoicesTotal      *prometheus.CounterVec
	PolicyExplorationsTotal prometheus.Counter
	PolicyRewardMillis      prometheus.Histogram
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		StatementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "executor",
			Name:      "statements_total",
			Help:      "Total number of executed statements by kind",
		}, []string{"kind"}),
		StatementErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "executor",
			Name:      "statement_errors_total",
			Help:      "Total number of failed statements by error code",
		}, []string{"code"}),
		StatementDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nexumdb",
			Subsystem: "executor",
			Name:      "statement_duration_seconds",
			Help:      "Histogram of statement durations",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 16), // 50us to ~1.6s
		}, []string{"kind"}),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of exact cache hits",
		}),
		CacheSemanticHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "cache",
			Name:      "semantic_hits_total",
			Help:      "Total number of hits served by similarity",
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		CacheEvictionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted by optimize",
		}),
		CacheInvalidationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "cache",
			Name:      "invalidated_entries_total",
			Help:      "Total number of entries removed by table invalidation",
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "nexumdb",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached results",
		}),

		PolicyChoicesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "policy",
			Name:      "choices_total",
			Help:      "Total number of strategy choices by strategy",
		}, []string{"strategy"}),
		PolicyExplorationsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nexumdb",
			Subsystem: "policy",
			Name:      "explorations_total",
			Help:      "Total number of random (exploratory) choices",
		}),
		PolicyRewardMillis: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nexumdb",
			Subsystem: "policy",
			Name:      "observed_latency_ms",
			Help:      "Histogram of latencies fed back to the policy",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 16),
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveStatement(kind string, elapsed time.Duration, errCode string) {
	if m == nil {
		return
	}
	m.StatementsTotal.WithLabelValues(kind).Inc()
	m.StatementDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if errCode != "" {
		m.StatementErrors.WithLabelValues(errCode).Inc()
	}
}

func (m *Metrics) CacheHit(semantic bool) {
	if m == nil {
		return
	}
	if semantic {
		m.CacheSemanticHitsTotal.Inc()
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) CacheEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheEvictionsTotal.Add(float64(n))
}

func (m *Metrics) CacheInvalidated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CacheInvalidationsTotal.Add(float64(n))
}

func (m *Metrics) SetCacheEntries(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

func (m *Metrics) PolicyChoice(strategy string, explored bool) {
	if m == nil {
		return
	}
	m.PolicyChoicesTotal.WithLabelValues(strategy).Inc()
	if explored {
		m.PolicyExplorationsTotal.Inc()
	}
}

func (m *Metrics) PolicyObserved(latency time.Duration) {
	if m == nil {
		return
	}
	m.PolicyRewardMillis.Observe(float64(latency) / float64(time.Millisecond))
}
