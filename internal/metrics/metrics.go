// Package metrics exposes Prometheus collectors for the HTTP API and the matcher.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ugoodapp/ugood/internal/config"
)

// Match outcomes recorded by IncMatchOutcome.
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeNoMatch  = "no_match"
	OutcomeError    = "error"
)

type Recorder interface {
	IncRequestsTotal(route string, status int)
	ObserveRequestDuration(route string, duration time.Duration)
	IncMatchOutcome(outcome string)
	IncClaimConflicts()
	ObserveStoreDuration(op string, duration time.Duration)
	IncBlessings()
	AddExpiredMatches(n int)

	// Handler serves the registry; nil when metrics are disabled.
	Handler() http.Handler
}

type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	matchOutcomes   *prometheus.CounterVec
	claimConflicts  prometheus.Counter
	storeDuration   *prometheus.HistogramVec
	blessingsTotal  prometheus.Counter
	expiredMatches  prometheus.Counter
}

// New returns a Recorder backed by a private registry, or a no-op when disabled.
func New(cfg config.MetricsConfig) Recorder {
	if !cfg.Enabled {
		return noopMetrics{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ugood_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "status"}),

		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ugood_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		matchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ugood_match_requests_total",
			Help: "Matcher invocations by outcome",
		}, []string{"outcome"}),

		claimConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "ugood_match_claim_conflicts_total",
			Help: "Claims lost to a concurrent matcher",
		}),

		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ugood_store_operation_duration_seconds",
			Help:    "Duration of store write operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		blessingsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "ugood_blessings_total",
			Help: "Blessings recorded",
		}),

		expiredMatches: f.NewCounter(prometheus.CounterOpts{
			Name: "ugood_matches_expired_total",
			Help: "Matches expired by cycle rollover",
		}),
	}
}

func (m *Metrics) IncRequestsTotal(route string, status int) {
	m.requestsTotal.WithLabelValues(route, httpStatusBucket(status)).Inc()
}

func (m *Metrics) ObserveRequestDuration(route string, duration time.Duration) {
	m.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) IncMatchOutcome(outcome string) {
	m.matchOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncClaimConflicts() {
	m.claimConflicts.Inc()
}

func (m *Metrics) ObserveStoreDuration(op string, duration time.Duration) {
	m.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) IncBlessings() {
	m.blessingsTotal.Inc()
}

func (m *Metrics) AddExpiredMatches(n int) {
	m.expiredMatches.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// noopMetrics is a no-op implementation for when metrics are disabled.
type noopMetrics struct{}

func (noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (noopMetrics) IncMatchOutcome(_ string)                         {}
func (noopMetrics) IncClaimConflicts()                               {}
func (noopMetrics) ObserveStoreDuration(_ string, _ time.Duration)   {}
func (noopMetrics) IncBlessings()                                    {}
func (noopMetrics) AddExpiredMatches(_ int)                          {}
func (noopMetrics) Handler() http.Handler                            { return nil }

// MatchOutcome classifies a successful FindMatch result for IncMatchOutcome.
// Failed calls record OutcomeError directly.
func MatchOutcome(created, noMatch bool) string {
	switch {
	case noMatch:
		return OutcomeNoMatch
	case created:
		return OutcomeCreated
	default:
		return OutcomeExisting
	}
}
