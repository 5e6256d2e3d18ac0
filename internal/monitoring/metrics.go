package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "veritas"

// Analysis outcomes, used as the outcome label.
const (
	OutcomeSuccess           = "success"
	OutcomeValidation        = "validation"
	OutcomeDetectionFailure  = "detection_failure"
	OutcomeContractViolation = "contract_violation"
)

// Metrics holds the Prometheus collectors of one process. Each instance owns
// its registry so tests can build as many as they like. The Record methods
// are no-ops on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequests counts served requests.
	HTTPRequests *prometheus.CounterVec
	// HTTPDuration measures request latency.
	HTTPDuration *prometheus.HistogramVec
	// AnalysisTotal counts analyses by outcome.
	AnalysisTotal *prometheus.CounterVec
	// TextLength observes submitted text lengths in characters.
	TextLength prometheus.Histogram
	// PlagiarismScore observes the plagiarism score of successful reports.
	PlagiarismScore prometheus.Histogram
	// EngineAttempts counts engine calls by engine and result.
	EngineAttempts *prometheus.CounterVec
	// EngineDuration measures engine call latency.
	EngineDuration *prometheus.HistogramVec
	// CircuitBreakerState is 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec
	// RateLimitBlocks counts requests rejected by the rate limiter.
	RateLimitBlocks *prometheus.CounterVec
	// RateLimitFallbacks counts decisions made by the in-memory limiter because Redis failed.
	RateLimitFallbacks prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AnalysisTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_total",
				Help:      "Total number of analyses by outcome",
			},
			[]string{"outcome"},
		),
		TextLength: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_text_length_chars",
				Help:      "Distribution of submitted text lengths",
				Buckets:   []float64{50, 250, 500, 1000, 2500, 5000, 7500, 10000},
			},
		),
		PlagiarismScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "analysis_plagiarism_score",
				Help:      "Distribution of reported plagiarism scores",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
		),
		EngineAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_attempts_total",
				Help:      "Total number of detection engine calls",
			},
			[]string{"engine", "result"},
		),
		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_duration_seconds",
				Help:      "Duration of detection engine calls in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"engine"},
		),
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 = closed, 1 = open, 2 = half-open)",
			},
			[]string{"name"},
		),
		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_blocks_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"backend"},
		),
		RateLimitFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_fallback_total",
				Help:      "Rate limit decisions made in memory because Redis was unavailable",
			},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAnalysis records the outcome of one analysis.
func (m *Metrics) RecordAnalysis(outcome string, textLength int) {
	if m == nil {
		return
	}
	m.AnalysisTotal.WithLabelValues(outcome).Inc()
	m.TextLength.Observe(float64(textLength))
}

// RecordScore records the plagiarism score of a successful report.
func (m *Metrics) RecordScore(score float64) {
	if m == nil {
		return
	}
	m.PlagiarismScore.Observe(score)
}

// RecordEngineAttempt records one engine call.
func (m *Metrics) RecordEngineAttempt(engine, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.EngineAttempts.WithLabelValues(engine, result).Inc()
	m.EngineDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

// SetCircuitBreakerState publishes the numeric breaker state.
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRateLimitBlock records a rejected request.
func (m *Metrics) RecordRateLimitBlock(backend string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(backend).Inc()
}

// RecordRateLimitFallback records a decision made without Redis.
func (m *Metrics) RecordRateLimitFallback() {
	if m == nil {
		return
	}
	m.RateLimitFallbacks.Inc()
}
