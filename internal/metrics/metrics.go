package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"media-compressor-go/internal/compressor"
	"media-compressor-go/internal/search"
)

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Metrics holds Prometheus metrics for the compressor.
type Metrics struct {
	// Search iterations
	AttemptsTotal *prometheus.CounterVec
	SearchesTotal *prometheus.CounterVec

	// Request outcomes
	ResultsTotal    *prometheus.CounterVec
	Iterations      *prometheus.HistogramVec
	RequestDuration *prometheus.HistogramVec
	BytesSavedTotal *prometheus.CounterVec

	// Job queue
	JobsQueued   prometheus.Gauge
	JobsInFlight prometheus.Gauge
}

// NewMetrics creates and registers the compressor metrics.
//
// Registration happens once per process; later calls return the same
// instance so the default registry never sees duplicate collectors.
//
// Metrics:
//   - compressor_attempts_total{outcome} - encoder attempts, ok or failed
//   - compressor_searches_total{termination} - finished searches by reason
//   - compressor_results_total{domain,status} - reported results
//   - compressor_iterations{domain} - attempts used per request
//   - compressor_request_duration_seconds{domain} - wall time per request
//   - compressor_bytes_saved_total{domain} - original minus final size
//   - compressor_jobs_queued - HTTP jobs waiting for a worker
//   - compressor_jobs_in_flight - HTTP jobs being compressed
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			AttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "compressor_attempts_total",
					Help: "Total number of encoder attempts",
				},
				[]string{"outcome"}, // "ok" or "failed"
			),

			SearchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "compressor_searches_total",
					Help: "Total number of finished parameter searches",
				},
				[]string{"termination"},
			),

			ResultsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "compressor_results_total",
					Help: "Total number of compression results",
				},
				[]string{"domain", "status"}, // status: success, degraded, short_circuit, error
			),

			Iterations: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "compressor_iterations",
					Help:    "Encoder attempts used per request",
					Buckets: prometheus.LinearBuckets(0, 2, 16), // 0 to 30
				},
				[]string{"domain"},
			),

			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "compressor_request_duration_seconds",
					Help:    "Duration of compression requests in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
				},
				[]string{"domain"},
			),

			BytesSavedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "compressor_bytes_saved_total",
					Help: "Total bytes removed by successful compressions",
				},
				[]string{"domain"},
			),

			JobsQueued: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "compressor_jobs_queued",
					Help: "Current number of jobs waiting for a worker",
				},
			),

			JobsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "compressor_jobs_in_flight",
					Help: "Current number of jobs being compressed",
				},
			),
		}
	})

	return globalMetrics
}

// AttemptFinished implements search.Observer.
func (m *Metrics) AttemptFinished(step search.Step) {
	outcome := "ok"
	if step.Err != nil {
		outcome = "failed"
	}
	m.AttemptsTotal.WithLabelValues(outcome).Inc()
}

// SearchFinished implements search.Observer.
func (m *Metrics) SearchFinished(outcome search.Outcome) {
	m.SearchesTotal.WithLabelValues(outcome.Reason.String()).Inc()
}

// RecordResult records a finished request. It fits compressor.WithResultHook.
func (m *Metrics) RecordResult(res *compressor.Result) {
	domain := res.Domain
	if domain == "" {
		domain = "unknown"
	}

	m.ResultsTotal.WithLabelValues(domain, resultStatus(res)).Inc()
	m.Iterations.WithLabelValues(domain).Observe(float64(res.IterationsUsed))
	m.RequestDuration.WithLabelValues(domain).Observe(float64(res.DurationMs) / 1000)

	if res.Succeeded() && res.OriginalSize > res.FinalSize {
		m.BytesSavedTotal.WithLabelValues(domain).Add(float64(res.OriginalSize - res.FinalSize))
	}
}

func resultStatus(res *compressor.Result) string {
	switch {
	case !res.Succeeded():
		return "error"
	case res.Degraded:
		return "degraded"
	case res.ShortCircuit:
		return "short_circuit"
	default:
		return "success"
	}
}
