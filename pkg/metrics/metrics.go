// Package metrics provides metrics collection capabilities for the application.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the metrics collectors for the application.
type Metrics struct {
	// Registry is the Prometheus registry for all metrics.
	Registry *prometheus.Registry

	// HTTP metrics
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestInFlight *prometheus.GaugeVec

	// Confirmation metrics
	ConfirmationCount   *prometheus.CounterVec
	SlotsUsed           prometheus.Gauge
	SlotCapacity        prometheus.Gauge
	TotalValueCollected prometheus.Gauge

	// Ledger gateway metrics
	GatewayCalls     *prometheus.CounterVec
	GatewayErrors    *prometheus.CounterVec
	GatewayLatency   *prometheus.HistogramVec

	// Reconciler metrics
	SweepDuration    prometheus.Histogram
	SweepSubmissions prometheus.Histogram
	SweepSkipped     prometheus.Counter
}

// Config holds the configuration for metrics.
type Config struct {
	// Namespace is the Prometheus namespace for all metrics.
	Namespace string
	// Subsystem is the Prometheus subsystem for all metrics.
	Subsystem string
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: "slotwall",
		Subsystem: "",
	}
}

// New creates a new metrics collector with the given configuration.
func New(cfg Config) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,

		RequestCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		RequestInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"path"},
		),

		ConfirmationCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "confirmations_total",
				Help:      "Confirmation attempts by trigger path and outcome.",
			},
			[]string{"path", "outcome"},
		),
		SlotsUsed: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "slots_used",
				Help:      "Number of confirmed submissions holding a slot.",
			},
		),
		SlotCapacity: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "slot_capacity",
				Help:      "Configured ceiling on confirmable submissions.",
			},
		),
		TotalValueCollected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "total_value_collected",
				Help:      "Running sum of payment amounts over confirmed submissions.",
			},
		),

		GatewayCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_gateway_calls_total",
				Help:      "Ledger gateway calls by operation.",
			},
			[]string{"operation"},
		),
		GatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_gateway_errors_total",
				Help:      "Ledger gateway failures by operation.",
			},
			[]string{"operation"},
		),
		GatewayLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_gateway_latency_seconds",
				Help:      "Ledger gateway call latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reconciler_sweep_duration_seconds",
				Help:      "Duration of reconciler sweeps in seconds.",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60},
			},
		),
		SweepSubmissions: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reconciler_sweep_submissions",
				Help:      "Pending submissions examined per sweep.",
				Buckets:   []float64{0, 1, 5, 10, 50, 100, 500},
			},
		),
		SweepSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "reconciler_sweeps_skipped_total",
				Help:      "Sweeps skipped because the previous sweep was still running.",
			},
		),
	}

	return m
}

// Handler returns an http.Handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveGatewayCall records one gateway call with its latency and error state.
func (m *Metrics) ObserveGatewayCall(operation string, start time.Time, err error) {
	m.GatewayCalls.WithLabelValues(operation).Inc()
	m.GatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.GatewayErrors.WithLabelValues(operation).Inc()
	}
}
