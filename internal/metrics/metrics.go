package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Remediation results.
const (
	ResultRecovered = "recovered"
	ResultFailed    = "failed"
	ResultError     = "error"
)

// Metrics wraps Prometheus collectors for broker-sentinel.
type Metrics struct {
	registry                 *prometheus.Registry
	cycleDurationSeconds     prometheus.Histogram
	endpointsTotal           *prometheus.GaugeVec
	remediationsTotal        *prometheus.CounterVec
	diagnosesTotal           *prometheus.CounterVec
	notificationErrorsTotal  *prometheus.CounterVec
	cycleErrorsTotal         prometheus.Counter
	lastSuccessfulCycleGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		cycleDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_sentinel_cycle_duration_seconds",
			Help:    "Duration of monitoring cycles in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		endpointsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broker_sentinel_endpoints_total",
			Help: "Monitored endpoints by status.",
		}, []string{"status"}),
		remediationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_sentinel_remediations_total",
			Help: "Restart attempts by service and result.",
		}, []string{"service", "result"}),
		diagnosesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_sentinel_diagnoses_total",
			Help: "Diagnoses produced by source.",
		}, []string{"source"}),
		notificationErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_sentinel_notification_errors_total",
			Help: "Notification delivery failures by kind.",
		}, []string{"kind"}),
		cycleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broker_sentinel_cycle_errors_total",
			Help: "Total monitoring cycles that failed.",
		}),
		lastSuccessfulCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broker_sentinel_last_successful_cycle_timestamp",
			Help: "Unix timestamp of the last successful cycle.",
		}),
	}

	registry.MustRegister(
		m.cycleDurationSeconds,
		m.endpointsTotal,
		m.remediationsTotal,
		m.diagnosesTotal,
		m.notificationErrorsTotal,
		m.cycleErrorsTotal,
		m.lastSuccessfulCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycleDuration records the duration of a completed cycle.
func (m *Metrics) ObserveCycleDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.cycleDurationSeconds.Observe(duration.Seconds())
}

// SetEndpointsTotal sets the endpoint gauge for the given status.
func (m *Metrics) SetEndpointsTotal(status string, value int) {
	if m == nil {
		return
	}
	m.endpointsTotal.WithLabelValues(status).Set(float64(value))
}

// IncRemediations counts one restart attempt outcome.
func (m *Metrics) IncRemediations(service, result string) {
	if m == nil {
		return
	}
	m.remediationsTotal.WithLabelValues(service, result).Inc()
}

// IncDiagnoses counts one diagnosis by source.
func (m *Metrics) IncDiagnoses(source string) {
	if m == nil {
		return
	}
	m.diagnosesTotal.WithLabelValues(source).Inc()
}

// IncNotificationErrors counts one failed notification of the given kind.
func (m *Metrics) IncNotificationErrors(kind string) {
	if m == nil {
		return
	}
	m.notificationErrorsTotal.WithLabelValues(kind).Inc()
}

// IncCycleErrors increments the failed cycle counter.
func (m *Metrics) IncCycleErrors() {
	if m == nil {
		return
	}
	m.cycleErrorsTotal.Inc()
}

// SetLastSuccessfulCycleTimestamp sets the last successful cycle time.
func (m *Metrics) SetLastSuccessfulCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulCycleGauge.Set(float64(t.Unix()))
}
