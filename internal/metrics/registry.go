package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

// Registry holds all Prometheus metrics for the drift engine.
type Registry struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	ActiveRuns    prometheus.Gauge
	FindingsTotal *prometheus.CounterVec
	AlertsTotal   *prometheus.CounterVec

	SuppressionLookupFailures prometheus.Counter
	SuppressionRatio          prometheus.Gauge
}

// NewRegistry creates and registers all metrics on a private registry.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payerwatch_runs_total",
				Help: "Total drift computation runs by terminal status",
			},
			[]string{"status"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payerwatch_run_duration_seconds",
				Help:    "Duration of drift computation runs in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "payerwatch_active_runs",
				Help: "Number of drift computations currently in flight",
			},
		),

		FindingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payerwatch_findings_total",
				Help: "Total drift findings by signal and severity",
			},
			[]string{"signal", "severity"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payerwatch_alerts_total",
				Help: "Total alert events by terminal state",
			},
			[]string{"state"},
		),

		SuppressionLookupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "payerwatch_suppression_lookup_failures_total",
				Help: "Judgment lookups that failed and fell open toward alerting",
			},
		),

		SuppressionRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "payerwatch_suppression_ratio",
				Help: "Fraction of created alerts that were suppressed (0.0 to 1.0)",
			},
		),
	}

	r.registry.MustRegister(
		r.RunsTotal,
		r.RunDuration,
		r.ActiveRuns,
		r.FindingsTotal,
		r.AlertsTotal,
		r.SuppressionLookupFailures,
		r.SuppressionRatio,
	)
	return r
}

// RecordAlert counts one alert outcome and refreshes the suppression ratio.
func (r *Registry) RecordAlert(state string) {
	r.AlertsTotal.WithLabelValues(state).Inc()
	r.updateSuppressionRatio()
}

// updateSuppressionRatio derives the ratio gauge by reading the alert
// counters back through the client_model types.
func (r *Registry) updateSuppressionRatio() {
	m := &io_prometheus_client.Metric{}

	var suppressed, total float64
	for _, state := range []string{"pending", "routed", "delivered", "suppressed", "failed"} {
		counter, err := r.AlertsTotal.GetMetricWithLabelValues(state)
		if err != nil {
			continue
		}
		if err := counter.Write(m); err != nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		if state == "suppressed" {
			suppressed += v
		}
	}
	if total > 0 {
		r.SuppressionRatio.Set(suppressed / total)
	}
}

// Handler exposes the registry for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gather exposes the underlying registry for tests.
func (r *Registry) Gather() ([]*io_prometheus_client.MetricFamily, error) {
	return r.registry.Gather()
}
