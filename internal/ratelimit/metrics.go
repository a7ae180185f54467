package ratelimit

import "github.com/prometheus/client_golang/prometheus"

const (
	metricsLabelType    = "type"
	metricsLabelOutcome = "outcome"
)

const (
	outcomeAllowed  = "allowed"
	outcomeBlocked  = "blocked"
	outcomeDenied   = "denied"
	outcomeFailOpen = "fail_open"
)

// MetricsCollector represents collector of metrics for limiter decisions.
type MetricsCollector struct {
	Decisions   *prometheus.CounterVec
	StoreErrors *prometheus.CounterVec
}

// NewMetricsCollector creates a new instance of MetricsCollector.
func NewMetricsCollector(namespace string) *MetricsCollector {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_decisions_total",
		Help:      "Number of rate limit decisions by type and outcome.",
	}, []string{metricsLabelType, metricsLabelOutcome})

	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ratelimit_store_errors_total",
		Help:      "Number of evaluations that failed open because the attempt store errored.",
	}, []string{metricsLabelType})

	return &MetricsCollector{
		Decisions:   decisions,
		StoreErrors: storeErrors,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (mc *MetricsCollector) MustRegister() {
	prometheus.MustRegister(
		mc.Decisions,
		mc.StoreErrors,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (mc *MetricsCollector) Unregister() {
	prometheus.Unregister(mc.Decisions)
	prometheus.Unregister(mc.StoreErrors)
}

func (mc *MetricsCollector) observe(t Type, outcome string) {
	if mc == nil {
		return
	}
	mc.Decisions.With(prometheus.Labels{metricsLabelType: string(t), metricsLabelOutcome: outcome}).Inc()
	if outcome == outcomeFailOpen {
		mc.StoreErrors.With(prometheus.Labels{metricsLabelType: string(t)}).Inc()
	}
}
