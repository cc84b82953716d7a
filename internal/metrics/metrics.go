package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the module's Prometheus collectors.
type Metrics struct {
	RequestsTracked *prometheus.CounterVec
	RequestsDone    prometheus.Counter
	RequestsFailed  prometheus.Counter

	TargetCrashes  prometheus.Counter
	ProcessCrashes prometheus.Counter
	HealthChecks   prometheus.Counter

	SessionsPooled prometheus.Gauge
	EventsDropped  prometheus.Counter
}

// New registers all collectors with reg. A nil reg gets a private registry,
// which keeps nop wiring and parallel tests harmless.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		RequestsTracked: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabwatch_requests_tracked_total",
				Help: "Network requests observed, by resource type",
			},
			[]string{"resource_type"},
		),
		RequestsDone: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tabwatch_requests_finished_total",
				Help: "Network requests that finished loading",
			},
		),
		RequestsFailed: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tabwatch_requests_failed_total",
				Help: "Network requests that failed or were canceled",
			},
		),
		TargetCrashes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tabwatch_target_crashes_total",
				Help: "Tab crashes detected by the watchdog",
			},
		),
		ProcessCrashes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tabwatch_process_crashes_total",
				Help: "Browser process deaths detected by the watchdog",
			},
		),
		HealthChecks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tabwatch_health_checks_total",
				Help: "Health check cycles run against the focused tab",
			},
		),
		SessionsPooled: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabwatch_sessions_pooled",
				Help: "DevTools sessions currently held in the pool",
			},
		),
		EventsDropped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "tabwatch_events_dropped_total",
				Help: "Browser events dropped because a subscriber was full",
			},
		),
	}
}

// RecordRequest counts an observed request.
func (m *Metrics) RecordRequest(resourceType string) {
	if resourceType == "" {
		resourceType = "Other"
	}
	m.RequestsTracked.WithLabelValues(resourceType).Inc()
}

// RecordFinished counts a request that completed loading.
func (m *Metrics) RecordFinished() {
	m.RequestsDone.Inc()
}

// RecordFailure counts a failed request.
func (m *Metrics) RecordFailure() {
	m.RequestsFailed.Inc()
}

// RecordTargetCrash counts a crashed tab.
func (m *Metrics) RecordTargetCrash() {
	m.TargetCrashes.Inc()
}

// RecordProcessCrash counts a dead browser process.
func (m *Metrics) RecordProcessCrash() {
	m.ProcessCrashes.Inc()
}

// RecordHealthCheck counts one watchdog cycle.
func (m *Metrics) RecordHealthCheck() {
	m.HealthChecks.Inc()
}

// SetSessionsPooled publishes the current pool size.
func (m *Metrics) SetSessionsPooled(n int) {
	m.SessionsPooled.Set(float64(n))
}

// RecordDroppedEvent counts an event lost to a slow subscriber.
func (m *Metrics) RecordDroppedEvent() {
	m.EventsDropped.Inc()
}
