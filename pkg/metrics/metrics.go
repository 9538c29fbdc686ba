// Package metrics holds the Prometheus collectors exported by the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ConditionChecksTotal    = "condition_checks_total"
	EventsTransitionedTotal = "events_transitioned_total"
	ProgressUpdatesTotal    = "progress_updates_total"
	AchievementsUnlocked    = "achievements_unlocked_total"
	JobDurationSeconds      = "job_duration_seconds"
	EventBusHandledTotal    = "eventbus_handled_total"
	EventBusHandlerDuration = "eventbus_handler_duration_seconds"
	defaultMetricsNamespace = "fundhub"
)

// Metrics owns a private registry and the engine's collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		counters: map[string]*prometheus.CounterVec{
			ConditionChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: defaultMetricsNamespace,
				Name:      ConditionChecksTotal,
				Help:      "Count of condition checks by parameter and result",
			}, []string{"parameter", "result"}),
			EventsTransitionedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: defaultMetricsNamespace,
				Name:      EventsTransitionedTotal,
				Help:      "Count of events moved to a terminal status",
			}, []string{"status"}),
			ProgressUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: defaultMetricsNamespace,
				Name:      ProgressUpdatesTotal,
				Help:      "Count of criterion progress updates by criterion type",
			}, []string{"criterion_type"}),
			AchievementsUnlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: defaultMetricsNamespace,
				Name:      AchievementsUnlocked,
				Help:      "Count of achievements unlocked",
			}, []string{"achievement_id"}),
			EventBusHandledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: defaultMetricsNamespace,
				Name:      EventBusHandledTotal,
				Help:      "Count of domain event handler executions",
			}, []string{"event_type", "result"}),
		},
		histograms: map[string]*prometheus.HistogramVec{
			JobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: defaultMetricsNamespace,
				Name:      JobDurationSeconds,
				Help:      "Duration of scheduled job runs",
			}, []string{"job", "result"}),
			EventBusHandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: defaultMetricsNamespace,
				Name:      EventBusHandlerDuration,
				Help:      "Duration of domain event handler executions",
			}, []string{"event_type"}),
		},
	}

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, counter := range m.counters {
		m.registry.MustRegister(counter)
	}
	for _, histogram := range m.histograms {
		m.registry.MustRegister(histogram)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ConditionCheck records one coordinator check.
func (m *Metrics) ConditionCheck(parameter string, err error) {
	if m == nil {
		return
	}
	m.counters[ConditionChecksTotal].WithLabelValues(parameter, result(err)).Inc()
}

// EventTransitioned records an event reaching a terminal status.
func (m *Metrics) EventTransitioned(status string) {
	if m == nil {
		return
	}
	m.counters[EventsTransitionedTotal].WithLabelValues(status).Inc()
}

// ProgressUpdated records criterion progress writes.
func (m *Metrics) ProgressUpdated(criterionType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.counters[ProgressUpdatesTotal].WithLabelValues(criterionType).Add(float64(n))
}

// AchievementUnlocked records an unlock.
func (m *Metrics) AchievementUnlocked(achievementID string) {
	if m == nil {
		return
	}
	m.counters[AchievementsUnlocked].WithLabelValues(achievementID).Inc()
}

// JobRun records a scheduled job execution.
func (m *Metrics) JobRun(job string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.histograms[JobDurationSeconds].WithLabelValues(job, result(err)).Observe(d.Seconds())
}

// HandlerExecuted records an event bus handler execution.
func (m *Metrics) HandlerExecuted(eventType string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.counters[EventBusHandledTotal].WithLabelValues(eventType, result(err)).Inc()
	m.histograms[EventBusHandlerDuration].WithLabelValues(eventType).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
