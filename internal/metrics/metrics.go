// Package metrics holds the prometheus collectors for the switching core.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Switch outcomes.
const (
	OutcomeSpecific = "specific"
	OutcomeFallback = "fallback"
	OutcomeStopped  = "stopped"
	OutcomePanic    = "panic"
)

type Metrics struct {
	reg *prometheus.Registry

	switches       *prometheus.CounterVec
	switchDuration *prometheus.HistogramVec
	engineFailures *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	inFlight       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	return &Metrics{
		reg: reg,

		switches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devswitch_switches_total",
			Help: "Completed switch cycles by direction, intent source and outcome",
		}, []string{"direction", "source", "outcome"}),
		switchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name: "devswitch_switch_duration_seconds",
			Help: "Time spent inside the switch critical section, settle delay included",
			Buckets: []float64{
				0.05, 0.1, 0.25, 0.4, 0.5, 0.75, 1, 2, 5,
			},
		}, []string{"direction"}),
		engineFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devswitch_engine_failures_total",
			Help: "Failed engine operations by direction and operation",
		}, []string{"direction", "op"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devswitch_notifications_total",
			Help: "Device notifications received by kind",
		}, []string{"kind"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "devswitch_intents_dropped_total",
			Help: "Intents that were not executed, by reason",
		}, []string{"reason"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "devswitch_tasks_in_flight",
			Help: "Switch tasks queued on or holding the switch lock",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.InstrumentMetricHandler(m.reg, promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
}

func (m *Metrics) SwitchCompleted(direction, source, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.switches.WithLabelValues(direction, source, outcome).Inc()
	m.switchDuration.WithLabelValues(direction).Observe(took.Seconds())
}

func (m *Metrics) EngineFailure(direction, op string) {
	if m == nil {
		return
	}
	m.engineFailures.WithLabelValues(direction, op).Inc()
}

func (m *Metrics) Notification(kind string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(kind).Inc()
}

func (m *Metrics) IntentDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) TaskDone() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
