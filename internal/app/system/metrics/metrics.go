// Package metrics holds the Prometheus collectors for the storage engine.
//
// Every recording method is safe on a nil *Metrics so components can run
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors.
type Metrics struct {
	QuotaReservations    *prometheus.CounterVec // stratavault_quota_reservations_total{result}
	QuotaReleasedBytes   prometheus.Counter     // stratavault_quota_released_bytes_total
	PlacementsTotal      *prometheus.CounterVec // stratavault_placements_total{result}
	PlacedBytes          prometheus.Counter     // stratavault_placed_bytes_total
	LifecycleTransitions *prometheus.CounterVec // stratavault_lifecycle_transitions_total{op}
	LifecycleItems       *prometheus.CounterVec // stratavault_lifecycle_items_total{op}
	GrantsReaped         prometheus.Counter     // stratavault_grants_reaped_total
	LiveSubscribers      prometheus.Gauge       // stratavault_live_subscribers
	EventsPublished      *prometheus.CounterVec // stratavault_events_published_total{event}
	JobRuns              *prometheus.CounterVec // stratavault_job_runs_total{job,result}

	gatherer prometheus.Gatherer
}

// New registers the collectors with reg. A nil reg uses a fresh registry,
// which keeps repeated construction in tests from colliding.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		QuotaReservations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratavault_quota_reservations_total",
			Help: "Quota reservations by result",
		}, []string{"result"}),
		QuotaReleasedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "stratavault_quota_released_bytes_total",
			Help: "Bytes returned to account quotas",
		}),
		PlacementsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratavault_placements_total",
			Help: "Upload placements by result",
		}, []string{"result"}),
		PlacedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "stratavault_placed_bytes_total",
			Help: "Bytes written by successful placements",
		}),
		LifecycleTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratavault_lifecycle_transitions_total",
			Help: "Trash, restore and purge operations",
		}, []string{"op"}),
		LifecycleItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratavault_lifecycle_items_total",
			Help: "Item records changed by lifecycle operations",
		}, []string{"op"}),
		GrantsReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "stratavault_grants_reaped_total",
			Help: "Share grants removed because their item is gone",
		}),
		LiveSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "stratavault_live_subscribers",
			Help: "Connected live-update subscribers",
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratavault_events_published_total",
			Help: "Live-update events published by name",
		}, []string{"event"}),
		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stratavault_job_runs_total",
			Help: "Background job runs by result",
		}, []string{"job", "result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Reservation(result string) {
	if m == nil {
		return
	}
	m.QuotaReservations.WithLabelValues(result).Inc()
}

func (m *Metrics) Released(bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	m.QuotaReleasedBytes.Add(float64(bytes))
}

func (m *Metrics) Placement(result string, bytes int64) {
	if m == nil {
		return
	}
	m.PlacementsTotal.WithLabelValues(result).Inc()
	if result == "ok" && bytes > 0 {
		m.PlacedBytes.Add(float64(bytes))
	}
}

func (m *Metrics) Lifecycle(op string, items int64) {
	if m == nil {
		return
	}
	m.LifecycleTransitions.WithLabelValues(op).Inc()
	if items > 0 {
		m.LifecycleItems.WithLabelValues(op).Add(float64(items))
	}
}

func (m *Metrics) Reaped(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.GrantsReaped.Add(float64(n))
}

func (m *Metrics) Subscribers(delta float64) {
	if m == nil {
		return
	}
	m.LiveSubscribers.Add(delta)
}

func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(name).Inc()
}

func (m *Metrics) Job(name, result string) {
	if m == nil {
		return
	}
	m.JobRuns.WithLabelValues(name, result).Inc()
}
