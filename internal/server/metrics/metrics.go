// Package metrics holds the Prometheus collectors of the lease engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "leasekeeper"

type Metrics struct {
	Acquisitions      *prometheus.CounterVec
	Rotations         *prometheus.CounterVec
	RotationDuration  prometheus.Histogram
	SweepRuns         *prometheus.CounterVec
	Reclaims          *prometheus.CounterVec
	Notifications     *prometheus.CounterVec
	NotificationsLost prometheus.Counter
	DeadLettered      prometheus.Gauge
	Payments          *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Acquisitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquisitions_total",
			Help:      "Lease acquisitions by outcome.",
		}, []string{"outcome"}),
		Rotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rotations_total",
			Help:      "Credential rotations by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		RotationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rotation_duration_seconds",
			Help:      "Duration of credential rotation calls.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Expiry sweeps by outcome (completed, skipped).",
		}, []string{"outcome"}),
		Reclaims: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaims_total",
			Help:      "Per-resource reclaim attempts by outcome.",
		}, []string{"outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications by channel and outcome.",
		}, []string{"channel", "outcome"}),
		NotificationsLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the queue was full.",
		}),
		DeadLettered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reclaim_dead_lettered",
			Help:      "Resources whose reclamation was abandoned after repeated failures.",
		}),
		Payments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment confirmations by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) Acquisition(outcome string) {
	if m != nil {
		m.Acquisitions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Rotation(purpose, outcome string, took time.Duration) {
	if m != nil {
		m.Rotations.WithLabelValues(purpose, outcome).Inc()
		m.RotationDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) Sweep(outcome string) {
	if m != nil {
		m.SweepRuns.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Reclaim(outcome string) {
	if m != nil {
		m.Reclaims.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Notification(channel, outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(channel, outcome).Inc()
	}
}

func (m *Metrics) NotificationDropped() {
	if m != nil {
		m.NotificationsLost.Inc()
	}
}

func (m *Metrics) SetDeadLettered(n int) {
	if m != nil {
		m.DeadLettered.Set(float64(n))
	}
}

func (m *Metrics) Payment(outcome string) {
	if m != nil {
		m.Payments.WithLabelValues(outcome).Inc()
	}
}
