// Package metrics exposes Prometheus collectors for the leave lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements leave.Metrics and notify.Metrics.
type Metrics struct {
	transitions   *prometheus.CounterVec
	expired       prometheus.Counter
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram
	notifications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outpass_transitions_total",
			Help: "Lifecycle operations by action and result kind.",
		}, []string{"action", "result"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outpass_sweep_expired_total",
			Help: "Requests auto-rejected by the expiry sweeper.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outpass_sweep_failures_total",
			Help: "Records the sweeper failed to expire.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "outpass_sweep_duration_seconds",
			Help:    "Wall time of a single sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outpass_notifications_total",
			Help: "Notification publish and delivery outcomes.",
		}, []string{"event", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.expired, m.sweepFailures, m.sweepDuration, m.notifications)
	}
	return m
}

func (m *Metrics) Transition(action, result string) {
	m.transitions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) Expired() { m.expired.Inc() }

func (m *Metrics) SweepFailure() { m.sweepFailures.Inc() }

func (m *Metrics) SweepDuration(d time.Duration) { m.sweepDuration.Observe(d.Seconds()) }

func (m *Metrics) Notification(event, result string) {
	m.notifications.WithLabelValues(event, result).Inc()
}
