package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for an attendance engine session.
// Tracks action outcomes, gate rejections and heartbeat delivery.
type Metrics struct {
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	GateRejections     *prometheus.CounterVec
	HeartbeatsTotal    *prometheus.CounterVec
	HeartbeatOutside   prometheus.Counter
	SupervisorsRunning prometheus.Gauge
}

// New registers the attendance metrics on reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_engine_actions_total",
			Help: "Shift actions requested, by action and outcome code",
		}, []string{"action", "outcome"}),
		ActionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timeclock_engine_action_duration_seconds",
			Help:    "Duration of shift actions including location fix and persistence",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"action"}),
		GateRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_location_rejections_total",
			Help: "Location readings refused by the admission gate, by reason",
		}, []string{"reason"}),
		HeartbeatsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_heartbeats_total",
			Help: "Heartbeat samples attempted, by result (reported, rejected, failed)",
		}, []string{"result"}),
		HeartbeatOutside: f.NewCounter(prometheus.CounterOpts{
			Name: "timeclock_heartbeats_outside_geofence_total",
			Help: "Reported heartbeat samples confirmed outside the site geofence",
		}),
		SupervisorsRunning: f.NewGauge(prometheus.GaugeOpts{
			Name: "timeclock_heartbeat_supervisors_running",
			Help: "Heartbeat supervisors currently sampling",
		}),
	}
}

// ObserveAction records the outcome of an action. outcome is "ok" or the
// domain error code.
func (m *Metrics) ObserveAction(action, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, outcome).Inc()
	m.ActionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementGateRejection(reason string) {
	if m == nil {
		return
	}
	m.GateRejections.WithLabelValues(reason).Inc()
}

// IncrementHeartbeat records a sampling attempt. result is "reported",
// "rejected" (gate) or "failed" (transport).
func (m *Metrics) IncrementHeartbeat(result string, outside bool) {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.WithLabelValues(result).Inc()
	if outside {
		m.HeartbeatOutside.Inc()
	}
}

func (m *Metrics) SupervisorStarted() {
	if m == nil {
		return
	}
	m.SupervisorsRunning.Inc()
}

func (m *Metrics) SupervisorStopped() {
	if m == nil {
		return
	}
	m.SupervisorsRunning.Dec()
}
