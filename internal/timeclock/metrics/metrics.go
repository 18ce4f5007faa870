package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the timeclock service.
// Tracks operation outcomes, created entries, heartbeats and alerts.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	EntriesCreated    prometheus.Counter
	HeartbeatsTotal   *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
}

// New registers the timeclock service metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OperationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_server_operations_total",
			Help: "Timeclock service operations, by operation and outcome code",
		}, []string{"operation", "outcome"}),
		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timeclock_server_operation_duration_seconds",
			Help:    "Duration of timeclock service operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
		EntriesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "timeclock_server_entries_created_total",
			Help: "Shift entries opened",
		}),
		HeartbeatsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_server_heartbeats_total",
			Help: "Heartbeats accepted, by server geofence verdict (inside, outside)",
		}, []string{"verdict"}),
		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "timeclock_alerts_total",
			Help: "Alerts raised, by type and delivery result (published, failed)",
		}, []string{"type", "result"}),
	}
}

// ObserveOperation records an operation outcome. outcome is "ok" or the
// domain error code. Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOperation(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementEntriesCreated() {
	if m == nil {
		return
	}
	m.EntriesCreated.Inc()
}

func (m *Metrics) IncrementHeartbeat(within bool) {
	if m == nil {
		return
	}
	verdict := "inside"
	if !within {
		verdict = "outside"
	}
	m.HeartbeatsTotal.WithLabelValues(verdict).Inc()
}

func (m *Metrics) IncrementAlert(alertType string, published bool) {
	if m == nil {
		return
	}
	result := "published"
	if !published {
		result = "failed"
	}
	m.AlertsTotal.WithLabelValues(alertType, result).Inc()
}
