package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("create_entry", "ok", time.Now())
	m.ObserveOperation("create_entry", "shift_already_open", time.Now())
	m.IncrementEntriesCreated()
	m.IncrementHeartbeat(true)
	m.IncrementHeartbeat(false)
	m.IncrementHeartbeat(false)
	m.IncrementAlert("missing_lunch", true)
	m.IncrementAlert("missing_lunch", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create_entry", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("create_entry", "shift_already_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EntriesCreated))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HeartbeatsTotal.WithLabelValues("outside")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("missing_lunch", "failed")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation("x", "ok", time.Now())
		m.IncrementEntriesCreated()
		m.IncrementHeartbeat(true)
		m.IncrementAlert("x", true)
	})
}
