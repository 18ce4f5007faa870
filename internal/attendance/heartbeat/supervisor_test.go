package heartbeat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"timeclock/internal/attendance/location"
	"timeclock/internal/attendance/metrics"
	"timeclock/internal/attendance/models"
)

// =============================================================================
// Heartbeat Supervisor Test Suite
// =============================================================================
// Justification for unit tests: timer cancellation, visibility catch-up and
// "no sample after stop" are timing properties that need a controllable
// ticker; they cannot be observed deterministically end to end.

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped.Store(true) }

type stubAcquirer struct {
	mu      sync.Mutex
	reading models.LocationReading
	err     error
	calls   atomic.Int64
}

func (a *stubAcquirer) set(r models.LocationReading, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reading, a.err = r, err
}

func (a *stubAcquirer) Acquire(ctx context.Context) (models.LocationReading, error) {
	a.calls.Add(1)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reading, a.err
}

type recordingReporter struct {
	mu      sync.Mutex
	err     error
	block   bool
	samples []models.GeofenceVerdict
	got     chan string
}

func newRecordingReporter() *recordingReporter {
	return &recordingReporter{got: make(chan string, 64)}
}

func (r *recordingReporter) ReportHeartbeat(ctx context.Context, entryID string, _ models.LocationReading, v models.GeofenceVerdict) (models.GeofenceVerdict, error) {
	r.mu.Lock()
	block, err := r.block, r.err
	r.mu.Unlock()
	if block {
		r.got <- entryID
		<-ctx.Done()
		return models.GeofenceVerdict{}, ctx.Err()
	}
	if err != nil {
		r.got <- entryID
		return models.GeofenceVerdict{}, err
	}
	r.mu.Lock()
	r.samples = append(r.samples, v)
	r.mu.Unlock()
	r.got <- entryID
	return v, nil
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

type SupervisorSuite struct {
	suite.Suite
	site     models.Site
	ticker   *fakeTicker
	acquirer *stubAcquirer
	reporter *recordingReporter
	signal   *Signal
	metrics  *metrics.Metrics
	observed atomic.Int64
	sup      *Supervisor
}

func TestSupervisorSuite(t *testing.T) {
	suite.Run(t, new(SupervisorSuite))
}

func (s *SupervisorSuite) SetupTest() {
	s.site = models.Site{ID: "site-1", Latitude: 39.7684, Longitude: -86.1581, RadiusMeters: 100}
	s.ticker = &fakeTicker{ch: make(chan time.Time)}
	s.acquirer = &stubAcquirer{}
	s.acquirer.set(models.LocationReading{Latitude: 39.7684, Longitude: -86.1581, AccuracyMeters: 10, CapturedAt: time.Now()}, nil)
	s.reporter = newRecordingReporter()
	s.signal = NewSignal()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.observed.Store(0)

	sup, err := New("entry-1", s.site, s.acquirer, s.reporter, s.signal, 2*time.Minute,
		WithTicker(func(time.Duration) Ticker { return s.ticker }),
		WithMetrics(s.metrics),
		WithObserver(func(models.HeartbeatSample) { s.observed.Add(1) }),
	)
	s.Require().NoError(err)
	s.sup = sup
}

func (s *SupervisorSuite) TearDownTest() {
	s.sup.Stop()
}

func (s *SupervisorSuite) awaitReport() {
	select {
	case <-s.reporter.got:
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for heartbeat report")
	}
}

// tick delivers one tick; the unbuffered channel returns only once the loop
// has taken it.
func (s *SupervisorSuite) tick() {
	select {
	case s.ticker.ch <- time.Now():
	case <-time.After(2 * time.Second):
		s.FailNow("loop did not accept tick")
	}
}

func (s *SupervisorSuite) TestNew() {
	s.Run("missing entry id", func() {
		_, err := New("", s.site, s.acquirer, s.reporter, nil, time.Minute)
		s.ErrorContains(err, "entry id is required")
	})
	s.Run("missing acquirer", func() {
		_, err := New("e", s.site, nil, s.reporter, nil, time.Minute)
		s.ErrorContains(err, "acquirer is required")
	})
	s.Run("missing reporter", func() {
		_, err := New("e", s.site, s.acquirer, nil, nil, time.Minute)
		s.ErrorContains(err, "reporter is required")
	})
	s.Run("non-positive interval", func() {
		_, err := New("e", s.site, s.acquirer, s.reporter, nil, 0)
		s.ErrorContains(err, "interval must be positive")
	})
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *SupervisorSuite) TestStartSamplesImmediately() {
	s.sup.Start(context.Background())
	s.awaitReport()
	s.Equal(1, s.reporter.count())
	s.True(s.sup.Running())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SupervisorsRunning))
}

func (s *SupervisorSuite) TestTicksProduceSamples() {
	s.sup.Start(context.Background())
	s.awaitReport()
	s.tick()
	s.awaitReport()
	s.tick()
	s.awaitReport()
	s.Equal(3, s.reporter.count())
	s.Eventually(func() bool {
		return s.sup.Samples() == 3 && s.observed.Load() == 3
	}, time.Second, 5*time.Millisecond)
}

func (s *SupervisorSuite) TestStopPreventsFurtherSamples() {
	s.sup.Start(context.Background())
	s.awaitReport()
	s.sup.Stop()

	s.False(s.sup.Running())
	s.True(s.ticker.stopped.Load())
	s.Equal(0.0, testutil.ToFloat64(s.metrics.SupervisorsRunning))

	// a tick already pending on the timer is never consumed
	select {
	case s.ticker.ch <- time.Now():
		s.Fail("stopped loop accepted a tick")
	case <-time.After(50 * time.Millisecond):
	}
	s.signal.SetVisible(false)
	s.signal.SetVisible(true)
	time.Sleep(20 * time.Millisecond)
	s.Equal(1, s.reporter.count())
	s.Equal(int64(1), s.acquirer.calls.Load())
}

func (s *SupervisorSuite) TestStopDuringInflightReport() {
	s.reporter.mu.Lock()
	s.reporter.block = true
	s.reporter.mu.Unlock()

	s.sup.Start(context.Background())
	s.awaitReport() // report has begun and is blocked
	s.sup.Stop()

	s.Equal(0, s.reporter.count())
	s.Equal(int64(0), s.observed.Load(), "cancelled sample must not be delivered")
}

func (s *SupervisorSuite) TestStartIsIdempotentAndRestartable() {
	s.sup.Start(context.Background())
	s.sup.Start(context.Background())
	s.awaitReport()
	s.sup.Stop()
	s.sup.Stop()

	s.ticker = &fakeTicker{ch: make(chan time.Time)}
	s.sup.Start(context.Background())
	s.awaitReport()
	s.Equal(2, s.reporter.count())
}

// =============================================================================
// Visibility
// =============================================================================

func (s *SupervisorSuite) TestHiddenTicksAreSkippedAndVisibleCatchesUp() {
	s.sup.Start(context.Background())
	s.awaitReport()

	s.signal.SetVisible(false)
	s.tick()
	s.tick() // returns only after the previous tick was handled
	s.Equal(1, s.reporter.count())

	s.signal.SetVisible(true)
	s.awaitReport()
	s.Equal(2, s.reporter.count())
}

func (s *SupervisorSuite) TestStartWhileHiddenStillSamplesOnce() {
	s.signal.SetVisible(false)
	s.sup.Start(context.Background())
	s.awaitReport()
	s.tick()
	s.tick()
	s.Equal(1, s.reporter.count())
}

// =============================================================================
// Failures never escape
// =============================================================================

func (s *SupervisorSuite) TestFailuresAreSwallowed() {
	s.Run("gate rejection", func() {
		s.acquirer.set(models.LocationReading{}, &location.Rejection{Reason: location.ReasonLowAccuracy, AccuracyMeters: 90, MaxAccuracyMeters: 50})
		s.sup.Start(context.Background())
		s.tick()
		s.tick()
		// start sample plus two ticks; the last tick may still be sampling
		s.Eventually(func() bool {
			return testutil.ToFloat64(s.metrics.GateRejections.WithLabelValues("low_accuracy")) == 3
		}, time.Second, 5*time.Millisecond)
		s.True(s.sup.Running())
		s.Equal(0, s.reporter.count())

		s.acquirer.set(models.LocationReading{Latitude: 39.7684, Longitude: -86.1581, AccuracyMeters: 10}, nil)
		s.tick()
		s.awaitReport()
		s.Equal(1, s.reporter.count())
	})

	s.Run("transport failure", func() {
		s.reporter.mu.Lock()
		s.reporter.err = errors.New("connection reset")
		s.reporter.mu.Unlock()

		s.tick()
		s.awaitReport()
		s.True(s.sup.Running())
		s.Eventually(func() bool {
			return testutil.ToFloat64(s.metrics.HeartbeatsTotal.WithLabelValues("failed")) == 1
		}, time.Second, 5*time.Millisecond)
	})
}

func (s *SupervisorSuite) TestOutsideGeofenceIsCounted() {
	s.acquirer.set(models.LocationReading{Latitude: 39.7774, Longitude: -86.1581, AccuracyMeters: 10}, nil)
	s.sup.Start(context.Background())
	s.awaitReport()
	s.Eventually(func() bool {
		return testutil.ToFloat64(s.metrics.HeartbeatOutside) == 1
	}, time.Second, 5*time.Millisecond)
	s.True(s.sup.Running(), "outside verdict takes no action on the shift")
}

func (s *SupervisorSuite) TestSignalUnsubscribe() {
	var calls atomic.Int64
	unsub := s.signal.OnBecameHidden(func() { calls.Add(1) })
	s.signal.SetVisible(false)
	s.signal.SetVisible(false)
	unsub()
	s.signal.SetVisible(true)
	s.signal.SetVisible(false)
	s.Equal(int64(1), calls.Load())
}
