// Package heartbeat samples presence on a fixed cadence while a shift is open.
//
// Sampling failures never leave the supervisor: they are logged, counted and
// dropped. The supervisor never changes shift state.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"timeclock/internal/attendance/geofence"
	"timeclock/internal/attendance/location"
	"timeclock/internal/attendance/metrics"
	"timeclock/internal/attendance/models"
)

// Acquirer returns an admitted location reading.
type Acquirer interface {
	Acquire(ctx context.Context) (models.LocationReading, error)
}

// Reporter delivers a sample and returns the confirmed verdict.
type Reporter interface {
	ReportHeartbeat(ctx context.Context, entryID string, reading models.LocationReading, verdict models.GeofenceVerdict) (models.GeofenceVerdict, error)
}

// Ticker is the subset of *time.Ticker the supervisor uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func newStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

// Supervisor runs the sampling loop for one open entry.
type Supervisor struct {
	entryID    string
	site       models.Site
	acquirer   Acquirer
	reporter   Reporter
	visibility Visibility
	interval   time.Duration

	logger    *slog.Logger
	metrics   *metrics.Metrics
	newTicker func(time.Duration) Ticker
	observer  func(models.HeartbeatSample)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	unsubs  []func()
	hidden  atomic.Bool
	wake    chan struct{}
	samples atomic.Int64
}

type Option func(*Supervisor)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// WithTicker replaces the interval timer, mainly for tests.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(s *Supervisor) {
		if newTicker != nil {
			s.newTicker = newTicker
		}
	}
}

// WithObserver is called with every sample the reporter confirmed.
func WithObserver(fn func(models.HeartbeatSample)) Option {
	return func(s *Supervisor) {
		s.observer = fn
	}
}

// New builds a stopped supervisor for entryID at site. visibility may be nil
// for hosts that are always in the foreground.
func New(entryID string, site models.Site, acquirer Acquirer, reporter Reporter, visibility Visibility, interval time.Duration, opts ...Option) (*Supervisor, error) {
	if entryID == "" {
		return nil, errors.New("entry id is required")
	}
	if acquirer == nil {
		return nil, errors.New("acquirer is required")
	}
	if reporter == nil {
		return nil, errors.New("reporter is required")
	}
	if interval <= 0 {
		return nil, errors.New("heartbeat interval must be positive")
	}
	s := &Supervisor{
		entryID:    entryID,
		site:       site,
		acquirer:   acquirer,
		reporter:   reporter,
		visibility: visibility,
		interval:   interval,
		logger:     slog.Default(),
		newTicker:  newStdTicker,
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EntryID is the entry this supervisor reports for.
func (s *Supervisor) EntryID() string {
	return s.entryID
}

// Running reports whether the loop is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Samples counts confirmed samples since construction.
func (s *Supervisor) Samples() int64 {
	return s.samples.Load()
}

// Start fires one sample immediately and then one per interval until Stop.
// Starting a running supervisor is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.hidden.Store(false)
	if s.visibility != nil {
		if vr, ok := s.visibility.(visibleReporter); ok {
			s.hidden.Store(!vr.Visible())
		}
		s.unsubs = append(s.unsubs,
			s.visibility.OnBecameHidden(func() { s.hidden.Store(true) }),
			s.visibility.OnBecameVisible(func() {
				s.hidden.Store(false)
				select {
				case s.wake <- struct{}{}:
				default:
				}
			}),
		)
	}

	ticker := s.newTicker(s.interval)
	s.metrics.SupervisorStarted()
	s.logger.InfoContext(ctx, "heartbeat supervisor started", "entry_id", s.entryID, "interval", s.interval)
	go s.loop(ctx, ticker, s.done)
}

// Stop cancels the timer and waits for any in-flight sample to finish. No
// sample is reported after Stop returns.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return
	}
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done

	// drain a catch-up queued between unsubscribe and cancel
	select {
	case <-s.wake:
	default:
	}
	s.metrics.SupervisorStopped()
	s.logger.Info("heartbeat supervisor stopped", "entry_id", s.entryID)
}

func (s *Supervisor) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	s.sampleOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if s.hidden.Load() {
				continue
			}
			s.sampleOnce(ctx)
		case <-s.wake:
			s.sampleOnce(ctx)
		}
	}
}

func (s *Supervisor) sampleOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	reading, err := s.acquirer.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		var rej *location.Rejection
		if errors.As(err, &rej) {
			s.metrics.IncrementGateRejection(string(rej.Reason))
		}
		s.metrics.IncrementHeartbeat("rejected", false)
		s.logger.WarnContext(ctx, "heartbeat reading rejected", "entry_id", s.entryID, "error", err)
		return
	}

	local := geofence.Evaluate(reading, s.site, reading.CapturedAt)
	confirmed, err := s.reporter.ReportHeartbeat(ctx, s.entryID, reading, local)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.metrics.IncrementHeartbeat("failed", false)
		s.logger.WarnContext(ctx, "heartbeat report failed", "entry_id", s.entryID, "error", err)
		return
	}

	s.samples.Add(1)
	s.metrics.IncrementHeartbeat("reported", !confirmed.WithinGeofence)
	if !confirmed.WithinGeofence {
		s.logger.WarnContext(ctx, "heartbeat outside geofence",
			"entry_id", s.entryID,
			"site_id", s.site.ID,
			"distance_m", confirmed.DistanceMeters,
		)
	}
	if s.observer != nil {
		s.observer(models.HeartbeatSample{EntryID: s.entryID, Reading: reading, Verdict: confirmed})
	}
}
