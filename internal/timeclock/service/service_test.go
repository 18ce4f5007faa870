package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	att "timeclock/internal/attendance/models"
	"timeclock/internal/timeclock/alerts"
	"timeclock/internal/timeclock/metrics"
	"timeclock/internal/timeclock/models"
	"timeclock/internal/timeclock/store/entry"
	"timeclock/internal/timeclock/store/presence"
	"timeclock/internal/timeclock/store/site"
	dErrors "timeclock/pkg/domain-errors"
	"timeclock/pkg/requestcontext"
)

var (
	yard = att.Site{ID: "site-yard", Name: "North Yard", Latitude: 51.5, Longitude: -0.12, RadiusMeters: 100}
	dock = att.Site{ID: "site-dock", Name: "Dock", Latitude: 51.6, Longitude: -0.2, RadiusMeters: 150}

	inside  = att.LocationReading{Latitude: 51.5002, Longitude: -0.12, AccuracyMeters: 10}
	outside = att.LocationReading{Latitude: 51.51, Longitude: -0.12, AccuracyMeters: 10}
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	payloads map[string][][]byte
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, entryID string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.payloads == nil {
		b.payloads = make(map[string][][]byte)
	}
	b.payloads[entryID] = append(b.payloads[entryID], payload)
}

func (b *recordingBroadcaster) For(entryID string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payloads[entryID]
}

type ServiceSuite struct {
	suite.Suite
	entries  *entry.InMemory
	sites    *site.InMemory
	presence *presence.InMemory
	alerts   *alerts.MemoryPublisher
	bcast    *recordingBroadcaster
	metrics  *metrics.Metrics
	spans    *tracetest.SpanRecorder
	service  *Service
	start    time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	ctx := context.Background()
	s.entries = entry.NewInMemory()
	s.sites = site.NewInMemory()
	s.presence = presence.NewInMemory(presence.DefaultTTL)
	s.alerts = alerts.NewMemoryPublisher()
	s.bcast = &recordingBroadcaster{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.spans = tracetest.NewSpanRecorder()
	s.start = time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)

	for _, st := range []att.Site{yard, dock} {
		s.Require().NoError(s.sites.Upsert(ctx, st))
	}
	s.Require().NoError(s.sites.Assign(ctx, "appr-1", yard.ID))
	s.Require().NoError(s.sites.Assign(ctx, "appr-2", yard.ID))

	s.service = s.newService()
}

func (s *ServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithPresence(s.presence),
		WithAlerts(s.alerts),
		WithBroadcaster(s.bcast),
		WithMetrics(s.metrics),
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans))),
	}
	svc, err := New(s.entries, s.sites, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.start.Add(offset))
}

func (s *ServiceSuite) clockIn() *models.Entry {
	e, err := s.service.CreateEntry(s.at(0), "appr-1", yard.ID, inside)
	s.Require().NoError(err)
	return e
}

func (s *ServiceSuite) TestNew() {
	s.Run("requires stores", func() {
		_, err := New(nil, s.sites)
		s.Error(err)
		_, err = New(s.entries, nil)
		s.Error(err)
	})

	s.Run("rejects an invalid policy", func() {
		_, err := New(s.entries, s.sites, WithPolicy(att.Policy{MaxAccuracyMeters: -1}))
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func (s *ServiceSuite) TestLoadContext() {
	s.Run("lists assigned sites without a shift", func() {
		got, err := s.service.LoadContext(s.at(0), "appr-1")
		s.Require().NoError(err)
		s.Equal([]att.Site{yard}, got.AllowedSites)
		s.Nil(got.ActiveShift)
	})

	s.Run("includes the open shift", func() {
		e := s.clockIn()
		got, err := s.service.LoadContext(s.at(time.Minute), "appr-1")
		s.Require().NoError(err)
		s.Require().NotNil(got.ActiveShift)
		s.Equal(e.ID, got.ActiveShift.EntryID)
		s.Equal(s.start, got.ActiveShift.ClockInAt)
	})

	s.Run("unknown apprentice gets an empty site list", func() {
		got, err := s.service.LoadContext(s.at(0), "nobody")
		s.Require().NoError(err)
		s.Empty(got.AllowedSites)
	})
}

func (s *ServiceSuite) TestCreateEntry() {
	s.Run("stamps server time and the week ending", func() {
		e := s.clockIn()
		s.Equal(s.start, e.ClockInAt)
		s.Equal(time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC), e.WeekEnding)
		s.True(e.ClockInVerdict.WithinGeofence)
		s.Empty(s.alerts.Alerts())
		s.Equal(1.0, testutil.ToFloat64(s.metrics.EntriesCreated))
	})

	s.Run("second clock-in is rejected while a shift is open", func() {
		_, err := s.service.CreateEntry(s.at(time.Minute), "appr-1", yard.ID, inside)
		s.True(dErrors.HasCode(err, dErrors.CodeShiftAlreadyOpen))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.OperationsTotal.WithLabelValues("create_entry", "shift_already_open")))
	})

	s.Run("outside the geofence warns and still opens the shift", func() {
		e, err := s.service.CreateEntry(s.at(0), "appr-2", yard.ID, outside)
		s.Require().NoError(err)
		s.False(e.ClockInVerdict.WithinGeofence)

		raised := s.alerts.OfType(alerts.TypeGeofenceViolation)
		s.Require().Len(raised, 1)
		s.Equal(e.ID, raised[0].EntryID)
		s.Equal(alerts.SeverityWarning, raised[0].Severity)
		s.Equal("North Yard", raised[0].Details["site_name"])
		s.Equal(false, raised[0].Details["blocked"])
	})
}

func (s *ServiceSuite) TestCreateEntryRejections() {
	s.Run("missing site", func() {
		_, err := s.service.CreateEntry(s.at(0), "appr-1", "", inside)
		s.True(dErrors.HasCode(err, dErrors.CodeNoSiteSelected))
	})

	s.Run("site not assigned to the apprentice", func() {
		_, err := s.service.CreateEntry(s.at(0), "appr-1", dock.ID, inside)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("low accuracy reading", func() {
		poor := inside
		poor.AccuracyMeters = 80
		_, err := s.service.CreateEntry(s.at(0), "appr-1", yard.ID, poor)
		s.True(dErrors.HasCode(err, dErrors.CodeLowAccuracy))
	})

	s.Run("coordinates out of range", func() {
		_, err := s.service.CreateEntry(s.at(0), "appr-1", yard.ID, att.LocationReading{Latitude: 95, AccuracyMeters: 5})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("hard geofence policy blocks and alerts", func() {
		policy := att.DefaultPolicy()
		policy.RequireGeofenceAtClockIn = true
		strict := s.newService(WithPolicy(policy))

		_, err := strict.CreateEntry(s.at(0), "appr-1", yard.ID, outside)
		s.True(dErrors.HasCode(err, dErrors.CodeOutsideGeofence))

		raised := s.alerts.OfType(alerts.TypeGeofenceViolation)
		s.Require().Len(raised, 1)
		s.Empty(raised[0].EntryID)
		s.Equal(true, raised[0].Details["blocked"])

		_, err = s.entries.FindOpenByApprentice(context.Background(), "appr-1")
		s.Error(err)
	})
}

func (s *ServiceSuite) TestLunchAndClockOut() {
	e := s.clockIn()

	startedAt, err := s.service.RecordLunchStart(s.at(4*time.Hour), "appr-1", e.ID, inside)
	s.Require().NoError(err)
	s.Equal(s.start.Add(4*time.Hour), startedAt)

	s.Run("clock-out is illegal during lunch", func() {
		_, err := s.service.CloseEntry(s.at(4*time.Hour+time.Minute), "appr-1", e.ID, inside)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	endedAt, err := s.service.RecordLunchEnd(s.at(5*time.Hour+15*time.Minute), "appr-1", e.ID, inside)
	s.Require().NoError(err)
	s.Equal(s.start.Add(5*time.Hour+15*time.Minute), endedAt)

	s.Run("long lunch raises excessive_lunch", func() {
		raised := s.alerts.OfType(alerts.TypeExcessiveLunch)
		s.Require().Len(raised, 1)
		s.Equal(75, raised[0].Details["lunch_minutes"])
		s.Equal(60, raised[0].Details["standard_minutes"])
	})

	s.Run("a second lunch is rejected", func() {
		_, err := s.service.RecordLunchStart(s.at(6*time.Hour), "appr-1", e.ID, inside)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	closedAt, err := s.service.CloseEntry(s.at(9*time.Hour), "appr-1", e.ID, inside)
	s.Require().NoError(err)
	s.Equal(s.start.Add(9*time.Hour), closedAt)
	s.Empty(s.alerts.OfType(alerts.TypeMissingLunch))

	s.Run("closed entry accepts nothing", func() {
		_, err := s.service.CloseEntry(s.at(10*time.Hour), "appr-1", e.ID, inside)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})

	s.Run("a new shift can open after clock-out", func() {
		_, err := s.service.CreateEntry(s.at(10*time.Hour), "appr-1", yard.ID, inside)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestMissingLunch() {
	s.Run("long shift without lunch raises missing_lunch", func() {
		e := s.clockIn()
		_, err := s.service.CloseEntry(s.at(6*time.Hour+30*time.Minute), "appr-1", e.ID, inside)
		s.Require().NoError(err)

		raised := s.alerts.OfType(alerts.TypeMissingLunch)
		s.Require().Len(raised, 1)
		s.Equal(6.5, raised[0].Details["shift_hours"])
	})

	s.Run("short shift without lunch is fine", func() {
		e, err := s.service.CreateEntry(s.at(0), "appr-2", yard.ID, inside)
		s.Require().NoError(err)
		_, err = s.service.CloseEntry(s.at(3*time.Hour), "appr-2", e.ID, inside)
		s.Require().NoError(err)
		s.Len(s.alerts.OfType(alerts.TypeMissingLunch), 1)
	})
}

func (s *ServiceSuite) TestOwnership() {
	e := s.clockIn()

	s.Run("another apprentice's entry is not found", func() {
		_, err := s.service.RecordLunchStart(s.at(time.Hour), "appr-2", e.ID, inside)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.True(dErrors.HasCode(s.service.AuthorizeEntry(s.at(0), "appr-2", e.ID), dErrors.CodeNotFound))
		_, err = s.service.ReportHeartbeat(s.at(time.Hour), "appr-2", e.ID, inside, att.GeofenceVerdict{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("unknown entry is not found", func() {
		_, err := s.service.CloseEntry(s.at(time.Hour), "appr-1", "missing", inside)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("owner is authorized", func() {
		s.NoError(s.service.AuthorizeEntry(s.at(0), "appr-1", e.ID))
	})
}

func (s *ServiceSuite) TestReportHeartbeat() {
	e := s.clockIn()

	s.Run("server verdict replaces the advisory one", func() {
		verdict, err := s.service.ReportHeartbeat(s.at(2*time.Minute), "appr-1", e.ID, outside, att.GeofenceVerdict{WithinGeofence: true})
		s.Require().NoError(err)
		s.False(verdict.WithinGeofence)
		s.Greater(verdict.DistanceMeters, 1000.0)

		raised := s.alerts.OfType(alerts.TypeOutsideGeofence)
		s.Require().Len(raised, 1)
		s.Equal(alerts.SeverityInfo, raised[0].Severity)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.HeartbeatsTotal.WithLabelValues("outside")))
	})

	s.Run("inside heartbeat updates presence and broadcasts", func() {
		verdict, err := s.service.ReportHeartbeat(s.at(4*time.Minute), "appr-1", e.ID, inside, att.GeofenceVerdict{WithinGeofence: true})
		s.Require().NoError(err)
		s.True(verdict.WithinGeofence)

		p, err := s.service.Presence(s.at(5*time.Minute), "appr-1", e.ID)
		s.Require().NoError(err)
		s.True(p.Verdict.WithinGeofence)
		s.Equal(s.start.Add(4*time.Minute), p.RecordedAt)

		sent := s.bcast.For(e.ID)
		s.Require().Len(sent, 2)
		var decoded models.Presence
		s.Require().NoError(json.Unmarshal(sent[1], &decoded))
		s.Equal(yard.ID, decoded.SiteID)
	})

	s.Run("lists heartbeats newest first", func() {
		list, err := s.service.Heartbeats(s.at(5*time.Minute), "appr-1", e.ID, 0)
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.True(list[0].Verdict.WithinGeofence)
		s.True(list[1].AdvisoryWithin)
	})

	s.Run("low accuracy heartbeat is rejected", func() {
		poor := inside
		poor.AccuracyMeters = 500
		_, err := s.service.ReportHeartbeat(s.at(6*time.Minute), "appr-1", e.ID, poor, att.GeofenceVerdict{})
		s.True(dErrors.HasCode(err, dErrors.CodeLowAccuracy))
	})

	s.Run("closed entry rejects heartbeats and clears presence", func() {
		_, err := s.service.CloseEntry(s.at(time.Hour), "appr-1", e.ID, inside)
		s.Require().NoError(err)

		_, err = s.service.ReportHeartbeat(s.at(time.Hour+time.Minute), "appr-1", e.ID, inside, att.GeofenceVerdict{})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

		_, err = s.presence.Get(context.Background(), e.ID)
		s.Error(err)

		p, err := s.service.Presence(s.at(time.Hour+time.Minute), "appr-1", e.ID)
		s.Require().NoError(err)
		s.Equal(s.start.Add(4*time.Minute), p.RecordedAt)
	})
}

func (s *ServiceSuite) TestPresenceWithoutHeartbeats() {
	e := s.clockIn()
	_, err := s.service.Presence(s.at(time.Minute), "appr-1", e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestTimesheet() {
	e := s.clockIn()

	s.Run("lists the week's entries", func() {
		list, err := s.service.Timesheet(s.at(0), "appr-1", time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(e.ID, list[0].ID)
	})

	s.Run("other weeks are empty", func() {
		list, err := s.service.Timesheet(s.at(0), "appr-1", time.Date(2026, 10, 24, 0, 0, 0, 0, time.UTC))
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("week ending must be a Saturday", func() {
		_, err := s.service.Timesheet(s.at(0), "appr-1", time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestTracing() {
	s.clockIn()
	_, _ = s.service.CreateEntry(s.at(time.Minute), "appr-1", yard.ID, inside)

	ended := s.spans.Ended()
	s.Require().Len(ended, 2)
	s.Equal("timeclock.create_entry", ended[0].Name())
	s.Empty(ended[0].Events())
	s.Equal("shift_already_open", ended[1].Status().Description)
	s.NotEmpty(ended[1].Events())
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, alerts.Alert) error {
	return dErrors.New(dErrors.CodeUnavailable, "broker down")
}

func (s *ServiceSuite) TestAlertFailureDoesNotFailTheAction() {
	svc := s.newService(WithAlerts(failingPublisher{}))
	e, err := svc.CreateEntry(s.at(0), "appr-1", yard.ID, outside)
	s.Require().NoError(err)
	s.NotEmpty(e.ID)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AlertsTotal.WithLabelValues(string(alerts.TypeGeofenceViolation), "failed")))
}
