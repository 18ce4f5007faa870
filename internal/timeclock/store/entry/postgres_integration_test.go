//go:build integration

package entry_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	att "timeclock/internal/attendance/models"
	"timeclock/internal/timeclock/models"
	"timeclock/internal/timeclock/store/entry"
	"timeclock/internal/timeclock/store/site"
	"timeclock/pkg/platform/sentinel"
	"timeclock/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *entry.PostgresStore
	site     att.Site
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(entry.EnsureSchema(ctx, s.postgres.DB))
	s.store = entry.NewPostgres(s.postgres.DB)
	s.site = att.Site{ID: "yard", Name: "North Yard", Latitude: 51.5, Longitude: -0.12, RadiusMeters: 100}
	s.now = time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "shift_heartbeats", "shift_entries", "apprentice_sites", "sites"))
	sites := site.NewPostgres(s.postgres.DB)
	s.Require().NoError(sites.Upsert(ctx, s.site))
	s.Require().NoError(sites.Assign(ctx, "appr-1", s.site.ID))
}

func (s *PostgresStoreSuite) newEntry(apprenticeID string, at time.Time) *models.Entry {
	reading := att.LocationReading{Latitude: 51.5002, Longitude: -0.12, AccuracyMeters: 8, CapturedAt: at}
	e, err := models.NewEntry(apprenticeID, s.site, reading, att.GeofenceVerdict{WithinGeofence: true, DistanceMeters: 22}, at)
	s.Require().NoError(err)
	return e
}

// TestConcurrentClockInAllowsOneOpenEntry verifies the partial unique index
// admits exactly one open entry per apprentice under contention.
func (s *PostgresStoreSuite) TestConcurrentClockInAllowsOneOpenEntry() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var created, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Create(ctx, s.newEntry("appr-1", s.now))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestShiftLifecycle() {
	ctx := context.Background()
	e := s.newEntry("appr-1", s.now)
	s.Require().NoError(s.store.Create(ctx, e))

	open, err := s.store.FindOpenByApprentice(ctx, "appr-1")
	s.Require().NoError(err)
	s.Equal(e.ID, open.ID)
	s.Equal(att.StateActive, open.State())

	steps := []struct {
		action att.Action
		at     time.Time
		state  att.State
	}{
		{att.ActionLunchStart, s.now.Add(4 * time.Hour), att.StateOnLunch},
		{att.ActionLunchEnd, s.now.Add(4*time.Hour + 30*time.Minute), att.StateActive},
		{att.ActionClockOut, s.now.Add(8 * time.Hour), att.StateClosed},
	}
	for _, step := range steps {
		updated, err := s.store.Execute(ctx, e.ID,
			func(*models.Entry) error { return nil },
			func(cur *models.Entry) { cur.Stamp(step.action, step.at) },
		)
		s.Require().NoError(err, step.action)
		s.Equal(step.state, updated.State(), step.action)
	}

	_, err = s.store.FindOpenByApprentice(ctx, "appr-1")
	s.ErrorIs(err, sentinel.ErrNotFound)

	week, err := s.store.ListByWeek(ctx, "appr-1", models.WeekEnding(s.now))
	s.Require().NoError(err)
	s.Require().Len(week, 1)
	s.Equal(30*time.Minute, week[0].LunchDuration())

	s.Run("closed entry rejects further stamps", func() {
		_, err := s.store.Execute(ctx, e.ID,
			func(*models.Entry) error { return nil },
			func(cur *models.Entry) { cur.Stamp(att.ActionLunchStart, s.now.Add(9*time.Hour)) },
		)
		s.Error(err)
	})

	s.Run("a new shift can open after clock-out", func() {
		s.NoError(s.store.Create(ctx, s.newEntry("appr-1", s.now.Add(24*time.Hour))))
	})
}

func (s *PostgresStoreSuite) TestExecuteRollsBackOnValidationError() {
	ctx := context.Background()
	e := s.newEntry("appr-1", s.now)
	s.Require().NoError(s.store.Create(ctx, e))

	refused := errors.New("refused")
	_, err := s.store.Execute(ctx, e.ID,
		func(*models.Entry) error { return refused },
		func(cur *models.Entry) { cur.Stamp(att.ActionClockOut, s.now.Add(time.Hour)) },
	)
	s.ErrorIs(err, refused)

	stored, err := s.store.FindByID(ctx, e.ID)
	s.Require().NoError(err)
	s.True(stored.IsOpen())
}

func (s *PostgresStoreSuite) TestHeartbeatsNewestFirst() {
	ctx := context.Background()
	e := s.newEntry("appr-1", s.now)
	s.Require().NoError(s.store.Create(ctx, e))

	for i := 1; i <= 3; i++ {
		at := s.now.Add(time.Duration(i) * 15 * time.Minute)
		hb := &models.Heartbeat{
			EntryID:        e.ID,
			ApprenticeID:   "appr-1",
			Reading:        att.LocationReading{Latitude: 51.5, Longitude: -0.12, AccuracyMeters: float64(i), CapturedAt: at},
			Verdict:        att.GeofenceVerdict{WithinGeofence: true},
			AdvisoryWithin: true,
			RecordedAt:     at,
		}
		s.Require().NoError(s.store.AddHeartbeat(ctx, hb))
		s.NotZero(hb.ID)
	}

	got, err := s.store.ListHeartbeats(ctx, e.ID, 2)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(3.0, got[0].Reading.AccuracyMeters)
	s.Equal(2.0, got[1].Reading.AccuracyMeters)
}
