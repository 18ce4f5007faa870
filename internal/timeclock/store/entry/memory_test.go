package entry

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
	dErrors "timeclock/pkg/domain-errors"
	"timeclock/pkg/platform/sentinel"
)

type EntryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func TestEntryStoreSuite(t *testing.T) {
	suite.Run(t, new(EntryStoreSuite))
}

func (s *EntryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
}

func (s *EntryStoreSuite) newEntry(apprenticeID string) *models.Entry {
	e, err := models.NewEntry(apprenticeID, att.Site{ID: "site-1"}, att.LocationReading{AccuracyMeters: 8}, att.GeofenceVerdict{WithinGeofence: true}, s.now)
	s.Require().NoError(err)
	return e
}

func (s *EntryStoreSuite) TestCreateAndFind() {
	s.Run("finds created entry by id and as the open entry", func() {
		e := s.newEntry("appr-1")
		s.Require().NoError(s.store.Create(s.ctx, e))

		found, err := s.store.FindByID(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(e.SiteID, found.SiteID)

		open, err := s.store.FindOpenByApprentice(s.ctx, "appr-1")
		s.Require().NoError(err)
		s.Equal(e.ID, open.ID)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.FindByID(s.ctx, "missing")
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, err = s.store.FindOpenByApprentice(s.ctx, "nobody")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returned entries are copies", func() {
		e := s.newEntry("appr-copy")
		s.Require().NoError(s.store.Create(s.ctx, e))
		found, err := s.store.FindByID(s.ctx, e.ID)
		s.Require().NoError(err)
		found.SiteID = "tampered"

		again, err := s.store.FindByID(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal("site-1", again.SiteID)
	})
}

// TestSingleOpenEntry verifies an apprentice can hold only one open entry,
// even under concurrent clock-ins.
func (s *EntryStoreSuite) TestSingleOpenEntry() {
	s.Run("second open entry conflicts", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newEntry("appr-2")))
		err := s.store.Create(s.ctx, s.newEntry("appr-2"))
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("concurrent creates yield exactly one success", func() {
		const goroutines = 20
		var wg sync.WaitGroup
		var ok, conflicts atomic.Int32
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.store.Create(s.ctx, s.newEntry("appr-race"))
				switch {
				case err == nil:
					ok.Add(1)
				case errors.Is(err, sentinel.ErrConflict):
					conflicts.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), ok.Load())
		s.Equal(int32(goroutines-1), conflicts.Load())
	})

	s.Run("closing frees the apprentice for a new entry", func() {
		e := s.newEntry("appr-3")
		s.Require().NoError(s.store.Create(s.ctx, e))
		_, err := s.store.Execute(s.ctx, e.ID, noValidation, func(e *models.Entry) {
			e.Stamp(att.ActionClockOut, s.now.Add(8*time.Hour))
		})
		s.Require().NoError(err)

		_, err = s.store.FindOpenByApprentice(s.ctx, "appr-3")
		s.ErrorIs(err, sentinel.ErrNotFound)
		s.NoError(s.store.Create(s.ctx, s.newEntry("appr-3")))
	})
}

func (s *EntryStoreSuite) TestExecute() {
	s.Run("applies mutation when validation passes", func() {
		e := s.newEntry("appr-4")
		s.Require().NoError(s.store.Create(s.ctx, e))

		at := s.now.Add(4 * time.Hour)
		updated, err := s.store.Execute(s.ctx, e.ID, noValidation, func(e *models.Entry) {
			e.Stamp(att.ActionLunchStart, at)
		})
		s.Require().NoError(err)
		s.Require().NotNil(updated.LunchStartAt)
		s.Equal(at, *updated.LunchStartAt)

		found, err := s.store.FindByID(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Equal(att.StateOnLunch, found.State())
	})

	s.Run("validation error leaves the entry untouched", func() {
		e := s.newEntry("appr-5")
		s.Require().NoError(s.store.Create(s.ctx, e))

		rejected := dErrors.New(dErrors.CodeInvalidTransition, "nope")
		_, err := s.store.Execute(s.ctx, e.ID, func(*models.Entry) error { return rejected }, func(e *models.Entry) {
			e.Stamp(att.ActionClockOut, s.now.Add(time.Hour))
		})
		s.ErrorIs(err, rejected)

		found, err := s.store.FindByID(s.ctx, e.ID)
		s.Require().NoError(err)
		s.Nil(found.ClockOutAt)
	})

	s.Run("closed entry is in an invalid state", func() {
		e := s.newEntry("appr-6")
		s.Require().NoError(s.store.Create(s.ctx, e))
		_, err := s.store.Execute(s.ctx, e.ID, noValidation, func(e *models.Entry) {
			e.Stamp(att.ActionClockOut, s.now.Add(time.Hour))
		})
		s.Require().NoError(err)

		_, err = s.store.Execute(s.ctx, e.ID, noValidation, func(e *models.Entry) {
			e.Stamp(att.ActionClockOut, s.now.Add(2*time.Hour))
		})
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("unknown entry is not found", func() {
		_, err := s.store.Execute(s.ctx, "missing", noValidation, func(*models.Entry) {})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *EntryStoreSuite) TestHeartbeats() {
	e := s.newEntry("appr-7")
	s.Require().NoError(s.store.Create(s.ctx, e))

	for i := 0; i < 3; i++ {
		hb := &models.Heartbeat{EntryID: e.ID, ApprenticeID: "appr-7", RecordedAt: s.now.Add(time.Duration(i) * time.Minute)}
		s.Require().NoError(s.store.AddHeartbeat(s.ctx, hb))
		s.Equal(int64(i+1), hb.ID)
	}

	s.Run("lists newest first with limit", func() {
		list, err := s.store.ListHeartbeats(s.ctx, e.ID, 2)
		s.Require().NoError(err)
		s.Require().Len(list, 2)
		s.Equal(int64(3), list[0].ID)
		s.Equal(int64(2), list[1].ID)
	})

	s.Run("unknown entry is rejected", func() {
		err := s.store.AddHeartbeat(s.ctx, &models.Heartbeat{EntryID: "missing"})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *EntryStoreSuite) TestListByWeek() {
	first := s.newEntry("appr-8")
	s.Require().NoError(s.store.Create(s.ctx, first))
	_, err := s.store.Execute(s.ctx, first.ID, noValidation, func(e *models.Entry) {
		e.Stamp(att.ActionClockOut, s.now.Add(8*time.Hour))
	})
	s.Require().NoError(err)

	s.now = s.now.Add(24 * time.Hour)
	second := s.newEntry("appr-8")
	s.Require().NoError(s.store.Create(s.ctx, second))

	list, err := s.store.ListByWeek(s.ctx, "appr-8", first.WeekEnding)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(first.ID, list[0].ID)
	s.Equal(second.ID, list[1].ID)
}

func noValidation(*models.Entry) error { return nil }
