package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"timeclock/internal/attendance/geofence"
	"timeclock/internal/attendance/location"
	att "timeclock/internal/attendance/models"
	"timeclock/internal/attendance/shift"
	"timeclock/internal/timeclock/alerts"
	"timeclock/internal/timeclock/models"
	dErrors "timeclock/pkg/domain-errors"
	"timeclock/pkg/platform/sentinel"
	"timeclock/pkg/requestcontext"
)

// LoadContext returns the apprentice's assigned sites and open shift.
func (s *Service) LoadContext(ctx context.Context, apprenticeID string) (_ *att.ApprenticeContext, err error) {
	ctx, finish := s.begin(ctx, "load_context", attribute.String("apprentice_id", apprenticeID))
	defer finish(&err)

	sites, err := s.sites.ListForApprentice(ctx, apprenticeID)
	if err != nil {
		return nil, translate(err, "sites")
	}
	out := &att.ApprenticeContext{ApprenticeID: apprenticeID, AllowedSites: sites}

	open, err := s.entries.FindOpenByApprentice(ctx, apprenticeID)
	switch {
	case err == nil:
		out.ActiveShift = open.Shift()
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return nil, translate(err, "entry")
	}
	return out, nil
}

// CreateEntry clocks the apprentice in at siteID. A reading outside the
// geofence raises a geofence_violation alert; it blocks only when the policy
// requires the geofence at clock-in.
func (s *Service) CreateEntry(ctx context.Context, apprenticeID, siteID string, reading att.LocationReading) (_ *models.Entry, err error) {
	ctx, finish := s.begin(ctx, "create_entry",
		attribute.String("apprentice_id", apprenticeID),
		attribute.String("site_id", siteID),
	)
	defer finish(&err)

	if err := s.admit(reading); err != nil {
		return nil, err
	}
	if siteID == "" {
		return nil, dErrors.New(dErrors.CodeNoSiteSelected, "select a work site before clocking in")
	}
	site, err := s.sites.FindForApprentice(ctx, apprenticeID, siteID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("site %s is not assigned to this apprentice", siteID))
		}
		return nil, translate(err, "site")
	}

	if _, err := s.entries.FindOpenByApprentice(ctx, apprenticeID); err == nil {
		return nil, dErrors.New(dErrors.CodeShiftAlreadyOpen, "an open shift already exists for this apprentice")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, translate(err, "entry")
	}

	now := requestcontext.Now(ctx).UTC()
	verdict := geofence.Evaluate(reading, *site, now)

	machine, err := shift.NewMachine(nil, s.policy)
	if err != nil {
		return nil, err
	}
	if _, err := machine.Transition(att.ActionClockIn, shift.Input{Site: site, Reading: reading, Verdict: &verdict}); err != nil {
		if dErrors.HasCode(err, dErrors.CodeOutsideGeofence) {
			s.raiseGeofenceViolation(ctx, apprenticeID, "", *site, reading, verdict, now, true)
		}
		return nil, err
	}

	entry, err := models.NewEntry(apprenticeID, *site, reading, verdict, now)
	if err != nil {
		return nil, err
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		return nil, translate(err, "entry")
	}
	s.metrics.IncrementEntriesCreated()
	s.logger.InfoContext(ctx, "shift clocked in",
		"apprentice_id", apprenticeID,
		"entry_id", entry.ID,
		"site_id", site.ID,
		"within_geofence", verdict.WithinGeofence,
		"distance_m", math.Round(verdict.DistanceMeters),
	)

	if !verdict.WithinGeofence {
		s.raiseGeofenceViolation(ctx, apprenticeID, entry.ID, *site, reading, verdict, now, false)
	}
	return entry, nil
}

func (s *Service) RecordLunchStart(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading) (time.Time, error) {
	e, err := s.transition(ctx, "lunch_start", att.ActionLunchStart, apprenticeID, entryID, reading)
	if err != nil {
		return time.Time{}, err
	}
	return *e.LunchStartAt, nil
}

func (s *Service) RecordLunchEnd(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading) (time.Time, error) {
	e, err := s.transition(ctx, "lunch_end", att.ActionLunchEnd, apprenticeID, entryID, reading)
	if err != nil {
		return time.Time{}, err
	}
	if lunch := e.LunchDuration(); lunch > s.rules.LunchStandard {
		s.publish(ctx, alerts.Alert{
			Type:         alerts.TypeExcessiveLunch,
			Severity:     alerts.SeverityWarning,
			ApprenticeID: apprenticeID,
			EntryID:      e.ID,
			SiteID:       e.SiteID,
			Details: map[string]any{
				"lunch_minutes":    int(math.Round(lunch.Minutes())),
				"standard_minutes": int(s.rules.LunchStandard.Minutes()),
			},
			RaisedAt: *e.LunchEndAt,
		})
	}
	return *e.LunchEndAt, nil
}

func (s *Service) CloseEntry(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading) (time.Time, error) {
	e, err := s.transition(ctx, "clock_out", att.ActionClockOut, apprenticeID, entryID, reading)
	if err != nil {
		return time.Time{}, err
	}
	if worked := e.ShiftDuration(*e.ClockOutAt); e.LunchStartAt == nil && worked >= s.rules.MissingLunchAfter {
		s.publish(ctx, alerts.Alert{
			Type:         alerts.TypeMissingLunch,
			Severity:     alerts.SeverityWarning,
			ApprenticeID: apprenticeID,
			EntryID:      e.ID,
			SiteID:       e.SiteID,
			Details: map[string]any{
				"shift_hours": math.Round(worked.Hours()*10) / 10,
			},
			RaisedAt: *e.ClockOutAt,
		})
	}
	if s.presence != nil {
		if err := s.presence.Delete(ctx, e.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to clear presence", "entry_id", e.ID, "error", err)
		}
	}
	return *e.ClockOutAt, nil
}

// Timesheet lists an apprentice's entries for the week ending on weekEnding.
func (s *Service) Timesheet(ctx context.Context, apprenticeID string, weekEnding time.Time) (_ []*models.Entry, err error) {
	ctx, finish := s.begin(ctx, "timesheet", attribute.String("apprentice_id", apprenticeID))
	defer finish(&err)

	if weekEnding.Weekday() != time.Saturday {
		return nil, dErrors.New(dErrors.CodeValidation, "week_ending must be a Saturday")
	}
	entries, err := s.entries.ListByWeek(ctx, apprenticeID, weekEnding)
	if err != nil {
		return nil, translate(err, "entries")
	}
	return entries, nil
}

// transition stamps action on the stored entry at server time. The shift
// machine decides legality against the locked row, so concurrent requests
// for one entry cannot both pass.
func (s *Service) transition(ctx context.Context, operation string, action att.Action, apprenticeID, entryID string, reading att.LocationReading) (_ *models.Entry, err error) {
	ctx, finish := s.begin(ctx, operation,
		attribute.String("apprentice_id", apprenticeID),
		attribute.String("entry_id", entryID),
	)
	defer finish(&err)

	if err := s.admit(reading); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()

	updated, err := s.entries.Execute(ctx, entryID,
		func(e *models.Entry) error {
			if e.ApprenticeID != apprenticeID {
				return dErrors.New(dErrors.CodeNotFound, "entry not found")
			}
			m, err := shift.NewMachine(e.Shift(), s.policy)
			if err != nil {
				return err
			}
			return m.Can(action)
		},
		func(e *models.Entry) {
			e.Stamp(action, now)
		},
	)
	if err != nil {
		return nil, translate(err, "entry")
	}
	s.logger.InfoContext(ctx, "shift action recorded",
		"apprentice_id", apprenticeID,
		"entry_id", entryID,
		"action", action,
	)
	return updated, nil
}

// admit re-applies the accuracy limit and basic coordinate sanity to a
// device reading.
func (s *Service) admit(reading att.LocationReading) error {
	if math.IsNaN(reading.Latitude) || math.IsNaN(reading.Longitude) ||
		reading.Latitude < -90 || reading.Latitude > 90 ||
		reading.Longitude < -180 || reading.Longitude > 180 {
		return dErrors.New(dErrors.CodeValidation, "reading coordinates are out of range")
	}
	if reading.AccuracyMeters < 0 || math.IsNaN(reading.AccuracyMeters) {
		return dErrors.New(dErrors.CodeValidation, "reading accuracy must be a positive radius")
	}
	if err := location.Admit(reading, s.policy.MaxAccuracyMeters); err != nil {
		var rej *location.Rejection
		if errors.As(err, &rej) {
			return rej.DomainError()
		}
		return err
	}
	return nil
}

func (s *Service) raiseGeofenceViolation(ctx context.Context, apprenticeID, entryID string, site att.Site, reading att.LocationReading, verdict att.GeofenceVerdict, at time.Time, blocked bool) {
	s.logger.WarnContext(ctx, "clock-in outside geofence",
		"apprentice_id", apprenticeID,
		"site_id", site.ID,
		"distance_m", math.Round(verdict.DistanceMeters),
		"radius_m", site.RadiusMeters,
		"blocked", blocked,
	)
	s.publish(ctx, alerts.Alert{
		Type:         alerts.TypeGeofenceViolation,
		Severity:     alerts.SeverityWarning,
		ApprenticeID: apprenticeID,
		EntryID:      entryID,
		SiteID:       site.ID,
		Details: map[string]any{
			"distance_m": math.Round(verdict.DistanceMeters),
			"radius_m":   site.RadiusMeters,
			"site_name":  site.Name,
			"lat":        reading.Latitude,
			"lng":        reading.Longitude,
			"accuracy_m": reading.AccuracyMeters,
			"blocked":    blocked,
		},
		RaisedAt: at,
	})
}
