package models

import (
	"time"

	"github.com/google/uuid"

	att "timeclock/internal/attendance/models"
	dErrors "timeclock/pkg/domain-errors"
)

// Entry is the stored form of a shift entry.
//
// Invariants:
//   - ApprenticeID and SiteID are immutable after creation
//   - WorkDate is the calendar day of ClockInAt (UTC)
//   - WeekEnding is the Saturday closing the week of WorkDate, never WorkDate itself
//   - at most one entry per apprentice has ClockOutAt == nil
//   - timestamps follow the shift lifecycle ordering
type Entry struct {
	ID           string     `json:"entry_id"`
	ApprenticeID string     `json:"apprentice_id"`
	SiteID       string     `json:"site_id"`
	WorkDate     time.Time  `json:"work_date"`
	WeekEnding   time.Time  `json:"week_ending"`
	ClockInAt    time.Time  `json:"clock_in_at"`
	LunchStartAt *time.Time `json:"lunch_start_at,omitempty"`
	LunchEndAt   *time.Time `json:"lunch_end_at,omitempty"`
	ClockOutAt   *time.Time `json:"clock_out_at,omitempty"`

	ClockInReading att.LocationReading `json:"clock_in_reading"`
	ClockInVerdict att.GeofenceVerdict `json:"clock_in_verdict"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntry opens an entry at now for a verified site.
func NewEntry(apprenticeID string, site att.Site, reading att.LocationReading, verdict att.GeofenceVerdict, now time.Time) (*Entry, error) {
	if apprenticeID == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "apprentice id cannot be empty")
	}
	if site.ID == "" {
		return nil, dErrors.New(dErrors.CodeNoSiteSelected, "site is required")
	}
	if now.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "clock-in time is required")
	}
	now = now.UTC()
	return &Entry{
		ID:             uuid.NewString(),
		ApprenticeID:   apprenticeID,
		SiteID:         site.ID,
		WorkDate:       WorkDate(now),
		WeekEnding:     WeekEnding(now),
		ClockInAt:      now,
		ClockInReading: reading,
		ClockInVerdict: verdict,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Shift projects the entry onto the lifecycle aggregate shared with the engine.
func (e *Entry) Shift() *att.ShiftEntry {
	if e == nil {
		return nil
	}
	s := &att.ShiftEntry{
		EntryID:      e.ID,
		ApprenticeID: e.ApprenticeID,
		SiteID:       e.SiteID,
		ClockInAt:    e.ClockInAt,
		LunchStartAt: e.LunchStartAt,
		LunchEndAt:   e.LunchEndAt,
		ClockOutAt:   e.ClockOutAt,
	}
	return s.Clone()
}

// State is derived from the timestamps.
func (e *Entry) State() att.State {
	return att.StateOf(e.Shift())
}

// IsOpen reports whether the entry still lacks a clock-out.
func (e *Entry) IsOpen() bool {
	return e != nil && e.ClockOutAt == nil
}

// Stamp records an action timestamp on the matching field.
func (e *Entry) Stamp(action att.Action, at time.Time) {
	at = at.UTC()
	switch action {
	case att.ActionLunchStart:
		e.LunchStartAt = &at
	case att.ActionLunchEnd:
		e.LunchEndAt = &at
	case att.ActionClockOut:
		e.ClockOutAt = &at
	}
	e.UpdatedAt = at
}

// LunchDuration is zero until both lunch timestamps exist.
func (e *Entry) LunchDuration() time.Duration {
	if e.LunchStartAt == nil || e.LunchEndAt == nil {
		return 0
	}
	return e.LunchEndAt.Sub(*e.LunchStartAt)
}

// ShiftDuration is the wall time from clock-in to clock-out, or to now while open.
func (e *Entry) ShiftDuration(now time.Time) time.Duration {
	end := now
	if e.ClockOutAt != nil {
		end = *e.ClockOutAt
	}
	return end.Sub(e.ClockInAt)
}

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.LunchStartAt = cloneTime(e.LunchStartAt)
	c.LunchEndAt = cloneTime(e.LunchEndAt)
	c.ClockOutAt = cloneTime(e.ClockOutAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// WorkDate truncates t to its UTC calendar day.
func WorkDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekEnding returns the next Saturday after t's day. A Saturday rolls over to
// the following Saturday.
func WeekEnding(t time.Time) time.Time {
	day := WorkDate(t)
	days := (int(time.Saturday) - int(day.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return day.AddDate(0, 0, days)
}
