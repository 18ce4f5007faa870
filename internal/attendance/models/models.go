package models

import (
	"time"
)

// Site is an authorized work site with a circular geofence.
type Site struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_m"`
}

// LocationReading is one device fix at the moment it was requested.
type LocationReading struct {
	Latitude       float64   `json:"lat"`
	Longitude      float64   `json:"lng"`
	AccuracyMeters float64   `json:"accuracy_m"`
	CapturedAt     time.Time `json:"captured_at"`
}

// GeofenceVerdict is derived from a reading and a site; it is recomputed on
// every heartbeat and gated action and never mutated independently.
type GeofenceVerdict struct {
	WithinGeofence bool      `json:"within_geofence"`
	DistanceMeters float64   `json:"distance_m"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// ShiftEntry is the aggregate root for one clock-in-to-clock-out session.
//
// ClockInAt is set once at creation. LunchStartAt/LunchEndAt form a single
// lunch cycle. Once ClockOutAt is set the entry is terminal.
type ShiftEntry struct {
	EntryID      string     `json:"entry_id"`
	ApprenticeID string     `json:"apprentice_id"`
	SiteID       string     `json:"site_id"`
	ClockInAt    time.Time  `json:"clock_in_at"`
	LunchStartAt *time.Time `json:"lunch_start_at,omitempty"`
	LunchEndAt   *time.Time `json:"lunch_end_at,omitempty"`
	ClockOutAt   *time.Time `json:"clock_out_at,omitempty"`
}

// IsOpen reports whether the shift has been clocked in and not yet out.
func (e *ShiftEntry) IsOpen() bool {
	return e != nil && !e.ClockInAt.IsZero() && e.ClockOutAt == nil
}

// OnLunch reports whether a lunch has started and not yet ended.
func (e *ShiftEntry) OnLunch() bool {
	return e != nil && e.LunchStartAt != nil && e.LunchEndAt == nil
}

// Clone returns a deep copy so callers cannot mutate engine-owned state.
func (e *ShiftEntry) Clone() *ShiftEntry {
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

// HeartbeatSample is one periodic presence sample. It is not part of the
// aggregate; reporting failures never touch the ShiftEntry.
type HeartbeatSample struct {
	EntryID string          `json:"entry_id"`
	Reading LocationReading `json:"reading"`
	Verdict GeofenceVerdict `json:"verdict"`
}

// ApprenticeContext is what the Context Provider knows about an apprentice
// when a session starts.
type ApprenticeContext struct {
	ApprenticeID string      `json:"apprentice_id"`
	AllowedSites []Site      `json:"allowed_sites"`
	ActiveShift  *ShiftEntry `json:"active_shift,omitempty"`
}

// Site returns the allowed site with the given id.
func (c *ApprenticeContext) Site(siteID string) (Site, bool) {
	for _, s := range c.AllowedSites {
		if s.ID == siteID {
			return s, true
		}
	}
	return Site{}, false
}
