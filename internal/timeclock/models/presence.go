package models

import (
	"time"

	att "timeclock/internal/attendance/models"
)

// Heartbeat is one persisted presence sample. The verdict is the server's,
// recomputed against the stored site.
type Heartbeat struct {
	ID           int64               `json:"id"`
	EntryID      string              `json:"entry_id"`
	ApprenticeID string              `json:"apprentice_id"`
	Reading      att.LocationReading `json:"reading"`
	Verdict      att.GeofenceVerdict `json:"verdict"`
	// AdvisoryWithin is what the device computed locally.
	AdvisoryWithin bool      `json:"advisory_within"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Presence is the last confirmed location of an open shift.
type Presence struct {
	EntryID      string              `json:"entry_id"`
	ApprenticeID string              `json:"apprentice_id"`
	SiteID       string              `json:"site_id"`
	Reading      att.LocationReading `json:"reading"`
	Verdict      att.GeofenceVerdict `json:"verdict"`
	RecordedAt   time.Time           `json:"recorded_at"`
}

// PresenceFrom builds the presence view of a heartbeat.
func PresenceFrom(hb *Heartbeat, siteID string) *Presence {
	return &Presence{
		EntryID:      hb.EntryID,
		ApprenticeID: hb.ApprenticeID,
		SiteID:       siteID,
		Reading:      hb.Reading,
		Verdict:      hb.Verdict,
		RecordedAt:   hb.RecordedAt,
	}
}
