package handler

import (
	"time"

	att "timeclock/internal/attendance/models"
	"timeclock/internal/timeclock/models"
)

// EntryResponse is the wire form of a stored shift entry.
type EntryResponse struct {
	EntryID        string              `json:"entry_id"`
	ApprenticeID   string              `json:"apprentice_id"`
	SiteID         string              `json:"site_id"`
	State          att.State           `json:"state"`
	WorkDate       string              `json:"work_date"`
	WeekEnding     string              `json:"week_ending"`
	ClockInAt      time.Time           `json:"clock_in_at"`
	LunchStartAt   *time.Time          `json:"lunch_start_at,omitempty"`
	LunchEndAt     *time.Time          `json:"lunch_end_at,omitempty"`
	ClockOutAt     *time.Time          `json:"clock_out_at,omitempty"`
	ClockInVerdict att.GeofenceVerdict `json:"clock_in_verdict"`
}

const dateLayout = "2006-01-02"

func FromEntry(e *models.Entry) EntryResponse {
	return EntryResponse{
		EntryID:        e.ID,
		ApprenticeID:   e.ApprenticeID,
		SiteID:         e.SiteID,
		State:          e.State(),
		WorkDate:       e.WorkDate.Format(dateLayout),
		WeekEnding:     e.WeekEnding.Format(dateLayout),
		ClockInAt:      e.ClockInAt,
		LunchStartAt:   e.LunchStartAt,
		LunchEndAt:     e.LunchEndAt,
		ClockOutAt:     e.ClockOutAt,
		ClockInVerdict: e.ClockInVerdict,
	}
}

// ActionResponse carries the server timestamp of a recorded action.
type ActionResponse struct {
	EntryID string     `json:"entry_id"`
	Action  att.Action `json:"action"`
	At      time.Time  `json:"at"`
}

// HeartbeatResponse carries the authoritative verdict for a sample.
type HeartbeatResponse struct {
	EntryID string              `json:"entry_id"`
	Verdict att.GeofenceVerdict `json:"verdict"`
}

type TimesheetResponse struct {
	WeekEnding string          `json:"week_ending"`
	Entries    []EntryResponse `json:"entries"`
}

type HeartbeatListResponse struct {
	Heartbeats []*models.Heartbeat `json:"heartbeats"`
}

// LowAccuracyResponse extends the error envelope for accuracy rejections.
type LowAccuracyResponse struct {
	Error            string  `json:"error"`
	ErrorDescription string  `json:"error_description,omitempty"`
	AccuracyMeters   float64 `json:"accuracy_m"`
	MaxAccuracy      float64 `json:"max_accuracy_m"`
}
