package handler

import (
	"math"
	"strings"
	"time"

	att "timeclock/internal/attendance/models"
	dErrors "timeclock/pkg/domain-errors"
)

// ReadingPayload is a device location fix on the wire.
type ReadingPayload struct {
	Latitude       *float64  `json:"lat"`
	Longitude      *float64  `json:"lng"`
	AccuracyMeters *float64  `json:"accuracy_m"`
	CapturedAt     time.Time `json:"captured_at"`
}

func (p *ReadingPayload) validate() error {
	if p == nil {
		return dErrors.New(dErrors.CodeValidation, "reading is required")
	}
	if p.Latitude == nil || p.Longitude == nil {
		return dErrors.New(dErrors.CodeValidation, "reading.lat and reading.lng are required")
	}
	if p.AccuracyMeters == nil {
		return dErrors.New(dErrors.CodeValidation, "reading.accuracy_m is required")
	}
	if math.IsNaN(*p.Latitude) || *p.Latitude < -90 || *p.Latitude > 90 {
		return dErrors.New(dErrors.CodeValidation, "reading.lat must be between -90 and 90")
	}
	if math.IsNaN(*p.Longitude) || *p.Longitude < -180 || *p.Longitude > 180 {
		return dErrors.New(dErrors.CodeValidation, "reading.lng must be between -180 and 180")
	}
	if *p.AccuracyMeters < 0 {
		return dErrors.New(dErrors.CodeValidation, "reading.accuracy_m cannot be negative")
	}
	return nil
}

func (p *ReadingPayload) reading() att.LocationReading {
	return att.LocationReading{
		Latitude:       *p.Latitude,
		Longitude:      *p.Longitude,
		AccuracyMeters: *p.AccuracyMeters,
		CapturedAt:     p.CapturedAt,
	}
}

// CreateEntryRequest is the body of POST /timeclock/entries.
type CreateEntryRequest struct {
	SiteID  string          `json:"site_id"`
	Reading *ReadingPayload `json:"reading"`
}

// Validate implements httputil.Validatable.
func (r *CreateEntryRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.SiteID = strings.TrimSpace(r.SiteID)
	if r.SiteID == "" {
		return dErrors.New(dErrors.CodeNoSiteSelected, "site_id is required")
	}
	return r.Reading.validate()
}

// ActionRequest is the body of the lunch and clock-out endpoints.
type ActionRequest struct {
	Reading *ReadingPayload `json:"reading"`
}

func (r *ActionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return r.Reading.validate()
}

// HeartbeatRequest is the body of POST /timeclock/entries/{entryID}/heartbeats.
// Verdict is what the device computed and is advisory only.
type HeartbeatRequest struct {
	Reading *ReadingPayload     `json:"reading"`
	Verdict att.GeofenceVerdict `json:"verdict"`
}

func (r *HeartbeatRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return r.Reading.validate()
}
