package engine

import (
	"context"
	"time"

	"timeclock/internal/attendance/models"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks ContextProvider,PersistenceGateway

// ContextProvider returns what is known about an apprentice when a session
// starts: assigned sites and any shift still open from a previous session.
type ContextProvider interface {
	LoadContext(ctx context.Context, apprenticeID string) (*models.ApprenticeContext, error)
}

// PersistenceGateway durably records shift transitions. Returned timestamps
// are authoritative and are what the engine applies locally.
//
// CreateEntry must fail with code shift_already_open when the apprentice
// already has an open entry. Heartbeat verdicts returned by ReportHeartbeat
// supersede the locally computed, advisory verdict.
type PersistenceGateway interface {
	CreateEntry(ctx context.Context, apprenticeID, siteID string, reading models.LocationReading) (*models.ShiftEntry, error)
	RecordLunchStart(ctx context.Context, entryID string, reading models.LocationReading) (time.Time, error)
	RecordLunchEnd(ctx context.Context, entryID string, reading models.LocationReading) (time.Time, error)
	CloseEntry(ctx context.Context, entryID string, reading models.LocationReading) (time.Time, error)
	ReportHeartbeat(ctx context.Context, entryID string, reading models.LocationReading, verdict models.GeofenceVerdict) (models.GeofenceVerdict, error)
}
