package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"timeclock/internal/attendance/geofence"
	att "timeclock/internal/attendance/models"
	"timeclock/internal/timeclock/alerts"
	"timeclock/internal/timeclock/models"
	dErrors "timeclock/pkg/domain-errors"
	"timeclock/pkg/platform/sentinel"
	"timeclock/pkg/requestcontext"
)

const maxHeartbeatPage = 500

// ReportHeartbeat records a presence sample for an open entry. The returned
// verdict is recomputed against the stored site and supersedes the
// device's advisory one.
func (s *Service) ReportHeartbeat(ctx context.Context, apprenticeID, entryID string, reading att.LocationReading, advisory att.GeofenceVerdict) (_ att.GeofenceVerdict, err error) {
	ctx, finish := s.begin(ctx, "report_heartbeat",
		attribute.String("apprentice_id", apprenticeID),
		attribute.String("entry_id", entryID),
	)
	defer finish(&err)

	if err := s.admit(reading); err != nil {
		return att.GeofenceVerdict{}, err
	}
	entry, err := s.ownedEntry(ctx, apprenticeID, entryID)
	if err != nil {
		return att.GeofenceVerdict{}, err
	}
	if !entry.IsOpen() {
		return att.GeofenceVerdict{}, dErrors.New(dErrors.CodeInvalidTransition, "heartbeats are only accepted while the shift is open")
	}
	site, err := s.sites.FindByID(ctx, entry.SiteID)
	if err != nil {
		return att.GeofenceVerdict{}, translate(err, "site")
	}

	now := requestcontext.Now(ctx).UTC()
	verdict := geofence.Evaluate(reading, *site, now)
	hb := &models.Heartbeat{
		EntryID:        entry.ID,
		ApprenticeID:   apprenticeID,
		Reading:        reading,
		Verdict:        verdict,
		AdvisoryWithin: advisory.WithinGeofence,
		RecordedAt:     now,
	}
	if err := s.entries.AddHeartbeat(ctx, hb); err != nil {
		return att.GeofenceVerdict{}, translate(err, "entry")
	}
	s.metrics.IncrementHeartbeat(verdict.WithinGeofence)
	if advisory.WithinGeofence != verdict.WithinGeofence {
		s.logger.DebugContext(ctx, "device geofence verdict disagrees with server",
			"entry_id", entry.ID,
			"advisory_within", advisory.WithinGeofence,
			"within_geofence", verdict.WithinGeofence,
		)
	}

	presence := models.PresenceFrom(hb, entry.SiteID)
	s.savePresence(ctx, presence)
	s.broadcast(ctx, presence)

	if !verdict.WithinGeofence {
		s.publish(ctx, alerts.Alert{
			Type:         alerts.TypeOutsideGeofence,
			Severity:     alerts.SeverityInfo,
			ApprenticeID: apprenticeID,
			EntryID:      entry.ID,
			SiteID:       entry.SiteID,
			Details: map[string]any{
				"distance_m": math.Round(verdict.DistanceMeters),
				"radius_m":   site.RadiusMeters,
				"accuracy_m": reading.AccuracyMeters,
			},
			RaisedAt: now,
		})
	}
	return verdict, nil
}

// Presence returns the last confirmed presence of an entry, falling back to
// the newest stored heartbeat when the cache has nothing.
func (s *Service) Presence(ctx context.Context, apprenticeID, entryID string) (_ *models.Presence, err error) {
	ctx, finish := s.begin(ctx, "presence",
		attribute.String("apprentice_id", apprenticeID),
		attribute.String("entry_id", entryID),
	)
	defer finish(&err)

	entry, err := s.ownedEntry(ctx, apprenticeID, entryID)
	if err != nil {
		return nil, err
	}
	if s.presence != nil && entry.IsOpen() {
		p, err := s.presence.Get(ctx, entryID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.WarnContext(ctx, "presence cache read failed", "entry_id", entryID, "error", err)
		}
	}

	latest, err := s.entries.ListHeartbeats(ctx, entryID, 1)
	if err != nil {
		return nil, translate(err, "heartbeats")
	}
	if len(latest) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no presence recorded for this entry")
	}
	return models.PresenceFrom(latest[0], entry.SiteID), nil
}

// Heartbeats lists the newest samples of an entry.
func (s *Service) Heartbeats(ctx context.Context, apprenticeID, entryID string, limit int) (_ []*models.Heartbeat, err error) {
	ctx, finish := s.begin(ctx, "list_heartbeats", attribute.String("entry_id", entryID))
	defer finish(&err)

	if _, err := s.ownedEntry(ctx, apprenticeID, entryID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxHeartbeatPage {
		limit = maxHeartbeatPage
	}
	list, err := s.entries.ListHeartbeats(ctx, entryID, limit)
	if err != nil {
		return nil, translate(err, "heartbeats")
	}
	return list, nil
}

// AuthorizeEntry succeeds when entryID belongs to apprenticeID.
func (s *Service) AuthorizeEntry(ctx context.Context, apprenticeID, entryID string) error {
	_, err := s.ownedEntry(ctx, apprenticeID, entryID)
	return err
}

// ownedEntry loads an entry and hides other apprentices' entries as not found.
func (s *Service) ownedEntry(ctx context.Context, apprenticeID, entryID string) (*models.Entry, error) {
	entry, err := s.entries.FindByID(ctx, entryID)
	if err != nil {
		return nil, translate(err, "entry")
	}
	if entry.ApprenticeID != apprenticeID {
		return nil, dErrors.New(dErrors.CodeNotFound, "entry not found")
	}
	return entry, nil
}

func (s *Service) savePresence(ctx context.Context, p *models.Presence) {
	if s.presence == nil {
		return
	}
	if err := s.presence.Save(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "failed to cache presence", "entry_id", p.EntryID, "error", err)
	}
}

func (s *Service) broadcast(ctx context.Context, p *models.Presence) {
	if s.broadcaster == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to encode presence", "entry_id", p.EntryID, "error", err)
		return
	}
	s.broadcaster.Broadcast(ctx, p.EntryID, payload)
}
