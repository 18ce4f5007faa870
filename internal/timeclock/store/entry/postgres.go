package entry

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	att "timeclock/internal/attendance/models"
	"timeclock/internal/platform/postgres"
	"timeclock/internal/timeclock/models"
	"timeclock/pkg/platform/sentinel"
	txpkg "timeclock/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

const openEntryIndex = "shift_entries_one_open_per_apprentice"

const entryColumns = `id, apprentice_id, site_id, work_date, week_ending, clock_in_at,
	lunch_start_at, lunch_end_at, clock_out_at,
	clock_in_lat, clock_in_lng, clock_in_accuracy_m, clock_in_captured_at,
	clock_in_within_geofence, clock_in_distance_m, created_at, updated_at`

const heartbeatColumns = `id, entry_id, apprentice_id, lat, lng, accuracy_m, captured_at,
	within_geofence, distance_m, advisory_within, recorded_at`

// EnsureSchema creates the timeclock tables when they are missing.
func EnsureSchema(ctx context.Context, db postgres.Querier) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply timeclock schema: %w", err)
	}
	return nil
}

// PostgresStore persists shift entries and their heartbeats.
type PostgresStore struct {
	db postgres.DB
}

// NewPostgres constructs a Postgres-backed entry store.
func NewPostgres(db postgres.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) querier(ctx context.Context) postgres.Querier {
	if tx, ok := txpkg.From(ctx); ok {
		return tx
	}
	return s.db
}

// Create inserts a new open entry. A second open entry for the same
// apprentice fails with sentinel.ErrConflict.
func (s *PostgresStore) Create(ctx context.Context, e *models.Entry) error {
	query := `INSERT INTO shift_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := s.querier(ctx).Exec(ctx, query,
		e.ID, e.ApprenticeID, e.SiteID, e.WorkDate, e.WeekEnding, e.ClockInAt,
		e.LunchStartAt, e.LunchEndAt, e.ClockOutAt,
		e.ClockInReading.Latitude, e.ClockInReading.Longitude, e.ClockInReading.AccuracyMeters, e.ClockInReading.CapturedAt,
		e.ClockInVerdict.WithinGeofence, e.ClockInVerdict.DistanceMeters, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err, openEntryIndex) {
			return fmt.Errorf("apprentice %s already has an open entry: %w", e.ApprenticeID, sentinel.ErrConflict)
		}
		if postgres.IsUniqueViolation(err, "") {
			return fmt.Errorf("entry %s already exists: %w", e.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// FindByID returns the entry or sentinel.ErrNotFound.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM shift_entries WHERE id = $1`
	e, err := scanEntry(s.querier(ctx).QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("entry %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find entry by id: %w", err)
	}
	return e, nil
}

// FindOpenByApprentice returns the apprentice's entry without a clock-out.
func (s *PostgresStore) FindOpenByApprentice(ctx context.Context, apprenticeID string) (*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM shift_entries
		WHERE apprentice_id = $1 AND clock_out_at IS NULL`
	e, err := scanEntry(s.querier(ctx).QueryRow(ctx, query, apprenticeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("open entry for %s: %w", apprenticeID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find open entry: %w", err)
	}
	return e, nil
}

// ListByWeek returns an apprentice's entries for one week, oldest first.
func (s *PostgresStore) ListByWeek(ctx context.Context, apprenticeID string, weekEnding time.Time) ([]*models.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM shift_entries
		WHERE apprentice_id = $1 AND week_ending = $2
		ORDER BY clock_in_at`
	rows, err := s.querier(ctx).Query(ctx, query, apprenticeID, models.WorkDate(weekEnding))
	if err != nil {
		return nil, fmt.Errorf("list entries by week: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

// Execute locks the entry row, runs validate, applies mutate and writes the
// lifecycle timestamps back, all in one transaction. Errors from validate are
// returned unchanged and nothing is written.
func (s *PostgresStore) Execute(ctx context.Context, id string, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error) {
	var result *models.Entry
	err := txpkg.Run(ctx, s.db, func(ctx context.Context) error {
		q := s.querier(ctx)
		query := `SELECT ` + entryColumns + ` FROM shift_entries WHERE id = $1 FOR UPDATE`
		e, err := scanEntry(q.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("entry %s: %w", id, sentinel.ErrNotFound)
			}
			return fmt.Errorf("lock entry: %w", err)
		}
		if err := validate(e); err != nil {
			return err
		}
		mutate(e)

		tag, err := q.Exec(ctx, `UPDATE shift_entries
			SET lunch_start_at = $2, lunch_end_at = $3, clock_out_at = $4, updated_at = $5
			WHERE id = $1 AND clock_out_at IS NULL`,
			e.ID, e.LunchStartAt, e.LunchEndAt, e.ClockOutAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update entry: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("entry %s is closed: %w", id, sentinel.ErrInvalidState)
		}
		result = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AddHeartbeat appends a sample and assigns its id.
func (s *PostgresStore) AddHeartbeat(ctx context.Context, hb *models.Heartbeat) error {
	query := `INSERT INTO shift_heartbeats (entry_id, apprentice_id, lat, lng, accuracy_m, captured_at,
			within_geofence, distance_m, advisory_within, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	err := s.querier(ctx).QueryRow(ctx, query,
		hb.EntryID, hb.ApprenticeID, hb.Reading.Latitude, hb.Reading.Longitude, hb.Reading.AccuracyMeters, hb.Reading.CapturedAt,
		hb.Verdict.WithinGeofence, hb.Verdict.DistanceMeters, hb.AdvisoryWithin, hb.RecordedAt,
	).Scan(&hb.ID)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

// ListHeartbeats returns the most recent samples of an entry, newest first.
func (s *PostgresStore) ListHeartbeats(ctx context.Context, entryID string, limit int) ([]*models.Heartbeat, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + heartbeatColumns + ` FROM shift_heartbeats
		WHERE entry_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2`
	rows, err := s.querier(ctx).Query(ctx, query, entryID, limit)
	if err != nil {
		return nil, fmt.Errorf("list heartbeats: %w", err)
	}
	defer rows.Close()

	var out []*models.Heartbeat
	for rows.Next() {
		var hb models.Heartbeat
		if err := rows.Scan(
			&hb.ID, &hb.EntryID, &hb.ApprenticeID,
			&hb.Reading.Latitude, &hb.Reading.Longitude, &hb.Reading.AccuracyMeters, &hb.Reading.CapturedAt,
			&hb.Verdict.WithinGeofence, &hb.Verdict.DistanceMeters, &hb.AdvisoryWithin, &hb.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan heartbeat: %w", err)
		}
		hb.Verdict.EvaluatedAt = hb.RecordedAt
		out = append(out, &hb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate heartbeats: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (*models.Entry, error) {
	var e models.Entry
	var reading att.LocationReading
	var verdict att.GeofenceVerdict
	if err := row.Scan(
		&e.ID, &e.ApprenticeID, &e.SiteID, &e.WorkDate, &e.WeekEnding, &e.ClockInAt,
		&e.LunchStartAt, &e.LunchEndAt, &e.ClockOutAt,
		&reading.Latitude, &reading.Longitude, &reading.AccuracyMeters, &reading.CapturedAt,
		&verdict.WithinGeofence, &verdict.DistanceMeters, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	verdict.EvaluatedAt = e.ClockInAt
	e.ClockInReading = reading
	e.ClockInVerdict = verdict
	return &e, nil
}
