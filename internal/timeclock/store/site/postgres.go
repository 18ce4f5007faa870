package site

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	att "timeclock/internal/attendance/models"
	"timeclock/internal/platform/postgres"
	"timeclock/pkg/platform/sentinel"
)

const siteColumns = `s.id, s.name, s.latitude, s.longitude, s.radius_m`

// PostgresStore reads sites and apprentice assignments.
type PostgresStore struct {
	db postgres.Querier
}

func NewPostgres(db postgres.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// ListForApprentice returns the sites assigned to an apprentice, by name.
func (s *PostgresStore) ListForApprentice(ctx context.Context, apprenticeID string) ([]att.Site, error) {
	query := `SELECT ` + siteColumns + `
		FROM sites s JOIN apprentice_sites a ON a.site_id = s.id
		WHERE a.apprentice_id = $1
		ORDER BY s.name, s.id`
	rows, err := s.db.Query(ctx, query, apprenticeID)
	if err != nil {
		return nil, fmt.Errorf("list sites for apprentice: %w", err)
	}
	defer rows.Close()

	sites := []att.Site{}
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// FindForApprentice returns the site only when it is assigned to the apprentice.
func (s *PostgresStore) FindForApprentice(ctx context.Context, apprenticeID, siteID string) (*att.Site, error) {
	query := `SELECT ` + siteColumns + `
		FROM sites s JOIN apprentice_sites a ON a.site_id = s.id
		WHERE a.apprentice_id = $1 AND s.id = $2`
	site, err := scanSite(s.db.QueryRow(ctx, query, apprenticeID, siteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("site %s for %s: %w", siteID, apprenticeID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find site for apprentice: %w", err)
	}
	return &site, nil
}

// FindByID returns a site regardless of assignment.
func (s *PostgresStore) FindByID(ctx context.Context, siteID string) (*att.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites s WHERE s.id = $1`
	site, err := scanSite(s.db.QueryRow(ctx, query, siteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("site %s: %w", siteID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find site: %w", err)
	}
	return &site, nil
}

// Upsert creates or replaces a site definition.
func (s *PostgresStore) Upsert(ctx context.Context, site att.Site) error {
	_, err := s.db.Exec(ctx, `INSERT INTO sites (id, name, latitude, longitude, radius_m)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			radius_m = EXCLUDED.radius_m,
			updated_at = now()`,
		site.ID, site.Name, site.Latitude, site.Longitude, site.RadiusMeters,
	)
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

// Assign grants an apprentice access to a site. Repeated grants are no-ops.
func (s *PostgresStore) Assign(ctx context.Context, apprenticeID, siteID string) error {
	tag, err := s.db.Exec(ctx, `INSERT INTO apprentice_sites (apprentice_id, site_id)
		SELECT $1, id FROM sites WHERE id = $2
		ON CONFLICT DO NOTHING`,
		apprenticeID, siteID,
	)
	if err != nil {
		return fmt.Errorf("assign site: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindByID(ctx, siteID); err != nil {
			return err
		}
	}
	return nil
}

func scanSite(row pgx.Row) (att.Site, error) {
	var site att.Site
	err := row.Scan(&site.ID, &site.Name, &site.Latitude, &site.Longitude, &site.RadiusMeters)
	return site, err
}
