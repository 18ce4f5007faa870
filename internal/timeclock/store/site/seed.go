package site

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	att "timeclock/internal/attendance/models"
)

// Seeder is implemented by both site stores.
type Seeder interface {
	Upsert(ctx context.Context, site att.Site) error
	Assign(ctx context.Context, apprenticeID, siteID string) error
}

// SeedFile is the JSON document accepted by Seed.
type SeedFile struct {
	Sites       []att.Site   `json:"sites"`
	Assignments []Assignment `json:"assignments"`
}

type Assignment struct {
	ApprenticeID string `json:"apprentice_id"`
	SiteID       string `json:"site_id"`
}

// Seed upserts the sites and assignments in r. It is idempotent so it can
// run on every start.
func Seed(ctx context.Context, store Seeder, r io.Reader) (int, error) {
	var doc SeedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	for _, s := range doc.Sites {
		if s.ID == "" || s.RadiusMeters <= 0 {
			return 0, fmt.Errorf("seed site %q: id and a positive radius_m are required", s.ID)
		}
		if err := store.Upsert(ctx, s); err != nil {
			return 0, err
		}
	}
	for _, a := range doc.Assignments {
		if err := store.Assign(ctx, a.ApprenticeID, a.SiteID); err != nil {
			return 0, fmt.Errorf("seed assignment %s -> %s: %w", a.ApprenticeID, a.SiteID, err)
		}
	}
	return len(doc.Sites), nil
}

// SeedFromFile runs Seed on the file at path.
func SeedFromFile(ctx context.Context, store Seeder, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Seed(ctx, store, f)
}
