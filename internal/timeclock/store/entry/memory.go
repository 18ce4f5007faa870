package entry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"timeclock/internal/timeclock/models"
	"timeclock/pkg/platform/sentinel"
)

// InMemory is a process-local entry store with the same contract as
// PostgresStore.
type InMemory struct {
	mu         sync.Mutex
	entries    map[string]*models.Entry
	open       map[string]string // apprentice id -> open entry id
	heartbeats map[string][]*models.Heartbeat
	nextHBID   int64
}

func NewInMemory() *InMemory {
	return &InMemory{
		entries:    make(map[string]*models.Entry),
		open:       make(map[string]string),
		heartbeats: make(map[string][]*models.Heartbeat),
	}
}

func (s *InMemory) Create(_ context.Context, e *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.ID]; ok {
		return fmt.Errorf("entry %s already exists: %w", e.ID, sentinel.ErrConflict)
	}
	if e.IsOpen() {
		if _, ok := s.open[e.ApprenticeID]; ok {
			return fmt.Errorf("apprentice %s already has an open entry: %w", e.ApprenticeID, sentinel.ErrConflict)
		}
		s.open[e.ApprenticeID] = e.ID
	}
	s.entries[e.ID] = e.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, id string) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, sentinel.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *InMemory) FindOpenByApprentice(_ context.Context, apprenticeID string) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.open[apprenticeID]
	if !ok {
		return nil, fmt.Errorf("open entry for %s: %w", apprenticeID, sentinel.ErrNotFound)
	}
	return s.entries[id].Clone(), nil
}

func (s *InMemory) ListByWeek(_ context.Context, apprenticeID string, weekEnding time.Time) ([]*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week := models.WorkDate(weekEnding)
	var out []*models.Entry
	for _, e := range s.entries {
		if e.ApprenticeID == apprenticeID && e.WeekEnding.Equal(week) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClockInAt.Before(out[j].ClockInAt) })
	return out, nil
}

// Execute runs validate and mutate on a copy under the store lock and
// commits the copy only when validate passes.
func (s *InMemory) Execute(_ context.Context, id string, validate func(*models.Entry) error, mutate func(*models.Entry)) (*models.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w", id, sentinel.ErrNotFound)
	}
	e := current.Clone()
	if err := validate(e); err != nil {
		return nil, err
	}
	if !current.IsOpen() {
		return nil, fmt.Errorf("entry %s is closed: %w", id, sentinel.ErrInvalidState)
	}
	mutate(e)

	if !e.IsOpen() && s.open[e.ApprenticeID] == e.ID {
		delete(s.open, e.ApprenticeID)
	}
	s.entries[id] = e
	return e.Clone(), nil
}

func (s *InMemory) AddHeartbeat(_ context.Context, hb *models.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[hb.EntryID]; !ok {
		return fmt.Errorf("entry %s: %w", hb.EntryID, sentinel.ErrNotFound)
	}
	s.nextHBID++
	hb.ID = s.nextHBID
	stored := *hb
	s.heartbeats[hb.EntryID] = append(s.heartbeats[hb.EntryID], &stored)
	return nil
}

func (s *InMemory) ListHeartbeats(_ context.Context, entryID string, limit int) ([]*models.Heartbeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	all := s.heartbeats[entryID]
	out := make([]*models.Heartbeat, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		hb := *all[i]
		out = append(out, &hb)
	}
	return out, nil
}
