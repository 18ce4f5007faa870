package site

import (
	"context"
	"fmt"
	"sort"
	"sync"

	att "timeclock/internal/attendance/models"
	"timeclock/pkg/platform/sentinel"
)

type InMemory struct {
	mu          sync.RWMutex
	sites       map[string]att.Site
	assignments map[string]map[string]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{
		sites:       make(map[string]att.Site),
		assignments: make(map[string]map[string]struct{}),
	}
}

func (s *InMemory) ListForApprentice(_ context.Context, apprenticeID string) ([]att.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sites := []att.Site{}
	for id := range s.assignments[apprenticeID] {
		sites = append(sites, s.sites[id])
	}
	sort.Slice(sites, func(i, j int) bool {
		if sites[i].Name != sites[j].Name {
			return sites[i].Name < sites[j].Name
		}
		return sites[i].ID < sites[j].ID
	})
	return sites, nil
}

func (s *InMemory) FindForApprentice(_ context.Context, apprenticeID, siteID string) (*att.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.assignments[apprenticeID][siteID]; !ok {
		return nil, fmt.Errorf("site %s for %s: %w", siteID, apprenticeID, sentinel.ErrNotFound)
	}
	site := s.sites[siteID]
	return &site, nil
}

func (s *InMemory) FindByID(_ context.Context, siteID string) (*att.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	site, ok := s.sites[siteID]
	if !ok {
		return nil, fmt.Errorf("site %s: %w", siteID, sentinel.ErrNotFound)
	}
	return &site, nil
}

func (s *InMemory) Upsert(_ context.Context, site att.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.ID] = site
	return nil
}

func (s *InMemory) Assign(_ context.Context, apprenticeID, siteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[siteID]; !ok {
		return fmt.Errorf("site %s: %w", siteID, sentinel.ErrNotFound)
	}
	if s.assignments[apprenticeID] == nil {
		s.assignments[apprenticeID] = make(map[string]struct{})
	}
	s.assignments[apprenticeID][siteID] = struct{}{}
	return nil
}
