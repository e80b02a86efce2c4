package avail

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRegistry is a Registry kept in process memory. It's used for tests
// and for running the update server without a database.
type MemoryRegistry struct {
	lock         sync.RWMutex
	locations    map[string]*Location
	availability map[string][]*Availability
	now          func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		locations:    make(map[string]*Location),
		availability: make(map[string][]*Availability),
		now:          time.Now,
	}
}

func (r *MemoryRegistry) withLatestAvailability(location *Location) *Location {
	result := location.Clone()
	if history := r.availability[location.Id]; len(history) > 0 {
		latest := *history[len(history)-1]
		result.Availability = &latest
	}
	return result
}

func (r *MemoryRegistry) ListLocations(_ context.Context, filter LocationFilter) ([]*Location, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	result := make([]*Location, 0)
	for _, location := range r.locations {
		if filter.Matches(location) {
			result = append(result, r.withLatestAvailability(location))
		}
	}
	sortLocations(result)
	return result, nil
}

func (r *MemoryRegistry) GetLocation(_ context.Context, id string) (*Location, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	location, ok := r.locations[strings.ToLower(id)]
	if !ok {
		return nil, ErrLocationNotFound
	}
	return r.withLatestAvailability(location), nil
}

func (r *MemoryRegistry) FindLocationsByExternalIds(_ context.Context, ids ExternalIdList) ([]*Location, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	result := make([]*Location, 0)
	for _, location := range r.locations {
		for _, id := range ids {
			if location.ExternalIds.Contains(id) {
				result = append(result, r.withLatestAvailability(location))
				break
			}
		}
	}
	sortLocations(result)
	return result, nil
}

func (r *MemoryRegistry) SaveLocation(_ context.Context, location *Location, availability *Availability) (*Location, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	saved := location.Clone()
	saved.Availability = nil
	saved.ExternalIds = saved.ExternalIds.Unique()
	now := r.now()

	if len(saved.Id) == 0 {
		saved.Id = newLocationId()
	}
	saved.Id = strings.ToLower(saved.Id)

	if existing, ok := r.locations[saved.Id]; ok {
		saved.CreatedAt = existing.CreatedAt
	} else {
		saved.CreatedAt = timePtr(now)
	}
	saved.UpdatedAt = timePtr(now)
	r.locations[saved.Id] = saved

	if availability != nil {
		copied := *availability
		r.availability[saved.Id] = append(r.availability[saved.Id], &copied)
	}

	return r.withLatestAvailability(saved), nil
}

// AvailabilityHistory returns every availability recorded for a location,
// oldest first.
func (r *MemoryRegistry) AvailabilityHistory(id string) []*Availability {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return append([]*Availability(nil), r.availability[strings.ToLower(id)]...)
}

// sort by creation order, then id, so results are stable
func sortLocations(locations []*Location) {
	sort.SliceStable(locations, func(i, j int) bool {
		a, b := locations[i], locations[j]
		if a.CreatedAt != nil && b.CreatedAt != nil && !a.CreatedAt.Equal(*b.CreatedAt) {
			return a.CreatedAt.Before(*b.CreatedAt)
		}
		return a.Id < b.Id
	})
}
