package avail

import (
	"sync"
)

// KnownLocation is a registry row plus whether the current run has seen it.
type KnownLocation struct {
	Location *Location
	Found    bool
}

// KnownLocations indexes registry rows for one provider and state by
// external id ("system:value"). It is built once at the start of a run and
// tracks which rows the run observes so the rest can be hidden afterward.
type KnownLocations struct {
	byExternalId map[string]*KnownLocation
	all          []*KnownLocation
	lock         *sync.Mutex
}

// NewKnownLocations builds an index over locations. Ids in low-trust
// systems aren't indexed. If two rows share an id, the first one keeps it.
func NewKnownLocations(locations []*Location) *KnownLocations {
	known := &KnownLocations{
		byExternalId: make(map[string]*KnownLocation),
		all:          make([]*KnownLocation, 0, len(locations)),
		lock:         new(sync.Mutex),
	}

	for _, location := range locations {
		copied := location.Clone()
		// don't send stale availability back out when hiding this later
		copied.Availability = nil

		entry := &KnownLocation{Location: copied}
		known.all = append(known.all, entry)

		for _, id := range copied.ExternalIds {
			if LowTrustSystems[id.System] {
				continue
			}
			if existing, ok := known.byExternalId[id.Key()]; ok {
				if existing != entry {
					Log.Warnf("External id %s is used by locations %s and %s", id, existing.Location.Id, copied.Id)
				}
				continue
			}
			known.byExternalId[id.Key()] = entry
		}
	}

	return known
}

func (k *KnownLocations) Len() int {
	return len(k.all)
}

// matches returns the distinct rows the ids resolve to, in the order of
// the first id that hit each one.
func (k *KnownLocations) matches(ids ExternalIdList) []*KnownLocation {
	result := make([]*KnownLocation, 0, 1)
	for _, id := range ids {
		if LowTrustSystems[id.System] {
			continue
		}
		entry, ok := k.byExternalId[id.Key()]
		if !ok {
			continue
		}

		duplicate := false
		for _, existing := range result {
			if existing == entry {
				duplicate = true
				break
			}
		}
		if !duplicate {
			result = append(result, entry)
		}
	}
	return result
}

func conflictError(ids ExternalIdList, entries []*KnownLocation) *IdentityConflictError {
	conflict := &IdentityConflictError{ExternalIds: ids}
	for _, entry := range entries {
		conflict.LocationIds = append(conflict.LocationIds, entry.Location.Id)
	}
	return conflict
}

// Match finds the row a record's external ids refer to: the row hit by the
// first of ids that's in the index. If the ids point at more than one row,
// that's an *IdentityConflictError instead. No match is (nil, nil).
func (k *KnownLocations) Match(ids ExternalIdList) (*KnownLocation, error) {
	k.lock.Lock()
	defer k.lock.Unlock()

	entries := k.matches(ids)
	switch len(entries) {
	case 0:
		return nil, nil
	case 1:
		return entries[0], nil
	default:
		return nil, conflictError(ids, entries)
	}
}

// MarkFound records that the run saw a location with these ids. Every row
// the ids match is marked; if that's more than one row, the conflict is
// returned so the caller can report it.
func (k *KnownLocations) MarkFound(ids ExternalIdList) (bool, error) {
	k.lock.Lock()
	defer k.lock.Unlock()

	entries := k.matches(ids)
	for _, entry := range entries {
		entry.Found = true
	}

	if len(entries) > 1 {
		return true, conflictError(ids, entries)
	}
	return len(entries) > 0, nil
}

// Missing returns copies of every row the run hasn't seen, marked as not
// public. Identity and external ids are untouched.
func (k *KnownLocations) Missing() []*Location {
	k.lock.Lock()
	defer k.lock.Unlock()

	missing := make([]*Location, 0)
	for _, entry := range k.all {
		if entry.Found {
			continue
		}
		hidden := entry.Location.Clone()
		hidden.IsPublic = false
		missing = append(missing, hidden)
	}
	return missing
}
