package avail

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrLocationNotFound = errors.New("location not found")

// LocationFilter scopes a listing of known locations. Empty fields match
// everything.
type LocationFilter struct {
	Provider       string
	State          string
	IncludePrivate bool
}

func (f LocationFilter) Matches(location *Location) bool {
	if len(f.Provider) > 0 && location.Provider != f.Provider {
		return false
	}
	if len(f.State) > 0 && location.State != f.State {
		return false
	}
	return f.IncludePrivate || location.IsPublic
}

// LocationLister is anything that can list known locations: a Registry or a
// remote API.
type LocationLister interface {
	ListLocations(ctx context.Context, filter LocationFilter) ([]*Location, error)
}

// Registry is the persistent set of known locations.
type Registry interface {
	LocationLister

	// GetLocation returns ErrLocationNotFound if there's no such row.
	GetLocation(ctx context.Context, id string) (*Location, error)

	// FindLocationsByExternalIds returns every row that has any of ids.
	FindLocationsByExternalIds(ctx context.Context, ids ExternalIdList) ([]*Location, error)

	// SaveLocation atomically inserts or updates a row and, if availability
	// is non-nil, appends it as the row's latest availability. A location
	// with an empty Id is inserted with a new one. Returns the saved row.
	SaveLocation(ctx context.Context, location *Location, availability *Availability) (*Location, error)
}

func newLocationId() string {
	return uuid.NewString()
}

// IsLocationId reports whether id is shaped like a registry id.
func IsLocationId(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
