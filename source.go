package avail

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
)

// DefaultStates is used when no states are configured.
var DefaultStates = []string{
	"AK", "AL", "AR", "AZ", "CA", "CO", "CT", "DC", "DE", "FL", "GA", "HI", "IA", "ID", "IL", "IN",
	"KS", "KY", "LA", "MA", "MD", "ME", "MI", "MN", "MO", "MS", "MT", "NC", "ND", "NE", "NH", "NJ",
	"NM", "NV", "NY", "OH", "OK", "OR", "PA", "PR", "RI", "SC", "SD", "TN", "TX", "UT", "VA", "VT",
	"WA", "WI", "WV", "WY",
}

type UpdateOptions struct {
	// apply location fields (name, address, ...) and not just availability
	UpdateLocation bool
}

// Handler receives each canonical location a source produces.
type Handler func(ctx context.Context, location *Location, options UpdateOptions) error

type RunOptions struct {
	States []string
	// republish known locations the run didn't see with is_public=false
	HideMissingLocations bool
	// where to look up known locations for HideMissingLocations
	KnownLocations LocationLister
}

func (o RunOptions) statesOrDefault() []string {
	if len(o.States) > 0 {
		return o.States
	}
	return DefaultStates
}

// Source loads availability from one upstream system and hands canonical
// records to a Handler. CheckAvailability returns every record it handled.
type Source interface {
	Type() string
	Name() string
	Configure(params map[string]interface{}) error
	CheckAvailability(ctx context.Context, handler Handler, options RunOptions) ([]*Location, error)
}

type SourceFactory interface {
	Type() string
	CreateSources(name string) (map[string]Source, error)
}

func GetSourceFactories() map[string]SourceFactory {
	var factory SourceFactory

	sourceFactories := make(map[string]SourceFactory)

	factory = new(SmartSourceFactory)
	sourceFactories[factory.Type()] = factory

	return sourceFactories
}

// Overrides patch specific locations after a source formats them. Keys are
// external ids ("system:value"); values are partial location JSON objects.
type Overrides map[string]map[string]interface{}

func overridesFromParams(params map[string]interface{}) (Overrides, error) {
	raw := getMapOptional(params, ParamKeyOverrides)
	if raw == nil {
		return nil, nil
	}

	overrides := make(Overrides, len(raw))
	for key := range raw {
		patch, err := getMapRequired(raw, key)
		if err != nil {
			return nil, err
		}
		overrides[key] = jsonSafe(patch).(map[string]interface{})
	}
	return overrides, nil
}

// Apply returns location with the first matching patch applied. location
// itself is not modified.
func (o Overrides) Apply(location *Location) (*Location, error) {
	if len(o) == 0 || location == nil {
		return location, nil
	}

	for _, id := range location.ExternalIds {
		patch, ok := o[id.Key()]
		if !ok {
			continue
		}

		data, err := json.Marshal(location)
		if err != nil {
			return nil, eris.Wrap(err, "overrides: encode")
		}
		fields := make(map[string]interface{})
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, eris.Wrap(err, "overrides: decode")
		}
		for key, value := range patch {
			fields[key] = value
		}
		if data, err = json.Marshal(fields); err != nil {
			return nil, eris.Wrap(err, "overrides: encode patch")
		}

		patched := new(Location)
		if err := json.Unmarshal(data, patched); err != nil {
			return nil, eris.Wrapf(err, "overrides: bad patch for %s", id)
		}
		return patched, nil
	}

	return location, nil
}
