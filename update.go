package avail

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// UpdateResult is the saved location and whether the update created it.
type UpdateResult struct {
	Location *Location
	Created  bool
}

// UpdateService applies update payloads to a Registry.
type UpdateService struct {
	Registry Registry
	Now      func() time.Time
}

func NewUpdateService(registry Registry) *UpdateService {
	return &UpdateService{Registry: registry, Now: time.Now}
}

// Update finds the location a payload refers to and applies it, or creates
// a new location if nothing matches.
//
// The location is found by payload.Id if that's a known registry id, and
// otherwise by payload.ExternalIds. Location fields are only changed when
// updateLocation is set (new locations always get them). Availability is
// always recorded as a new observation.
//
// Returns a *ValidationError if the payload is bad and an
// *IdentityConflictError if its external ids point at several locations.
// Neither touches the registry.
func (s *UpdateService) Update(ctx context.Context, payload *UpdatePayload, updateLocation bool) (*UpdateResult, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.resolve(ctx, payload)
	if err != nil {
		return nil, err
	}

	var location *Location
	created := existing == nil
	if created {
		if payload.Name == nil || len(*payload.Name) == 0 {
			return nil, &ValidationError{
				Code:    ErrorCodeMissingName,
				Field:   "name",
				Message: "no location matches this update and it has no name to create one with",
			}
		}
		location = &Location{IsPublic: true}
		applyLocationFields(location, payload)
	} else {
		location = existing.Clone()
		location.Availability = nil
		if updateLocation {
			applyLocationFields(location, payload)
		}
	}

	var availability *Availability
	if payload.Availability != nil {
		availability = s.availabilityFrom(payload.Availability)
	}

	saved, err := s.Registry.SaveLocation(ctx, location, availability)
	if err != nil {
		return nil, eris.Wrapf(err, "update: save %s", location.Name)
	}

	return &UpdateResult{Location: saved, Created: created}, nil
}

func (s *UpdateService) resolve(ctx context.Context, payload *UpdatePayload) (*Location, error) {
	if len(payload.Id) > 0 && IsLocationId(payload.Id) {
		location, err := s.Registry.GetLocation(ctx, payload.Id)
		if err == nil {
			return location, nil
		} else if !errors.Is(err, ErrLocationNotFound) {
			return nil, eris.Wrapf(err, "update: get %s", payload.Id)
		}
	}

	ids := make(ExternalIdList, 0, len(payload.ExternalIds))
	for _, id := range payload.ExternalIds {
		if !LowTrustSystems[id.System] {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	candidates, err := s.Registry.FindLocationsByExternalIds(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "update: find by external ids")
	}

	match, err := NewKnownLocations(candidates).Match(ids)
	if err != nil || match == nil {
		return nil, err
	}

	// the index copy has no availability; return the stored row
	for _, candidate := range candidates {
		if candidate.Id == match.Location.Id {
			return candidate, nil
		}
	}
	return match.Location, nil
}

// applyLocationFields overwrites scalar fields that are set in the payload,
// unions the external ids and shallow-merges meta.
func applyLocationFields(location *Location, payload *UpdatePayload) {
	for _, field := range []struct {
		value  *string
		target *string
	}{
		{payload.Provider, &location.Provider},
		{payload.Name, &location.Name},
		{payload.City, &location.City},
		{payload.State, &location.State},
		{payload.County, &location.County},
		{payload.InfoPhone, &location.InfoPhone},
		{payload.InfoUrl, &location.InfoUrl},
		{payload.BookingPhone, &location.BookingPhone},
		{payload.BookingUrl, &location.BookingUrl},
		{payload.Description, &location.Description},
	} {
		if field.value != nil {
			*field.target = *field.value
		}
	}

	if payload.PostalCode != nil {
		location.PostalCode = CleanPostalCode(*payload.PostalCode)
	}
	if payload.LocationType != nil {
		location.LocationType = *payload.LocationType
	}
	if payload.AddressLines != nil {
		location.AddressLines = CleanAddressLines(payload.AddressLines)
	}
	if payload.Position != nil {
		position := *payload.Position
		location.Position = &position
	}
	if payload.IsPublic != nil {
		location.IsPublic = *payload.IsPublic
	}

	location.ExternalIds = location.ExternalIds.Merge(payload.ExternalIds)
	if payload.Meta != nil {
		location.Meta = MergeMeta(location.Meta, payload.Meta)
	}
}

func (s *UpdateService) availabilityFrom(update *AvailabilityUpdate) *Availability {
	availability := update.Availability
	availability.IsPublic = true
	if update.IsPublic != nil {
		availability.IsPublic = *update.IsPublic
	}
	if availability.CheckedAt == nil {
		availability.CheckedAt = timePtr(s.Now())
	}
	return &availability
}
