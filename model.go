package avail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Available is the coarse availability of a location or slot.
type Available string

const (
	AvailableYes     Available = "YES"
	AvailableNo      Available = "NO"
	AvailableUnknown Available = "UNKNOWN"
)

// ParseAvailable accepts any casing of the three availability values.
func ParseAvailable(text string) (Available, bool) {
	switch Available(strings.ToUpper(strings.TrimSpace(text))) {
	case AvailableYes:
		return AvailableYes, true
	case AvailableNo:
		return AvailableNo, true
	case AvailableUnknown:
		return AvailableUnknown, true
	}
	return "", false
}

type LocationType string

const (
	LocationTypePharmacy LocationType = "PHARMACY"
	LocationTypeMassVax  LocationType = "MASS_VAX"
	LocationTypeClinic   LocationType = "CLINIC"
)

func ParseLocationType(text string) (LocationType, bool) {
	switch LocationType(strings.ToUpper(strings.TrimSpace(text))) {
	case LocationTypePharmacy:
		return LocationTypePharmacy, true
	case LocationTypeMassVax:
		return LocationTypeMassVax, true
	case LocationTypeClinic:
		return LocationTypeClinic, true
	}
	return "", false
}

// DoseType describes which doses a slot or schedule is for. The zero value
// means the source didn't say.
type DoseType string

const (
	DoseUndefined      DoseType = ""
	DoseFirstDoseOnly  DoseType = "first_dose_only"
	DoseSecondDoseOnly DoseType = "second_dose_only"
	DoseAllDoses       DoseType = "all_doses"
)

// Short names for well-known identifier systems.
const (
	SystemVtrcks = "vtrcks"
	SystemNpi    = "npi_usa"
)

// LowTrustSystems are never used to match records to known locations.
// VTrckS PINs are shared between unrelated sites often enough that matching
// on them merges locations that shouldn't be.
var LowTrustSystems = map[string]bool{
	SystemVtrcks: true,
}

// ExternalId identifies a location in some third party's namespace. It is
// serialized as a two-element array: ["system", "value"].
type ExternalId struct {
	System string
	Value  string
}

func (id ExternalId) Key() string {
	return id.System + ":" + id.Value
}

func (id ExternalId) String() string {
	return id.Key()
}

func (id ExternalId) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{id.System, id.Value})
}

func (id *ExternalId) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("external id must have 2 parts, got %d", len(pair))
	}
	id.System = pair[0]
	id.Value = pair[1]
	return nil
}

// ExternalIdList is an ordered list of external ids. It decodes from either
// a list of pairs or a {"system": "value"} object (in document order).
type ExternalIdList []ExternalId

func (list *ExternalIdList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*list = nil
		return nil
	}

	if trimmed[0] == '[' {
		var ids []ExternalId
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return err
		}
		*list = ids
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if _, err := decoder.Token(); err != nil {
		return err
	}

	ids := make(ExternalIdList, 0)
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return err
		}
		system, _ := keyToken.(string)

		var value interface{}
		if err := decoder.Decode(&value); err != nil {
			return err
		}

		// {"system": ["a", "b"]} carries several ids in one system
		items, isList := value.([]interface{})
		if !isList {
			items = []interface{}{value}
		}
		for _, item := range items {
			id, ok := externalIdValue(item)
			if !ok {
				return fmt.Errorf("unexpected value for external id %q: %T", system, item)
			}
			ids = append(ids, ExternalId{System: system, Value: id})
		}
	}

	*list = ids
	return nil
}

// numbers keep their literal digits, so 1234567890 stays "1234567890"
func externalIdValue(value interface{}) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	}
	return "", false
}

func (list ExternalIdList) Contains(id ExternalId) bool {
	for _, existing := range list {
		if existing == id {
			return true
		}
	}
	return false
}

// Unique returns the list with duplicate (system, value) pairs removed,
// keeping the first occurrence.
func (list ExternalIdList) Unique() ExternalIdList {
	return UniqueExternalIds(list)
}

// Merge appends ids from other that aren't already present.
func (list ExternalIdList) Merge(other ExternalIdList) ExternalIdList {
	merged := make(ExternalIdList, 0, len(list)+len(other))
	merged = append(merged, list...)
	merged = append(merged, other...)
	return UniqueExternalIds(merged)
}

func UniqueExternalIds(ids []ExternalId) ExternalIdList {
	seen := make(map[string]bool, len(ids))
	result := make(ExternalIdList, 0, len(ids))
	for _, id := range ids {
		if !seen[id.Key()] {
			seen[id.Key()] = true
			result = append(result, id)
		}
	}
	return result
}

type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Position) Zero() bool {
	return p.Latitude == 0.0 && p.Longitude == 0.0
}

func (p Position) String() string {
	return fmt.Sprintf("%f,%f", p.Latitude, p.Longitude)
}

// Location is the canonical record for a physical place that offers
// vaccinations.
type Location struct {
	Id           string                 `json:"id,omitempty"`
	ExternalIds  ExternalIdList         `json:"external_ids,omitempty"`
	Provider     string                 `json:"provider,omitempty"`
	LocationType LocationType           `json:"location_type,omitempty"`
	Name         string                 `json:"name,omitempty"`
	AddressLines []string               `json:"address_lines,omitempty"`
	City         string                 `json:"city,omitempty"`
	State        string                 `json:"state,omitempty"`
	PostalCode   string                 `json:"postal_code,omitempty"`
	County       string                 `json:"county,omitempty"`
	Position     *Position              `json:"position,omitempty"`
	InfoPhone    string                 `json:"info_phone,omitempty"`
	InfoUrl      string                 `json:"info_url,omitempty"`
	BookingPhone string                 `json:"booking_phone,omitempty"`
	BookingUrl   string                 `json:"booking_url,omitempty"`
	Description  string                 `json:"description,omitempty"`
	IsPublic     bool                   `json:"is_public"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	Availability *Availability          `json:"availability,omitempty"`
	CreatedAt    *time.Time             `json:"created_at,omitempty"`
	UpdatedAt    *time.Time             `json:"updated_at,omitempty"`
}

// Clone returns a copy that shares no slices or maps with l.
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	c := *l
	c.ExternalIds = append(ExternalIdList(nil), l.ExternalIds...)
	c.AddressLines = append([]string(nil), l.AddressLines...)
	if l.Position != nil {
		position := *l.Position
		c.Position = &position
	}
	c.Meta = MergeMeta(nil, l.Meta)
	if l.Availability != nil {
		availability := *l.Availability
		c.Availability = &availability
	}
	return &c
}

// Availability is a point-in-time observation of a location's appointments.
type Availability struct {
	Source         string                 `json:"source" validate:"required"`
	ValidAt        *time.Time             `json:"valid_at,omitempty"`
	CheckedAt      *time.Time             `json:"checked_at,omitempty"`
	Available      Available              `json:"available" validate:"required,oneof=YES NO UNKNOWN"`
	AvailableCount *int                   `json:"available_count,omitempty" validate:"omitempty,min=0"`
	Products       []VaccineProduct       `json:"products,omitempty"`
	Doses          []DoseType             `json:"doses,omitempty"`
	Slots          []Slot                 `json:"slots,omitempty" validate:"omitempty,dive"`
	IsPublic       bool                   `json:"is_public"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
}

type Slot struct {
	Start          time.Time        `json:"start"`
	End            *time.Time       `json:"end,omitempty"`
	Available      Available        `json:"available" validate:"required,oneof=YES NO UNKNOWN"`
	AvailableCount *int             `json:"available_count,omitempty" validate:"omitempty,min=0"`
	Products       []VaccineProduct `json:"products,omitempty"`
	Dose           DoseType         `json:"dose,omitempty" validate:"omitempty,oneof=first_dose_only second_dose_only all_doses"`
	BookingUrl     string           `json:"booking_url,omitempty"`
}

// MergeMeta does a shallow merge of update into base, returning a new map.
// Keys in update win.
func MergeMeta(base map[string]interface{}, update map[string]interface{}) map[string]interface{} {
	if base == nil && update == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(base)+len(update))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}

func intPtr(value int) *int {
	return &value
}

func timePtr(value time.Time) *time.Time {
	return &value
}
