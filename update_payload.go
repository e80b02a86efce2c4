package avail

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// AvailabilityUpdate is the availability block of an update. IsPublic is a
// pointer so a missing value can default to true.
type AvailabilityUpdate struct {
	Availability
	IsPublic *bool `json:"is_public,omitempty"`
}

// UpdatePayload is the body of a location update. Nil fields are left alone
// when updating an existing location.
type UpdatePayload struct {
	Id           string                 `json:"id,omitempty"`
	ExternalIds  ExternalIdList         `json:"external_ids,omitempty"`
	Provider     *string                `json:"provider,omitempty"`
	LocationType *LocationType          `json:"location_type,omitempty" validate:"omitempty,oneof=PHARMACY MASS_VAX CLINIC"`
	Name         *string                `json:"name,omitempty"`
	AddressLines []string               `json:"address_lines,omitempty"`
	City         *string                `json:"city,omitempty"`
	State        *string                `json:"state,omitempty"`
	PostalCode   *string                `json:"postal_code,omitempty"`
	County       *string                `json:"county,omitempty"`
	Position     *Position              `json:"position,omitempty"`
	InfoPhone    *string                `json:"info_phone,omitempty"`
	InfoUrl      *string                `json:"info_url,omitempty"`
	BookingPhone *string                `json:"booking_phone,omitempty"`
	BookingUrl   *string                `json:"booking_url,omitempty"`
	Description  *string                `json:"description,omitempty"`
	IsPublic     *bool                  `json:"is_public,omitempty"`
	Meta         map[string]interface{} `json:"meta,omitempty"`
	Availability *AvailabilityUpdate    `json:"availability,omitempty"`
}

var (
	payloadValidator     *validator.Validate
	payloadValidatorOnce sync.Once
)

func getPayloadValidator() *validator.Validate {
	payloadValidatorOnce.Do(func() {
		payloadValidator = validator.New(validator.WithRequiredStructEnabled())
		payloadValidator.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if len(name) == 0 {
				return field.Name
			}
			return name
		})
	})
	return payloadValidator
}

// DecodeUpdatePayload parses and validates an update body. Malformed JSON is
// a ValidationError with code invalid_json; values of the wrong type or
// shape are a ValidationError with code validation_error.
func DecodeUpdatePayload(body []byte) (*UpdatePayload, error) {
	payload := new(UpdatePayload)
	if err := json.Unmarshal(body, payload); err != nil {
		return nil, decodeError(err)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func decodeError(err error) error {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var timeErr *time.ParseError

	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if len(field) == 0 {
			return &ValidationError{Code: ErrorCodeInvalidJSON, Message: "body must be a JSON object"}
		}
		return &ValidationError{
			Code:    ErrorCodeValidation,
			Field:   field,
			Message: fmt.Sprintf("must be %s, not %s", jsonTypeName(typeErr.Type), typeErr.Value),
		}
	case errors.As(err, &timeErr):
		return &ValidationError{
			Code:    ErrorCodeValidation,
			Message: fmt.Sprintf("invalid timestamp %s", timeErr.Value),
		}
	case errors.As(err, &syntaxErr), strings.Contains(err.Error(), "unexpected end of JSON input"):
		return &ValidationError{Code: ErrorCodeInvalidJSON, Message: "invalid JSON: " + err.Error()}
	}
	return &ValidationError{Code: ErrorCodeValidation, Message: err.Error()}
}

func jsonTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		return "an array"
	}
	return "an object"
}

// normalizeEnums upper-cases the availability and location type values so
// "yes" and "Yes" are accepted.
func (p *UpdatePayload) normalizeEnums() {
	if p.LocationType != nil {
		locationType := LocationType(strings.ToUpper(strings.TrimSpace(string(*p.LocationType))))
		p.LocationType = &locationType
	}
	if p.Availability == nil {
		return
	}
	p.Availability.Available = Available(strings.ToUpper(strings.TrimSpace(string(p.Availability.Available))))
	for i := range p.Availability.Slots {
		slot := &p.Availability.Slots[i]
		slot.Available = Available(strings.ToUpper(strings.TrimSpace(string(slot.Available))))
		slot.Dose = DoseType(strings.ToLower(strings.TrimSpace(string(slot.Dose))))
	}
}

// Validate checks enum values and numeric ranges. It runs before anything
// is written.
func (p *UpdatePayload) Validate() error {
	p.normalizeEnums()

	for _, id := range p.ExternalIds {
		if len(id.System) == 0 || len(id.Value) == 0 {
			return &ValidationError{
				Code:    ErrorCodeValidation,
				Field:   "external_ids",
				Message: fmt.Sprintf("empty system or value in %s", id),
			}
		}
	}

	err := getPayloadValidator().Struct(p)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Code: ErrorCodeValidation, Message: err.Error()}
	}

	fieldErr := fieldErrs[0]
	field := validationFieldPath(fieldErr.Namespace())
	message := fmt.Sprintf("failed %q check", fieldErr.Tag())
	switch fieldErr.Tag() {
	case "required":
		message = "is required"
	case "oneof":
		message = fmt.Sprintf("must be one of [%s], not %q", fieldErr.Param(), fmt.Sprint(fieldErr.Value()))
	case "min":
		message = "must be at least " + fieldErr.Param()
	}
	return &ValidationError{Code: ErrorCodeValidation, Field: field, Message: message}
}

// validationFieldPath turns "UpdatePayload.availability.Availability.slots[0].available"
// into "availability.slots[0].available".
func validationFieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	path := make([]string, 0, len(parts))
	for i, part := range parts {
		if i == 0 || part == "Availability" {
			continue
		}
		path = append(path, part)
	}
	return strings.Join(path, ".")
}

// PayloadFromLocation builds an update that sets every populated field of a
// location, plus its availability if it has one.
func PayloadFromLocation(location *Location) *UpdatePayload {
	isPublic := location.IsPublic
	payload := &UpdatePayload{
		Id:           location.Id,
		ExternalIds:  append(ExternalIdList(nil), location.ExternalIds...),
		AddressLines: append([]string(nil), location.AddressLines...),
		IsPublic:     &isPublic,
		Meta:         MergeMeta(nil, location.Meta),
	}
	if len(payload.AddressLines) == 0 {
		payload.AddressLines = nil
	}
	if location.Position != nil {
		position := *location.Position
		payload.Position = &position
	}
	if len(location.LocationType) > 0 {
		locationType := location.LocationType
		payload.LocationType = &locationType
	}

	for _, field := range []struct {
		value  string
		target **string
	}{
		{location.Provider, &payload.Provider},
		{location.Name, &payload.Name},
		{location.City, &payload.City},
		{location.State, &payload.State},
		{location.PostalCode, &payload.PostalCode},
		{location.County, &payload.County},
		{location.InfoPhone, &payload.InfoPhone},
		{location.InfoUrl, &payload.InfoUrl},
		{location.BookingPhone, &payload.BookingPhone},
		{location.BookingUrl, &payload.BookingUrl},
		{location.Description, &payload.Description},
	} {
		if len(field.value) > 0 {
			value := field.value
			*field.target = &value
		}
	}

	if location.Availability != nil {
		availability := *location.Availability
		availabilityPublic := availability.IsPublic
		payload.Availability = &AvailabilityUpdate{Availability: availability, IsPublic: &availabilityPublic}
	}

	return payload
}
