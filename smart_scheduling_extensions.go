package avail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	ExtensionUrlProduct         = "http://fhir-registry.smarthealthit.org/StructureDefinition/vaccine-product"
	ExtensionUrlDose            = "http://fhir-registry.smarthealthit.org/StructureDefinition/vaccine-dose"
	ExtensionUrlCapacity        = "http://fhir-registry.smarthealthit.org/StructureDefinition/slot-capacity"
	ExtensionUrlBookingDeepLink = "http://fhir-registry.smarthealthit.org/StructureDefinition/booking-deep-link"
	ExtensionUrlBookingPhone    = "http://fhir-registry.smarthealthit.org/StructureDefinition/booking-phone"
)

// ExtensionKind says which of the recognized extensions an Extension is.
type ExtensionKind int

const (
	ExtensionUnrecognized ExtensionKind = iota
	ExtensionProduct
	ExtensionDose
	ExtensionCapacity
	ExtensionBookingDeepLink
	ExtensionBookingPhone
)

var extensionKindsByUrl = map[string]ExtensionKind{
	ExtensionUrlProduct:         ExtensionProduct,
	ExtensionUrlDose:            ExtensionDose,
	ExtensionUrlCapacity:        ExtensionCapacity,
	ExtensionUrlBookingDeepLink: ExtensionBookingDeepLink,
	ExtensionUrlBookingPhone:    ExtensionBookingPhone,
}

func (k ExtensionKind) String() string {
	switch k {
	case ExtensionProduct:
		return "product"
	case ExtensionDose:
		return "dose"
	case ExtensionCapacity:
		return "capacity"
	case ExtensionBookingDeepLink:
		return "booking-deep-link"
	case ExtensionBookingPhone:
		return "booking-phone"
	}
	return "unrecognized"
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Extension is one (url, value) pair from a schedule or slot. Only the field
// matching Kind is set. Decoding never fails: if the value isn't the type
// the kind calls for, Err says why and Raw holds the original JSON so it
// can be logged.
type Extension struct {
	Kind    ExtensionKind
	Url     string
	Coding  Coding
	Integer int
	Text    string
	Raw     json.RawMessage
	Err     error
}

type rawExtension struct {
	Url          string          `json:"url"`
	ValueCoding  *Coding         `json:"valueCoding"`
	ValueInteger json.RawMessage `json:"valueInteger"`
	ValueUrl     *string         `json:"valueUrl"`
	ValueString  *string         `json:"valueString"`
}

func (e *Extension) UnmarshalJSON(data []byte) error {
	*e = Extension{Raw: append(json.RawMessage(nil), data...)}

	var raw rawExtension
	if err := json.Unmarshal(data, &raw); err != nil {
		e.Err = fmt.Errorf("malformed extension: %v", err)
		return nil
	}

	e.Url = raw.Url
	e.Kind = extensionKindsByUrl[raw.Url]

	switch e.Kind {
	case ExtensionProduct:
		if raw.ValueCoding == nil {
			e.Err = fmt.Errorf("missing valueCoding")
		} else {
			e.Coding = *raw.ValueCoding
		}
	case ExtensionDose, ExtensionCapacity:
		e.Integer, e.Err = parseExtensionInteger(raw.ValueInteger)
	case ExtensionBookingDeepLink:
		if raw.ValueUrl == nil {
			e.Err = fmt.Errorf("missing valueUrl")
		} else {
			e.Text = *raw.ValueUrl
		}
	case ExtensionBookingPhone:
		if raw.ValueString == nil {
			e.Err = fmt.Errorf("missing valueString")
		} else {
			e.Text = *raw.ValueString
		}
	}

	return nil
}

func (e Extension) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(map[string]string{"url": e.Url})
}

// Some feeds send integers as strings, e.g. "valueInteger": "5"
func parseExtensionInteger(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("missing valueInteger")
	}

	var number json.Number
	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("invalid valueInteger %s", raw)
		}
		number = json.Number(strings.TrimSpace(text))
	} else if err := json.Unmarshal(raw, &number); err != nil {
		return 0, fmt.Errorf("invalid valueInteger %s", raw)
	}

	value, err := strconv.Atoi(number.String())
	if err != nil {
		return 0, fmt.Errorf("non-integer valueInteger %s", raw)
	}
	return value, nil
}

// ScheduleInfo is what we learn from a schedule's extensions.
type ScheduleInfo struct {
	IsCovid             bool
	HasNonCovidProducts bool
	Products            ProductSet
	Dose                DoseType
}

type extensionWarning struct {
	ScheduleId string    `json:"scheduleId,omitempty"`
	SlotId     string    `json:"slotId,omitempty"`
	Extension  Extension `json:"extension"`
	Error      string    `json:"error,omitempty"`
}

// ParseSchedule works out which products and doses a schedule offers.
// Schedules that only list non-COVID vaccines are marked IsCovid=false. A
// nil schedule is treated as an unannotated COVID schedule.
func ParseSchedule(schedule *SmartSchedule) ScheduleInfo {
	info := ScheduleInfo{IsCovid: true}
	if schedule == nil {
		return info
	}

	doses := make(map[int]bool)
	for _, extension := range schedule.Extension {
		if extension.Err != nil {
			warnContext("smart", fmt.Sprintf("Invalid %s extension", extension.Kind),
				extensionWarning{ScheduleId: schedule.Id, Extension: extension, Error: extension.Err.Error()})
			continue
		}

		switch extension.Kind {
		case ExtensionProduct:
			var product VaccineProduct
			var ok bool
			if len(extension.Coding.Code) > 0 {
				product, ok = ProductsByCvxCode[extension.Coding.Code]
			} else {
				product, ok = MatchVaccineProduct(extension.Coding.Display)
			}

			if ok {
				info.Products = info.Products.Add(product)
			} else if IsNonCovidProductName(extension.Coding.Display) {
				info.HasNonCovidProducts = true
			} else {
				warnContext("smart", fmt.Sprintf("Unparseable product %q", extension.Coding.Display),
					extensionWarning{ScheduleId: schedule.Id, Extension: extension})
			}
		case ExtensionDose:
			if extension.Integer >= 1 && extension.Integer <= 2 {
				doses[extension.Integer] = true
			} else {
				warnContext("smart", "Unparseable dose extension",
					extensionWarning{ScheduleId: schedule.Id, Extension: extension})
			}
		default:
			warnContext("smart", fmt.Sprintf("Unknown schedule extension url: %q", extension.Url),
				extensionWarning{ScheduleId: schedule.Id, Extension: extension})
		}
	}

	if len(doses) > 1 {
		info.Dose = DoseAllDoses
	} else if doses[1] {
		info.Dose = DoseFirstDoseOnly
	} else if doses[2] {
		info.Dose = DoseSecondDoseOnly
	}

	// non-COVID products show up on COVID schedules; only treat the schedule
	// as non-COVID if that's all it has
	if info.Products.Len() == 0 && info.HasNonCovidProducts {
		info.IsCovid = false
	}

	return info
}
