package avail

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const SourceTypeSmart = "smart_scheduling_links"
const DefaultSmartApiPath = "/api/smart-scheduling-links/$bulk-publish"

const ParamKeyRateLimit = "rate_limit"

var schemePattern = regexp.MustCompile(`(?i)^https?://`)

// SmartSource loads every host of a provider that publishes SMART Scheduling
// Links feeds, e.g. one PrepMod deployment per state health department.
type SmartSource struct {
	SourceName   string
	Provider     string
	ApiPath      string
	LocationType LocationType
	// state -> host name -> base url
	Hosts map[string]map[string]string
	// request settings for hosts listed under "endpoints", by base url
	HostEndpoints map[string]*Endpoint
	Overrides     Overrides
	RateLimit     *RateLimit
	// only send availability; leave location fields to other sources
	AvailabilityOnly bool
	// for tests
	HttpClient *http.Client
	Now        func() time.Time
}

type SmartSourceFactory struct {
}

func (sf *SmartSourceFactory) Type() string {
	return SourceTypeSmart
}

func (sf *SmartSourceFactory) CreateSources(name string) (map[string]Source, error) {
	source := NewSmartSource(name)
	return map[string]Source{name: source}, nil
}

func NewSmartSource(name string) *SmartSource {
	return &SmartSource{
		SourceName:    name,
		Provider:      name,
		ApiPath:       DefaultSmartApiPath,
		LocationType:  LocationTypeClinic,
		Hosts:         make(map[string]map[string]string),
		HostEndpoints: make(map[string]*Endpoint),
		Now:           time.Now,
	}
}

func (s *SmartSource) Type() string {
	return SourceTypeSmart
}

func (s *SmartSource) Name() string {
	return s.SourceName
}

func (s *SmartSource) Configure(params map[string]interface{}) error {
	if provider, ok := getStringOptional(params, ParamKeyProvider); ok && len(provider) > 0 {
		s.Provider = provider
	}
	if apiPath, ok := getStringOptional(params, ParamKeyApiPath); ok && len(apiPath) > 0 {
		s.ApiPath = apiPath
	}
	if text, ok := getStringOptional(params, ParamKeyLocationType); ok {
		locationType, valid := ParseLocationType(text)
		if !valid {
			return fmt.Errorf("Invalid %s: %s", ParamKeyLocationType, text)
		}
		s.LocationType = locationType
	}
	if rate, ok := getFloatOptional(params, ParamKeyRateLimit); ok {
		s.RateLimit = NewRateLimit(rate)
	}
	s.AvailabilityOnly = getBool(params, ParamKeyAvailabilityOnly)

	hostsByState := getMapOptional(params, ParamKeyHosts)
	for state := range hostsByState {
		hosts, err := getStringMapOptional(hostsByState, state)
		if err != nil {
			return err
		}
		for hostName, host := range hosts {
			if !schemePattern.MatchString(host) {
				return fmt.Errorf("Host %s for %s must be an http(s) url: %s", hostName, state, host)
			}
			hosts[hostName] = strings.TrimRight(host, "/")
		}
		s.addHosts(state, hosts)
	}

	for i, endpointParams := range getMapArrayOptional(params, ParamKeyEndpoints) {
		state, err := getStringRequired(endpointParams, ParamKeyState)
		if err != nil {
			return eris.Wrapf(err, "%s[%d]", ParamKeyEndpoints, i)
		}
		endpoint, err := NewEndpointFromParams(endpointParams)
		if err != nil {
			return eris.Wrapf(err, "%s[%d]", ParamKeyEndpoints, i)
		}
		if !schemePattern.MatchString(endpoint.Url) {
			return fmt.Errorf("Endpoint %d for %s must be an http(s) url: %s", i, state, endpoint.Url)
		}
		endpoint.Url = strings.TrimRight(endpoint.Url, "/")

		hostName, ok := getStringOptional(endpointParams, ParamKeyName)
		if !ok || len(hostName) == 0 {
			hostName = cleanHost(endpoint.Url)
		}
		s.addHosts(state, map[string]string{hostName: endpoint.Url})
		s.HostEndpoints[endpoint.Url] = endpoint
	}

	if len(s.Hosts) == 0 {
		return fmt.Errorf("Missing expected configuration key: %s or %s", ParamKeyHosts, ParamKeyEndpoints)
	}

	var err error
	s.Overrides, err = overridesFromParams(params)
	return err
}

func (s *SmartSource) addHosts(state string, hosts map[string]string) {
	state = strings.ToUpper(strings.TrimSpace(state))
	if s.Hosts[state] == nil {
		s.Hosts[state] = make(map[string]string, len(hosts))
	}
	for hostName, host := range hosts {
		s.Hosts[state][hostName] = host
	}
}

func (s *SmartSource) sourceId() string {
	return "univaf-" + s.Provider
}

func (s *SmartSource) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// CheckAvailability loads each configured host in the requested states, one
// at a time. A host whose feed 404s is skipped; any other error stops the
// run. Locations already handled stay handled.
func (s *SmartSource) CheckAvailability(ctx context.Context, handler Handler, options RunOptions) ([]*Location, error) {
	results := make([]*Location, 0)

	for _, state := range options.statesOrDefault() {
		hosts, ok := s.Hosts[state]
		if !ok {
			continue
		}

		var known *KnownLocations
		if options.HideMissingLocations {
			if options.KnownLocations == nil {
				Log.Warnf("%s: can't hide missing locations in %s without a known location list", s.Name(), state)
			} else {
				rows, err := options.KnownLocations.ListLocations(ctx, LocationFilter{Provider: s.Provider, State: state})
				if err != nil {
					return results, eris.Wrapf(err, "%s: known locations for %s", s.Name(), state)
				}
				known = NewKnownLocations(rows)
			}
		}

		hostNames := make([]string, 0, len(hosts))
		for hostName := range hosts {
			hostNames = append(hostNames, hostName)
		}
		sort.Strings(hostNames)

		for _, hostName := range hostNames {
			host := hosts[hostName]
			locations, err := s.getDataForHost(ctx, host)
			if IsFeedNotEnabled(err) {
				Log.Warnf("%s: API not enabled for %s (%s)", s.Name(), hostName, host)
				continue
			} else if err != nil {
				return results, eris.Wrapf(err, "%s: %s", s.Name(), host)
			}

			for _, location := range locations {
				s.handle(ctx, handler, location, !s.AvailabilityOnly)

				if known != nil {
					if _, err := known.MarkFound(location.ExternalIds); err != nil {
						Log.Warnf("%s: %v", s.Name(), err)
					}
				}
			}
			results = append(results, locations...)
		}

		if known != nil {
			for _, missing := range known.Missing() {
				Log.Infof("%s: hiding %s (%s), no longer listed", s.Name(), missing.Name, missing.Id)
				s.handle(ctx, handler, missing, true)
				results = append(results, missing)
			}
		}
	}

	return results, nil
}

// one bad record shouldn't stop the rest
func (s *SmartSource) handle(ctx context.Context, handler Handler, location *Location, updateLocation bool) {
	if handler == nil {
		return
	}
	if err := handler(ctx, location, UpdateOptions{UpdateLocation: updateLocation}); err != nil {
		Log.Errorf("%s: error handling %s: %v", s.Name(), location.Name, err)
	}
}

func (s *SmartSource) getDataForHost(ctx context.Context, host string) ([]*Location, error) {
	api := NewSmartSchedulingLinksApi(host+s.ApiPath, s.RateLimit)
	api.Name = fmt.Sprintf("%s/%s", s.Name(), cleanHost(host))
	if s.HttpClient != nil {
		api.HttpClient = s.HttpClient
	}
	if endpoint, ok := s.HostEndpoints[host]; ok {
		api.Headers = endpoint.Headers
		api.Timeout = endpoint.Timeout
	}

	manifest, err := api.GetManifest(ctx)
	if err != nil {
		return nil, err
	}
	bundles, err := GetLocations(ctx, api, manifest)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(bundles))
	for id := range bundles {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	schedules := make(scheduleCache)
	locations := make([]*Location, 0, len(bundles))
	for _, id := range ids {
		location := s.FormatLocation(host, manifest.TransactionTime, bundles[id], schedules)
		if location == nil {
			continue
		}
		location, err = s.Overrides.Apply(location)
		if err != nil {
			Log.Errorf("%s: %v", s.Name(), err)
			continue
		}
		locations = append(locations, location)
	}

	return locations, nil
}

// scheduleCache keeps each schedule from being parsed (and warned about)
// once per slot.
type scheduleCache map[*SmartSchedule]ScheduleInfo

func (c scheduleCache) parse(schedule *SmartSchedule) ScheduleInfo {
	if schedule == nil {
		return ParseSchedule(nil)
	}
	if info, ok := c[schedule]; ok {
		return info
	}
	info := ParseSchedule(schedule)
	c[schedule] = info
	return info
}

func cleanHost(host string) string {
	return strings.ToLower(schemePattern.ReplaceAllString(host, ""))
}

// FormatLocation converts a feed location into a canonical record. Returns
// nil if none of the location's schedules are for COVID vaccines.
func (s *SmartSource) FormatLocation(host string, validAt time.Time, bundle *LocationBundle, schedules scheduleCache) *Location {
	if schedules == nil {
		schedules = make(scheduleCache)
	}

	isCovid := false
	for _, schedule := range bundle.Schedules {
		if schedules.parse(schedule).IsCovid {
			isCovid = true
			break
		}
	}
	if !isCovid {
		return nil
	}

	smartLocation := bundle.Location
	idPrefix := fmt.Sprintf("%s-%s", s.Provider, cleanHost(host))
	clinicSystem := regexp.MustCompile(fmt.Sprintf(`^urn:.*:%s:clinic$`, regexp.QuoteMeta(s.Provider)))

	location := &Location{
		IsPublic:     true,
		Name:         strings.TrimSpace(smartLocation.Name),
		Provider:     s.Provider,
		LocationType: s.LocationType,
		Description:  strings.TrimSpace(smartLocation.Description),
		ExternalIds: FormatExternalIds(smartLocation, idPrefix+"-location", func(identifier SmartIdentifier) ExternalId {
			if clinicSystem.MatchString(identifier.System) {
				return ExternalId{System: idPrefix + "-clinic", Value: identifier.Value}
			}
			return ExternalId{System: identifier.System, Value: identifier.Value}
		}),
	}

	s.FormatAddress(location, smartLocation.Address)

	// altitude is dropped
	if smartLocation.Position != nil {
		position := Position{Latitude: smartLocation.Position.Latitude, Longitude: smartLocation.Position.Longitude}
		if !position.Zero() {
			location.Position = &position
		}
	}

	telecom := TelecomValues(smartLocation.Telecom)
	if phone := telecom["phone"]; len(phone) > 0 {
		if parsed, err := ParseUsPhoneNumber(phone); err == nil {
			location.InfoPhone = parsed
		} else {
			Log.Warnf("%s: bad phone for %s: %v", s.Name(), smartLocation, err)
		}
	}
	if infoUrl, err := CleanUrl(telecom["url"]); err == nil {
		location.InfoUrl = infoUrl
	} else {
		Log.Warnf("%s: bad url for %s: %v", s.Name(), smartLocation, err)
	}

	bookingUrl, err := FormatLocationBookingUrl(host, smartLocation)
	if err != nil {
		Log.Warnf("%s: %v", s.Name(), err)
	}
	location.BookingUrl = bookingUrl

	available, slots, bookingPhone := s.FormatSlots(bundle.Slots, schedules)
	if len(bookingPhone) > 0 {
		if parsed, err := ParseUsPhoneNumber(bookingPhone); err == nil {
			location.BookingPhone = parsed
		}
	}

	location.Availability = &Availability{
		Source:    s.sourceId(),
		ValidAt:   timePtr(validAt),
		CheckedAt: timePtr(s.now()),
		IsPublic:  true,
		Available: available,
		Slots:     slots,
	}

	return location
}

// FormatAddress fills in address fields, pulling apart lines that were
// squashed together and dropping city/state/zip repeated in the lines.
func (s *SmartSource) FormatAddress(location *Location, address SmartAddress) {
	lines := CleanAddressLines(address.Line)
	if len(lines) > 0 {
		location.AddressLines = lines
	}
	location.City = strings.TrimSpace(address.City)
	location.State = strings.ToUpper(strings.TrimSpace(address.State))
	location.County = strings.TrimSpace(address.District)
	location.PostalCode = CleanPostalCode(address.PostalCode)
}

// FormatSlots converts COVID slots to canonical slots. The location is
// available if any slot is free. Also returns the first booking phone
// number found on a slot.
func (s *SmartSource) FormatSlots(smartSlots []*SmartSlot, schedules scheduleCache) (Available, []Slot, string) {
	if schedules == nil {
		schedules = make(scheduleCache)
	}

	available := AvailableNo
	slots := make([]Slot, 0, len(smartSlots))
	bookingPhone := ""

	for _, smartSlot := range smartSlots {
		info := schedules.parse(smartSlot.ScheduleData)
		if !info.IsCovid {
			continue
		}

		slotAvailable := AvailableNo
		if smartSlot.Status == "free" {
			slotAvailable = AvailableYes
		}
		if available == AvailableNo {
			available = slotAvailable
		}

		capacity := 1
		slot := Slot{
			Start:     smartSlot.Start,
			End:       smartSlot.End,
			Available: slotAvailable,
			Products:  info.Products.Slice(),
			Dose:      info.Dose,
		}

		for _, extension := range smartSlot.Extension {
			if extension.Err != nil {
				warnContext("smart", fmt.Sprintf("Invalid slot %s extension", extension.Kind),
					extensionWarning{SlotId: smartSlot.Id, Extension: extension, Error: extension.Err.Error()})
				continue
			}

			switch extension.Kind {
			case ExtensionCapacity:
				capacity = extension.Integer
			case ExtensionBookingDeepLink:
				slot.BookingUrl = extension.Text
			case ExtensionBookingPhone:
				if len(bookingPhone) == 0 {
					bookingPhone = extension.Text
				}
			default:
				warnContext("smart", fmt.Sprintf("Unknown slot extension url: %q", extension.Url),
					extensionWarning{SlotId: smartSlot.Id, Extension: extension})
			}
		}

		if capacity > 1 {
			slot.AvailableCount = intPtr(capacity)
		}
		slots = append(slots, slot)
	}

	if len(slots) == 0 {
		slots = nil
	}
	return available, slots, bookingPhone
}

// FormatLocationBookingUrl links to a search on the host for the location's
// zip code and name. Locations don't have their own booking pages.
func FormatLocationBookingUrl(host string, location SmartLocation) (string, error) {
	bookingUrl, err := url.Parse(host + "/appointment/en/clinic/search")
	if err != nil {
		return "", eris.Wrapf(err, "invalid host %q", host)
	}

	query := url.Values{}
	query.Set("location", location.Address.PostalCode)
	// searches are from the zip's centroid; 10 miles usually covers the zip
	query.Set("search_radius", "10 miles")
	query.Set("q[venue_search_name_or_venue_name_i_cont]", location.Name)
	bookingUrl.RawQuery = query.Encode()

	return bookingUrl.String(), nil
}
