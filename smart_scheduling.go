package avail

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Client for SMART Scheduling Links bulk-publish feeds.
// https://github.com/smart-on-fhir/smart-scheduling-links/

const (
	ResourceTypeLocation = "Location"
	ResourceTypeSchedule = "Schedule"
	ResourceTypeSlot     = "Slot"
)

const (
	IdentifierSystemVtrcks = "https://cdc.gov/vaccines/programs/vtrcks"
	IdentifierSystemNpi    = "http://hl7.org/fhir/sid/us-npi"
)

const ManifestCacheTTL = 2 * time.Minute
const maxManifestPages = 100
const maxNdjsonLineSize = 4 * 1024 * 1024

type ManifestOutput struct {
	Type string `json:"type"`
	Url  string `json:"url"`
}

type ManifestLink struct {
	Relation string `json:"relation"`
	Url      string `json:"url"`
}

type Manifest struct {
	TransactionTime time.Time        `json:"transactionTime"`
	Request         string           `json:"request"`
	Output          []ManifestOutput `json:"output"`
	Link            []ManifestLink   `json:"link,omitempty"`
}

// NextUrl returns the continuation link for a multi-page manifest.
func (m *Manifest) NextUrl() string {
	for _, link := range m.Link {
		if link.Relation == "next" {
			return link.Url
		}
	}
	return ""
}

// OutputsOfType returns the URLs of the resource files of a given type.
func (m *Manifest) OutputsOfType(resourceType string) []string {
	urls := make([]string, 0)
	for _, output := range m.Output {
		if output.Type == resourceType {
			urls = append(urls, output.Url)
		}
	}
	return urls
}

type SmartIdentifier struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type SmartTelecom struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

type SmartAddress struct {
	Line       []string `json:"line"`
	City       string   `json:"city"`
	State      string   `json:"state"`
	PostalCode string   `json:"postalCode"`
	District   string   `json:"district,omitempty"`
}

type SmartPosition struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude,omitempty"`
}

type SmartReference struct {
	Reference string `json:"reference"`
}

// Id returns the id part of a reference like "Location/123".
func (r SmartReference) Id() string {
	_, id := SplitOnce(r.Reference, "/")
	if len(id) == 0 {
		return r.Reference
	}
	return id
}

type SmartLocation struct {
	ResourceType string            `json:"resourceType"`
	Id           string            `json:"id"`
	Identifier   []SmartIdentifier `json:"identifier"`
	Name         string            `json:"name"`
	Telecom      []SmartTelecom    `json:"telecom"`
	Address      SmartAddress      `json:"address"`
	Description  string            `json:"description,omitempty"`
	Position     *SmartPosition    `json:"position,omitempty"`
}

type SmartSchedule struct {
	ResourceType string           `json:"resourceType"`
	Id           string           `json:"id"`
	Actor        []SmartReference `json:"actor"`
	Extension    []Extension      `json:"extension"`
}

type SmartSlot struct {
	ResourceType string         `json:"resourceType"`
	Id           string         `json:"id"`
	Schedule     SmartReference `json:"schedule"`
	Status       string         `json:"status"`
	Start        time.Time      `json:"start"`
	End          *time.Time     `json:"end,omitempty"`
	Extension    []Extension    `json:"extension"`

	// set when the slot is joined with its schedule
	ScheduleData *SmartSchedule `json:"-"`
}

// LocationBundle is a location with the schedules and slots that refer to it.
type LocationBundle struct {
	Location  SmartLocation
	Schedules []*SmartSchedule
	Slots     []*SmartSlot
}

type SmartSchedulingLinksApi struct {
	// the $bulk-publish manifest URL
	Url        string
	Name       string
	RateLimit  *RateLimit
	HttpClient *http.Client
	Cache      *CacheInstance
	// sent with every request, e.g. an api key some hosts require
	Headers []Header
	// seconds; 0 uses the endpoint default
	Timeout int
}

func NewSmartSchedulingLinksApi(manifestUrl string, rateLimit *RateLimit) *SmartSchedulingLinksApi {
	return &SmartSchedulingLinksApi{
		Url:       manifestUrl,
		Name:      "smart",
		RateLimit: rateLimit,
		Cache:     Cache,
	}
}

func (api *SmartSchedulingLinksApi) endpoint(target string) *Endpoint {
	endpoint := NewEndpoint(target)
	endpoint.HttpClient = api.HttpClient
	endpoint.AddHeader("Accept", "application/json, application/fhir+json, application/x-ndjson")
	endpoint.Headers = append(endpoint.Headers, api.Headers...)
	if api.Timeout > 0 {
		endpoint.Timeout = api.Timeout
	}
	return endpoint
}

func (api *SmartSchedulingLinksApi) ready(ctx context.Context) error {
	if api.RateLimit == nil {
		return nil
	}
	return api.RateLimit.Ready(ctx)
}

func (api *SmartSchedulingLinksApi) resolve(base string, reference string) (string, error) {
	baseUrl, err := url.Parse(base)
	if err != nil {
		return "", eris.Wrapf(err, "invalid url %q", base)
	}
	referenceUrl, err := url.Parse(reference)
	if err != nil {
		return "", eris.Wrapf(err, "invalid url %q", reference)
	}
	return baseUrl.ResolveReference(referenceUrl).String(), nil
}

// GetManifest fetches the manifest, following "next" links and combining
// the outputs of every page. Output URLs are made absolute.
func (api *SmartSchedulingLinksApi) GetManifest(ctx context.Context) (*Manifest, error) {
	if len(api.Url) == 0 {
		return nil, eris.Errorf("%s: no manifest url", api.Name)
	}

	var manifest *Manifest
	seen := make(map[string]bool)

	for pageUrl := api.Url; len(pageUrl) > 0; {
		if seen[pageUrl] || len(seen) >= maxManifestPages {
			return nil, eris.Errorf("%s: manifest pages loop at %s", api.Name, pageUrl)
		}
		seen[pageUrl] = true

		page, err := api.getManifestPage(ctx, pageUrl)
		if err != nil {
			return nil, err
		}

		for i, output := range page.Output {
			if page.Output[i].Url, err = api.resolve(pageUrl, output.Url); err != nil {
				return nil, err
			}
		}

		if manifest == nil {
			manifest = page
		} else {
			manifest.Output = append(manifest.Output, page.Output...)
		}

		next := page.NextUrl()
		if len(next) > 0 {
			if next, err = api.resolve(pageUrl, next); err != nil {
				return nil, err
			}
		}
		pageUrl = next
	}
	manifest.Link = nil

	return manifest, nil
}

func (api *SmartSchedulingLinksApi) getManifestPage(ctx context.Context, pageUrl string) (*Manifest, error) {
	if err := api.ready(ctx); err != nil {
		return nil, err
	}

	cache := api.Cache
	if cache == nil {
		cache = Cache
	}

	body, _, err := api.endpoint(pageUrl).FetchCached(ctx, cache, api.Name, ManifestCacheTTL)
	if err != nil {
		return nil, err
	}

	manifest := new(Manifest)
	if err := json.Unmarshal(body, manifest); err != nil {
		return nil, eris.Wrapf(err, "%s: invalid manifest from %s", api.Name, pageUrl)
	}
	return manifest, nil
}

// GetResources fetches and decodes one newline-delimited JSON resource
// file. Lines that can't be decoded are logged and skipped.
func GetResources[T any](ctx context.Context, api *SmartSchedulingLinksApi, resourceUrl string) ([]T, error) {
	if err := api.ready(ctx); err != nil {
		return nil, err
	}

	body, _, err := api.endpoint(resourceUrl).Fetch(ctx, api.Name)
	if err != nil {
		return nil, err
	}

	return ParseNdjson[T](body, resourceUrl)
}

// ParseNdjson decodes one record per line, skipping blank lines and lines
// that fail to decode.
func ParseNdjson[T any](body []byte, source string) ([]T, error) {
	records := make([]T, 0)

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxNdjsonLineSize)
	for lineNumber := 1; scanner.Scan(); lineNumber++ {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var record T
		if err := json.Unmarshal(line, &record); err != nil {
			Log.Warnf("Skipping invalid record at %s line %d: %v", source, lineNumber, err)
			continue
		}
		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return nil, eris.Wrapf(err, "error reading %s", source)
	}
	return records, nil
}

func getAllResources[T any](ctx context.Context, api *SmartSchedulingLinksApi, urls []string) ([]T, error) {
	all := make([]T, 0)
	for _, resourceUrl := range urls {
		records, err := GetResources[T](ctx, api, resourceUrl)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// GetLocations loads every location, schedule and slot in a feed and joins
// them: each slot to its schedule, and each schedule and slot to the
// location the schedule belongs to. The result is keyed by location id.
// The manifest is fetched first if it is nil.
func GetLocations(ctx context.Context, api *SmartSchedulingLinksApi, manifest *Manifest) (map[string]*LocationBundle, error) {
	if manifest == nil {
		var err error
		if manifest, err = api.GetManifest(ctx); err != nil {
			return nil, err
		}
	}

	locations, err := getAllResources[SmartLocation](ctx, api, manifest.OutputsOfType(ResourceTypeLocation))
	if err != nil {
		return nil, err
	}
	schedules, err := getAllResources[SmartSchedule](ctx, api, manifest.OutputsOfType(ResourceTypeSchedule))
	if err != nil {
		return nil, err
	}
	slots, err := getAllResources[SmartSlot](ctx, api, manifest.OutputsOfType(ResourceTypeSlot))
	if err != nil {
		return nil, err
	}

	bundles := make(map[string]*LocationBundle, len(locations))
	for _, location := range locations {
		bundles[location.Id] = &LocationBundle{
			Location:  location,
			Schedules: make([]*SmartSchedule, 0),
			Slots:     make([]*SmartSlot, 0),
		}
	}

	schedulesById := make(map[string]*SmartSchedule, len(schedules))
	scheduleLocations := make(map[string]*LocationBundle, len(schedules))
	for i := range schedules {
		schedule := &schedules[i]
		schedulesById[schedule.Id] = schedule

		for _, actor := range schedule.Actor {
			if bundle, ok := bundles[actor.Id()]; ok {
				bundle.Schedules = append(bundle.Schedules, schedule)
				scheduleLocations[schedule.Id] = bundle
				break
			}
		}
		if _, ok := scheduleLocations[schedule.Id]; !ok {
			Log.Warnf("%s: schedule %s does not reference a known location", api.Name, schedule.Id)
		}
	}

	for i := range slots {
		slot := &slots[i]
		scheduleId := slot.Schedule.Id()

		slot.ScheduleData = schedulesById[scheduleId]
		bundle, ok := scheduleLocations[scheduleId]
		if !ok {
			Log.Warnf("%s: slot %s references unknown schedule %s", api.Name, slot.Id, scheduleId)
			continue
		}
		bundle.Slots = append(bundle.Slots, slot)
	}

	return bundles, nil
}

// TelecomValues returns the first value of each telecom system
// ("phone", "url", etc).
func TelecomValues(telecom []SmartTelecom) map[string]string {
	values := make(map[string]string, len(telecom))
	for _, entry := range telecom {
		if _, exists := values[entry.System]; !exists {
			values[entry.System] = entry.Value
		}
	}
	return values
}

// FormatExternalIds converts a location's FHIR identifiers into external
// ids. The location's own id is listed first under smartIdName. Well-known
// systems get short names; formatUnknown (optional) handles the rest.
func FormatExternalIds(location SmartLocation, smartIdName string, formatUnknown func(SmartIdentifier) ExternalId) ExternalIdList {
	ids := ExternalIdList{{System: smartIdName, Value: location.Id}}

	for _, identifier := range location.Identifier {
		value := strings.TrimSpace(identifier.Value)
		if len(value) == 0 {
			continue
		}

		switch identifier.System {
		case IdentifierSystemVtrcks:
			ids = append(ids, ExternalId{System: SystemVtrcks, Value: value})
		case IdentifierSystemNpi:
			ids = append(ids, ExternalId{System: SystemNpi, Value: value})
		default:
			if formatUnknown != nil {
				ids = append(ids, formatUnknown(SmartIdentifier{System: identifier.System, Value: value}))
			} else {
				ids = append(ids, ExternalId{System: identifier.System, Value: value})
			}
		}
	}

	return UniqueExternalIds(ids)
}

func (l SmartLocation) String() string {
	return fmt.Sprintf("%s (%s)", l.Name, l.Id)
}
