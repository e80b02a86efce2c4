package avail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifestPath = DefaultSmartApiPath

var testFeedFiles = map[string]string{
	testManifestPath: `{
		"transactionTime": "2021-05-01T08:00:00Z",
		"request": "/api/smart-scheduling-links/$bulk-publish",
		"output": [
			{"type": "Location", "url": "/data/locations-1.ndjson"},
			{"type": "Location", "url": "data/locations-2.ndjson"}
		],
		"link": [{"relation": "next", "url": "/manifest-2"}]
	}`,
	"/manifest-2": `{
		"transactionTime": "2021-05-01T08:05:00Z",
		"request": "/manifest-2",
		"output": [
			{"type": "Schedule", "url": "/data/schedules.ndjson"},
			{"type": "Slot", "url": "/data/slots.ndjson"}
		]
	}`,
	"/data/locations-1.ndjson": `{"resourceType": "Location", "id": "1", "name": " Clinic One ", "telecom": [{"system": "phone", "value": "907-555-0100"}, {"system": "url", "value": "https://example.com/one"}], "address": {"line": ["123 Main St, Suite 4"], "city": "Juneau", "state": "ak", "postalCode": "99801", "district": "Juneau"}, "position": {"latitude": 58.3, "longitude": -134.4, "altitude": 10}, "identifier": [{"system": "https://cdc.gov/vaccines/programs/vtrcks", "value": "VT1"}, {"system": "urn:klink:prepmod:clinic", "value": "c1"}]}
this is not json
`,
	"/api/smart-scheduling-links/data/locations-2.ndjson": `{"resourceType": "Location", "id": "2", "name": "Flu Only", "address": {"line": ["1 Elm St"], "city": "Sitka", "state": "AK", "postalCode": "998"}}
`,
	"/data/schedules.ndjson": `{"resourceType": "Schedule", "id": "s1", "actor": [{"reference": "Location/1"}], "extension": [{"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/vaccine-product", "valueCoding": {"system": "http://hl7.org/fhir/sid/cvx", "code": "208", "display": "Pfizer"}}, {"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/vaccine-dose", "valueInteger": 1}]}
{"resourceType": "Schedule", "id": "s2", "actor": [{"reference": "Location/2"}], "extension": [{"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/vaccine-product", "valueCoding": {"display": "Influenza"}}]}
`,
	"/data/slots.ndjson": `{"resourceType": "Slot", "id": "x1", "schedule": {"reference": "Schedule/s1"}, "status": "free", "start": "2021-05-01T09:00:00-08:00", "end": "2021-05-01T09:15:00-08:00", "extension": [{"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/slot-capacity", "valueInteger": "5"}, {"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/booking-deep-link", "valueUrl": "https://example.com/book/x1"}, {"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/booking-phone", "valueString": "(907) 555-0199"}]}
{"resourceType": "Slot", "id": "x2", "schedule": {"reference": "Schedule/s1"}, "status": "busy", "start": "2021-05-01T09:15:00-08:00"}
{"resourceType": "Slot", "id": "x3", "schedule": {"reference": "Schedule/s2"}, "status": "free", "start": "2021-05-01T09:00:00-08:00"}
{"resourceType": "Slot", "id": "x4", "schedule": {"reference": "Schedule/unknown"}, "status": "free", "start": "2021-05-01T09:00:00-08:00"}
`,
}

// newFeedServer serves testFeedFiles. Paths not in files are 404s.
func newFeedServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, ".ndjson") {
			w.Header().Set("Content-Type", "application/x-ndjson")
		} else {
			w.Header().Set("Content-Type", "application/json")
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestSmartApi(server *httptest.Server) *SmartSchedulingLinksApi {
	api := NewSmartSchedulingLinksApi(server.URL+testManifestPath, nil)
	api.Cache = NewCacheInstance()
	return api
}

func TestGetManifest_FollowsPages(t *testing.T) {
	server := newFeedServer(t, testFeedFiles)
	api := newTestSmartApi(server)

	manifest, err := api.GetManifest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2021, 5, 1, 8, 0, 0, 0, time.UTC), manifest.TransactionTime.UTC())
	assert.Nil(t, manifest.Link)
	assert.Equal(t, []string{
		server.URL + "/data/locations-1.ndjson",
		server.URL + "/api/smart-scheduling-links/data/locations-2.ndjson",
	}, manifest.OutputsOfType(ResourceTypeLocation))
	assert.Equal(t, []string{server.URL + "/data/schedules.ndjson"}, manifest.OutputsOfType(ResourceTypeSchedule))
	assert.Equal(t, []string{server.URL + "/data/slots.ndjson"}, manifest.OutputsOfType(ResourceTypeSlot))
}

func TestGetManifest_Loop(t *testing.T) {
	server := newFeedServer(t, map[string]string{
		testManifestPath: `{"transactionTime": "2021-05-01T08:00:00Z", "output": [], "link": [{"relation": "next", "url": "/api/smart-scheduling-links/$bulk-publish"}]}`,
	})

	_, err := newTestSmartApi(server).GetManifest(context.Background())
	assert.Error(t, err)
}

func TestGetManifest_NotEnabled(t *testing.T) {
	server := newFeedServer(t, map[string]string{})

	_, err := newTestSmartApi(server).GetManifest(context.Background())
	require.Error(t, err)
	assert.True(t, IsFeedNotEnabled(err))
}

func TestGetManifest_RelativeNextLink(t *testing.T) {
	server := newFeedServer(t, map[string]string{
		testManifestPath:      `{"transactionTime": "2021-05-01T08:00:00Z", "output": [], "link": [{"relation": "next", "url": "/pages/2/manifest"}]}`,
		"/pages/2/manifest":   `{"transactionTime": "2021-05-01T08:00:00Z", "output": [{"type": "Slot", "url": "slots-2.ndjson"}], "link": [{"relation": "next", "url": "manifest-3"}]}`,
		"/pages/2/manifest-3": `{"transactionTime": "2021-05-01T08:00:00Z", "output": [{"type": "Slot", "url": "slots-3.ndjson"}]}`,
	})

	manifest, err := newTestSmartApi(server).GetManifest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		server.URL + "/pages/2/slots-2.ndjson",
		server.URL + "/pages/2/slots-3.ndjson",
	}, manifest.OutputsOfType(ResourceTypeSlot))
}

func TestGetLocations_UsesGivenManifest(t *testing.T) {
	var manifestRequests int32
	feed := newFeedServer(t, testFeedFiles)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == testManifestPath {
			atomic.AddInt32(&manifestRequests, 1)
		}
		feed.Config.Handler.ServeHTTP(w, r)
	}))
	defer server.Close()

	api := newTestSmartApi(server)
	manifest, err := api.GetManifest(context.Background())
	require.NoError(t, err)

	bundles, err := GetLocations(context.Background(), api, manifest)
	require.NoError(t, err)
	assert.Len(t, bundles, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&manifestRequests))
}

func TestGetLocations_JoinsResources(t *testing.T) {
	server := newFeedServer(t, testFeedFiles)
	bundles, err := GetLocations(context.Background(), newTestSmartApi(server), nil)
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	one := bundles["1"]
	require.NotNil(t, one)
	assert.Equal(t, "Clinic One", strings.TrimSpace(one.Location.Name))
	require.Len(t, one.Schedules, 1)
	assert.Equal(t, "s1", one.Schedules[0].Id)
	require.Len(t, one.Slots, 2)
	assert.Equal(t, "x1", one.Slots[0].Id)
	assert.Equal(t, "s1", one.Slots[0].ScheduleData.Id)

	two := bundles["2"]
	require.NotNil(t, two)
	require.Len(t, two.Slots, 1)
	assert.Equal(t, "x3", two.Slots[0].Id)
}

func TestParseNdjson_SkipsBadLines(t *testing.T) {
	records, err := ParseNdjson[SmartLocation]([]byte("{\"id\": \"a\"}\n\nnope\n{\"id\": \"b\"}"), "test")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].Id)
	assert.Equal(t, "b", records[1].Id)
}

func TestExtension_Decode(t *testing.T) {
	var extensions []Extension
	require.NoError(t, json.Unmarshal([]byte(`[
		{"url": "`+ExtensionUrlCapacity+`", "valueInteger": "7"},
		{"url": "`+ExtensionUrlCapacity+`", "valueInteger": "lots"},
		{"url": "`+ExtensionUrlDose+`", "valueInteger": 2},
		{"url": "`+ExtensionUrlBookingDeepLink+`"},
		{"url": "http://example.com/other", "valueString": "x"}
	]`), &extensions))
	require.Len(t, extensions, 5)

	assert.Equal(t, ExtensionCapacity, extensions[0].Kind)
	assert.NoError(t, extensions[0].Err)
	assert.Equal(t, 7, extensions[0].Integer)

	assert.Error(t, extensions[1].Err)

	assert.Equal(t, ExtensionDose, extensions[2].Kind)
	assert.Equal(t, 2, extensions[2].Integer)

	assert.Equal(t, ExtensionBookingDeepLink, extensions[3].Kind)
	assert.Error(t, extensions[3].Err)

	assert.Equal(t, ExtensionUnrecognized, extensions[4].Kind)
	assert.NoError(t, extensions[4].Err)

	// raw JSON is kept for logging
	encoded, err := json.Marshal(extensions[4])
	require.NoError(t, err)
	assert.JSONEq(t, `{"url": "http://example.com/other", "valueString": "x"}`, string(encoded))
}

func scheduleWith(extensions ...string) *SmartSchedule {
	schedule := new(SmartSchedule)
	if err := json.Unmarshal([]byte(`{"id": "s", "extension": [`+strings.Join(extensions, ",")+`]}`), schedule); err != nil {
		panic(err)
	}
	return schedule
}

func productExtension(code string, display string) string {
	return `{"url": "` + ExtensionUrlProduct + `", "valueCoding": {"code": "` + code + `", "display": "` + display + `"}}`
}

func doseExtension(dose int) string {
	encoded, _ := json.Marshal(map[string]interface{}{"url": ExtensionUrlDose, "valueInteger": dose})
	return string(encoded)
}

func TestParseSchedule(t *testing.T) {
	info := ParseSchedule(scheduleWith(productExtension("208", ""), doseExtension(1)))
	assert.True(t, info.IsCovid)
	assert.Equal(t, []VaccineProduct{ProductPfizer}, info.Products.Slice())
	assert.Equal(t, DoseFirstDoseOnly, info.Dose)

	info = ParseSchedule(scheduleWith(productExtension("", "Moderna Ages 6 months"), doseExtension(1), doseExtension(2)))
	assert.Equal(t, []VaccineProduct{ProductModernaAge0_5}, info.Products.Slice())
	assert.Equal(t, DoseAllDoses, info.Dose)

	info = ParseSchedule(scheduleWith(doseExtension(2), doseExtension(3)))
	assert.Equal(t, DoseSecondDoseOnly, info.Dose)
	assert.True(t, info.IsCovid)

	info = ParseSchedule(scheduleWith(productExtension("", "Influenza"), productExtension("", "Zoster")))
	assert.False(t, info.IsCovid)
	assert.True(t, info.HasNonCovidProducts)

	// a flu product on a COVID schedule doesn't make it non-COVID
	info = ParseSchedule(scheduleWith(productExtension("", "Influenza"), productExtension("212", "")))
	assert.True(t, info.IsCovid)
	assert.Equal(t, []VaccineProduct{ProductJanssen}, info.Products.Slice())

	info = ParseSchedule(nil)
	assert.True(t, info.IsCovid)
	assert.Equal(t, DoseUndefined, info.Dose)
}

func TestFormatExternalIds(t *testing.T) {
	location := SmartLocation{
		Id: "123",
		Identifier: []SmartIdentifier{
			{System: IdentifierSystemVtrcks, Value: " VT1 "},
			{System: IdentifierSystemNpi, Value: "555"},
			{System: "urn:other", Value: "o"},
			{System: "urn:empty", Value: " "},
			{System: IdentifierSystemNpi, Value: "555"},
		},
	}

	assert.Equal(t, ExternalIdList{
		{"smart", "123"},
		{SystemVtrcks, "VT1"},
		{SystemNpi, "555"},
		{"urn:other", "o"},
	}, FormatExternalIds(location, "smart", nil))
}
