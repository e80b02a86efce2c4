package avail

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fails the first `failures` runs, then hands over its locations
type stubSource struct {
	name      string
	failures  int32
	calls     int32
	locations []*Location
}

func (s *stubSource) Type() string { return "stub" }
func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Configure(map[string]interface{}) error { return nil }

func (s *stubSource) CheckAvailability(ctx context.Context, handler Handler, _ RunOptions) ([]*Location, error) {
	if atomic.AddInt32(&s.calls, 1) <= s.failures {
		return nil, errors.New("upstream is down")
	}
	for _, location := range s.locations {
		if err := handler(ctx, location, UpdateOptions{UpdateLocation: true}); err != nil {
			return nil, err
		}
	}
	return s.locations, nil
}

func stubRun(source *stubSource) *SourceRun {
	return &SourceRun{Name: source.name, Source: source, Config: &SourceConfig{Type: "stub"}}
}

func newTestRunner(config *Config, sinks ...Sink) *Runner {
	return &Runner{
		Config:     config,
		Sinks:      sinks,
		Retries:    2,
		RetryDelay: time.Millisecond,
		Now:        time.Now,
	}
}

func TestCreateSources(t *testing.T) {
	hosts := map[string]interface{}{ParamKeyHosts: map[string]interface{}{"AK": map[string]interface{}{"a": "https://a.example.com"}}}
	config := &Config{SourceConfigs: map[string]SourceConfig{
		"prepmod": {Type: SourceTypeSmart, Params: hosts, HideMissingLocations: true},
		"alaska":  {Type: SourceTypeSmart, Params: hosts},
	}}

	runs, err := CreateSources(config)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "alaska", runs[0].Name)
	assert.Equal(t, "prepmod", runs[1].Name)
	assert.Equal(t, SourceTypeSmart, runs[1].Source.Type())
	assert.True(t, runs[1].Config.HideMissingLocations)
	assert.False(t, runs[0].Config.HideMissingLocations)

	// a source without hosts can't be configured
	config.SourceConfigs["empty"] = SourceConfig{Type: SourceTypeSmart, Params: map[string]interface{}{}}
	_, err = CreateSources(config)
	assert.Error(t, err)

	delete(config.SourceConfigs, "empty")
	config.SourceConfigs["bad"] = SourceConfig{Type: "carrier_pigeon"}
	_, err = CreateSources(config)
	assert.Error(t, err)
}

func TestFilterSources(t *testing.T) {
	runs := []*SourceRun{{Name: "prepmod-ak"}, {Name: "prepmod-wa"}, {Name: "cvs"}}

	matched, err := FilterSources(runs, "prepmod-*")
	require.NoError(t, err)
	require.Len(t, matched, 2)

	matched, err = FilterSources(runs, "cvs")
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "cvs", matched[0].Name)

	matched, err = FilterSources(runs, "cv")
	require.NoError(t, err)
	assert.Empty(t, matched)

	matched, err = FilterSources(runs, "*")
	require.NoError(t, err)
	assert.Len(t, matched, 3)
}

func TestRunner_RunOnceRetries(t *testing.T) {
	registry := NewMemoryRegistry()
	flaky := &stubSource{
		name:     "flaky",
		failures: 1,
		locations: []*Location{{
			Name: "Clinic", Provider: "stub", State: "AK", IsPublic: true,
			ExternalIds:  ExternalIdList{{"stub", "1"}},
			Availability: &Availability{Source: "stub", Available: AvailableYes},
		}},
	}
	steady := &stubSource{name: "steady"}

	runner := newTestRunner(&Config{ErrorWarningThreshold: 1}, NewEngineSink(registry))
	err := runner.RunOnce(context.Background(), []*SourceRun{stubRun(flaky), stubRun(steady)})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&steady.calls))

	locations, err := registry.ListLocations(context.Background(), LocationFilter{Provider: "stub"})
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, AvailableYes, locations[0].Availability.Available)
	assert.False(t, runner.Tracker.LastRun("flaky").IsZero())
}

func TestRunner_RunOnceReportsFailures(t *testing.T) {
	broken := &stubSource{name: "broken", failures: 100}
	runner := newTestRunner(&Config{ErrorWarningThreshold: 1}, NewEngineSink(NewMemoryRegistry()))

	run := stubRun(broken)
	err := runner.RunOnce(context.Background(), []*SourceRun{run})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, int32(3), atomic.LoadInt32(&broken.calls))
	assert.Error(t, run.Err)
}

func TestRunner_DumpsOutput(t *testing.T) {
	dir := t.TempDir()
	source := &stubSource{
		name: "dumped",
		locations: []*Location{
			{Name: "One", ExternalIds: ExternalIdList{{"stub", "1"}}},
			{Name: "Two", ExternalIds: ExternalIdList{{"stub", "2"}}},
		},
	}
	runner := newTestRunner(&Config{DumpOutput: true, DumpDir: dir})

	require.NoError(t, runner.RunOnce(context.Background(), []*SourceRun{stubRun(source)}))

	files, err := filepath.Glob(filepath.Join(dir, "dumped.*.ndjson"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"name":"One"`)
}

func TestRunTracker(t *testing.T) {
	tracker := NewRunTracker([]string{"a"})
	now := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, tracker.Lock("unknown"))
	assert.True(t, tracker.Lock("a"))
	assert.False(t, tracker.Lock("a"))

	// the first good run has nothing to compare with
	assert.False(t, tracker.Finish("a", 5, now))
	assert.Equal(t, now, tracker.LastRun("a"))

	assert.True(t, tracker.Lock("a"))
	assert.Equal(t, 1, tracker.Error("a", now))
	assert.True(t, tracker.Lock("a"))
	assert.Equal(t, 2, tracker.Error("a", now))

	assert.True(t, tracker.Lock("a"))
	assert.True(t, tracker.Finish("a", 6, now.Add(time.Minute)))
	assert.True(t, tracker.Lock("a"))
	assert.Equal(t, 1, tracker.Error("a", now))
}
