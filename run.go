package avail

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

const SinglePassRetries = 3

// SourceRun is a configured source and the result of its latest run.
type SourceRun struct {
	Name      string
	Source    Source
	Config    *SourceConfig
	Locations []*Location
	Err       error
}

// CreateSources builds and configures every source in config, sorted by
// name.
func CreateSources(config *Config) ([]*SourceRun, error) {
	factories := GetSourceFactories()
	runs := make([]*SourceRun, 0, len(config.SourceConfigs))

	for configName, sourceConfig := range config.SourceConfigs {
		factory, exists := factories[sourceConfig.Type]
		if !exists {
			return nil, fmt.Errorf("Unknown source type: %s", sourceConfig.Type)
		}

		sources, err := factory.CreateSources(configName)
		if err != nil {
			return nil, eris.Wrap(err, configName)
		}

		for _, source := range sources {
			if err := source.Configure(sourceConfig.Params); err != nil {
				return nil, eris.Wrap(err, source.Name())
			}

			//make copy of parsed config so we don't clobber each other
			copied := sourceConfig
			Log.Infof("Registering source: %s - type: %s", source.Name(), copied.Type)
			runs = append(runs, &SourceRun{Name: source.Name(), Source: source, Config: &copied})
		}
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Name < runs[j].Name })
	return runs, nil
}

// FilterSources returns the sources whose names match pattern, where "*"
// matches anything.
func FilterSources(runs []*SourceRun, pattern string) ([]*SourceRun, error) {
	patternStr := fmt.Sprintf("^%s$", regexp.QuoteMeta(pattern))
	patternStr = strings.ReplaceAll(patternStr, `\*`, ".*")

	matcher, err := regexp.Compile(patternStr)
	if err != nil {
		return nil, eris.Wrapf(err, "bad source pattern %q", pattern)
	}

	matched := make([]*SourceRun, 0)
	for _, run := range runs {
		if matcher.MatchString(run.Name) {
			matched = append(matched, run)
		}
	}
	return matched, nil
}

// Runner runs sources and sends what they produce to its sinks.
type Runner struct {
	Config         *Config
	Sinks          []Sink
	KnownLocations LocationLister
	Notifier       *Notifier
	Tracker        *RunTracker
	Retries        int
	RetryDelay     time.Duration
	Now            func() time.Time

	closers []func()
}

// NewRunner picks sinks from config: a database if database_url is set,
// else a remote server if api_url is set, else an in-memory registry. Test
// mode only logs.
func NewRunner(ctx context.Context, config *Config) (*Runner, error) {
	runner := &Runner{
		Config:     config,
		Notifier:   NewNotifier(config),
		Retries:    SinglePassRetries,
		RetryDelay: 2 * time.Second,
		Now:        time.Now,
	}

	switch {
	case config.TestMode:
		Log.Infof("Test mode: records will be logged, not saved")
		runner.Sinks = []Sink{logSink{}}
	case len(config.DatabaseUrl) > 0:
		registry, pool, err := ConnectPostgresRegistry(ctx, config.DatabaseUrl)
		if err != nil {
			return nil, err
		}
		runner.closers = append(runner.closers, pool.Close)
		runner.Sinks = []Sink{NewEngineSink(registry)}
		runner.KnownLocations = registry
	case len(config.ApiUrl) > 0:
		client := NewApiClient(config.ApiUrl, config.ApiKey)
		runner.Sinks = []Sink{client}
		runner.KnownLocations = client
	default:
		Log.Warnf("No database_url or api_url configured, keeping locations in memory")
		registry := NewMemoryRegistry()
		runner.Sinks = []Sink{NewEngineSink(registry)}
		runner.KnownLocations = registry
	}

	return runner, nil
}

func (r *Runner) Close() {
	for _, closer := range r.closers {
		closer()
	}
	r.closers = nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) ensureTracker(runs []*SourceRun) {
	if r.Tracker != nil {
		return
	}
	names := make([]string, len(runs))
	for i, run := range runs {
		names[i] = run.Name
	}
	r.Tracker = NewRunTracker(names)
}

// RunOnce runs every source in parallel, then retries the ones that failed.
// Returns an error naming the sources that never succeeded.
func (r *Runner) RunOnce(ctx context.Context, runs []*SourceRun) error {
	r.ensureTracker(runs)
	pending := runs

	for retryCount := 0; len(pending) > 0 && retryCount <= r.Retries; retryCount++ {
		if retryCount == 0 {
			Log.Infof("Running %d source(s) once...", len(pending))
		} else {
			Cache.Destroy() //clear out any cached data

			// don't retry too fast
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.RetryDelay):
			}
			Log.Infof("Retrying %d failed source(s) (%d/%d)...", len(pending), retryCount, r.Retries)
		}

		r.runAll(ctx, pending)

		failed := make([]*SourceRun, 0)
		for _, run := range pending {
			if run.Err != nil {
				failed = append(failed, run)
			}
		}
		pending = failed
	}

	Cache.Destroy() //clear out any crud left in the cache

	if len(pending) > 0 {
		names := make([]string, len(pending))
		for i, run := range pending {
			names[i] = run.Name
		}
		return eris.Errorf("%d source(s) failed: %s", len(pending), strings.Join(names, ", "))
	}
	return nil
}

// sources are independent; a failure in one doesn't cancel the others
func (r *Runner) runAll(ctx context.Context, runs []*SourceRun) {
	var group errgroup.Group
	if r.Config.Concurrency > 0 {
		group.SetLimit(r.Config.Concurrency)
	}

	for _, run := range runs {
		run := run
		if !r.Tracker.Lock(run.Name) {
			Log.Warnf("Source %s is already running, skipping", run.Name)
			continue
		}
		group.Go(func() error {
			r.runSource(ctx, run)
			return nil
		})
	}

	_ = group.Wait()
}

// RunContinuously starts each source whenever its poll interval has passed
// since it last finished, until ctx is done.
func (r *Runner) RunContinuously(ctx context.Context, runs []*SourceRun) error {
	r.ensureTracker(runs)
	interval := time.Duration(r.Config.PollInterval) * time.Second
	Log.Infof("Running %d sources continuously...", len(runs))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		for _, run := range runs {
			if r.now().Sub(r.Tracker.LastRun(run.Name)) < interval {
				continue
			}
			if r.Tracker.Lock(run.Name) {
				go r.runSource(ctx, run)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runSource expects the source to be locked in the tracker and unlocks it.
func (r *Runner) runSource(ctx context.Context, run *SourceRun) {
	sinks := append([]Sink(nil), r.Sinks...)

	var archive *ArchiveSink
	if r.Config.DumpOutput || r.Config.DumpOutputS3 {
		archive = NewArchiveSink(run.Name, "", "")
		if r.Config.DumpOutput {
			archive.DumpDir = r.Config.DumpDir
		}
		if r.Config.DumpOutputS3 {
			archive.S3Bucket = r.Config.S3Bucket
		}
		sinks = append(sinks, archive)
	}

	options := RunOptions{
		States:               r.Config.statesFor(run.Config),
		HideMissingLocations: run.Config.HideMissingLocations,
		KnownLocations:       r.KnownLocations,
	}

	start := r.now()
	locations, err := run.Source.CheckAvailability(ctx, SinkHandler(sinks...), options)
	run.Locations = locations
	run.Err = err

	if archive != nil {
		if _, archiveErr := archive.Flush(ctx); archiveErr != nil {
			Log.Warnf("%s: %v", run.Name, archiveErr)
		}
	}

	if err != nil {
		Log.Errorf("%s: %v", run.Name, err)
		errorCount := r.Tracker.Error(run.Name, r.now())
		if errorCount == r.Config.ErrorWarningThreshold {
			if notifyErr := r.Notifier.NotifyError(run.Name, err); notifyErr != nil {
				Log.Errorf("%+v", notifyErr)
			}
		}
		return
	}

	if changed := r.Tracker.Finish(run.Name, len(locations), r.now()); changed {
		Log.Infof("%s: location count changed to %d", run.Name, len(locations))
	}
	Log.Infof("Source '%s' finished with %d location(s) in %s", run.Name, len(locations), r.now().Sub(start).Round(time.Millisecond))
}

type logSink struct{}

func (logSink) Send(_ context.Context, location *Location, options UpdateOptions) error {
	data, err := json.Marshal(location)
	if err != nil {
		return err
	}
	Log.Debugf("(silent) update_location: %t, %s", options.UpdateLocation, data)
	return nil
}
