package avail

import (
	"sync"
	"time"
)

// RunTracker keeps per-source state between runs in continuous mode: whether
// a run is in progress, when the last one finished, consecutive errors, and
// how many records the last good run produced.
type RunTracker struct {
	locker      map[string]bool
	errorCount  map[string]int
	lastRunTime map[string]time.Time
	lastCount   map[string]int
	mutex       *sync.Mutex
}

func NewRunTracker(names []string) *RunTracker {
	tracker := &RunTracker{
		locker:      make(map[string]bool),
		errorCount:  make(map[string]int),
		lastRunTime: make(map[string]time.Time),
		lastCount:   make(map[string]int),
		mutex:       &sync.Mutex{},
	}

	for _, name := range names {
		tracker.locker[name] = false
		tracker.errorCount[name] = 0
		tracker.lastCount[name] = -1
	}

	return tracker
}

// Lock claims a source for a run. False if it's unknown or already running.
func (t *RunTracker) Lock(name string) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	locked, ok := t.locker[name]
	if !ok || locked {
		return false
	}

	t.locker[name] = true
	return true
}

// Error records a failed run, unlocks the source and returns how many runs
// in a row have failed.
func (t *RunTracker) Error(name string, now time.Time) int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.locker[name] = false
	t.lastRunTime[name] = now
	t.errorCount[name]++

	return t.errorCount[name]
}

// Finish records a good run and unlocks the source. Returns true if the
// number of records changed since the last good run.
func (t *RunTracker) Finish(name string, count int, now time.Time) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.locker[name] = false
	t.lastRunTime[name] = now
	t.errorCount[name] = 0

	previous, ok := t.lastCount[name]
	t.lastCount[name] = count
	return ok && previous >= 0 && previous != count
}

func (t *RunTracker) LastRun(name string) time.Time {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.lastRunTime[name]
}
