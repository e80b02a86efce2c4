package avail

import (
	"sync"
	"time"
)

// simple in-memory cache with TTL, used to avoid refetching feed manifests

var cacheInstance *CacheInstance
var cacheSingletonLock = new(sync.Mutex)

var Cache = initCache()

type CacheInstance struct {
	entries    map[string]*CacheEntry
	globalLock *sync.Mutex
}

func initCache() *CacheInstance {
	cacheSingletonLock.Lock()
	defer cacheSingletonLock.Unlock()

	if cacheInstance == nil {
		cacheInstance = NewCacheInstance()
	}

	return cacheInstance
}

// NewCacheInstance creates a standalone cache, mostly useful for tests.
func NewCacheInstance() *CacheInstance {
	c := new(CacheInstance)
	c.entries = make(map[string]*CacheEntry)
	c.globalLock = new(sync.Mutex)
	return c
}

type CacheEntry struct {
	Value  interface{}
	Expiry time.Time
	Lock   *sync.Mutex
}

func (c *CacheInstance) getOrCreate(key string) *CacheEntry {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		entry = &CacheEntry{Lock: new(sync.Mutex)}
		c.entries[key] = entry
	}

	return entry
}

// GetOrLock returns the cached value for key. On a miss it returns nil with
// the entry's lock held; the caller must Put (optionally) and then Unlock.
// Concurrent callers for the same key block until that happens, so only one
// of them does the work of filling the entry.
func (c *CacheInstance) GetOrLock(key string) interface{} {
	entry := c.getOrCreate(key)

	entry.Lock.Lock()

	if entry.Value == nil || (!entry.Expiry.IsZero() && entry.Expiry.Before(time.Now())) {
		entry.Value = nil
		return nil
	}

	defer entry.Lock.Unlock()
	return entry.Value
}

// Put sets a value. Must be called with the entry's lock held (i.e. after
// GetOrLock returned nil). A ttl <= 0 never expires.
func (c *CacheInstance) Put(key string, value interface{}, ttl time.Duration) {
	entry := c.getOrCreate(key)

	entry.Value = value
	if ttl > 0 {
		entry.Expiry = time.Now().Add(ttl)
	} else {
		entry.Expiry = time.Time{}
	}
}

func (c *CacheInstance) Unlock(key string) {
	c.getOrCreate(key).Lock.Unlock()
}

func (c *CacheInstance) Destroy() {
	c.globalLock.Lock()
	defer c.globalLock.Unlock()

	c.entries = make(map[string]*CacheEntry)
}
