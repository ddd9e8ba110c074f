// Package probecache provides at-most-once probe semantics per
// (identity tuple, TTL), generalizing the in-memory cache pattern to
// one that also persists to disk. Reads and writes both go through a
// single mutex; a read holds it only for the map lookup, so reads are
// not lock-free.
package probecache

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/videoguard/scancore/internal/log"
	"github.com/videoguard/scancore/internal/metrics"
	"github.com/videoguard/scancore/internal/model"
)

const cacheFormatVersion = 1

// fileEntry is the on-disk representation of one cache entry.
type fileEntry struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
	CreatedAt time.Time `json:"created_at"`
	Probe     json.RawMessage `json:"probe"`
}

type fileFormat struct {
	Version int         `json:"version"`
	Entries []fileEntry `json:"entries"`
}

// Cache is the probe cache. The zero value is not usable; construct
// with New or Load.
type Cache struct {
	path string
	ttl  time.Duration

	mu       sync.Mutex
	snapshot map[string]model.ProbeCacheEntry // swapped atomically under mu
}

// New constructs an empty cache backed by path, not yet loaded from disk.
func New(path string, ttl time.Duration) *Cache {
	return &Cache{path: path, ttl: ttl, snapshot: make(map[string]model.ProbeCacheEntry)}
}

// Load reads the cache file at path if present. A malformed or
// version-incompatible file is treated as empty — the cache is
// advisory, never authoritative, so a clean rebuild is always safe.
func Load(path string, ttl time.Duration) *Cache {
	c := New(path, ttl)
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}

	var format fileFormat
	if err := json.Unmarshal(data, &format); err != nil {
		log.WithComponent("probecache").Warn().Err(err).Str("path", path).Msg("malformed cache file, starting empty")
		return c
	}
	if format.Version != cacheFormatVersion {
		log.WithComponent("probecache").Warn().Int("version", format.Version).Msg("incompatible cache version, starting empty")
		return c
	}

	snapshot := make(map[string]model.ProbeCacheEntry, len(format.Entries))
	for _, fe := range format.Entries {
		var probe model.ProbeResult
		if err := json.Unmarshal(fe.Probe, &probe); err != nil {
			continue // one bad entry never turns the whole load into a miss-everything failure
		}
		id := model.Identity{Path: fe.Path, Size: fe.Size, ModTime: fe.ModTime}
		snapshot[id.Key()] = model.ProbeCacheEntry{Identity: id, Probe: probe, CreatedAt: fe.CreatedAt}
	}
	c.snapshot = snapshot
	return c
}

// Get returns a cached probe iff the identity matches exactly and the
// entry has not exceeded its TTL. It never turns a miss into a false
// hit: any ambiguity is resolved as a miss.
func (c *Cache) Get(id model.Identity) (model.ProbeResult, bool) {
	c.mu.Lock()
	entry, ok := c.snapshot[id.Key()]
	c.mu.Unlock()

	if !ok || !entry.Identity.Equal(id) {
		metrics.ProbeCacheMissesTotal.Inc()
		return model.ProbeResult{}, false
	}
	if c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl {
		metrics.ProbeCacheMissesTotal.Inc()
		return model.ProbeResult{}, false
	}
	metrics.ProbeCacheHitsTotal.Inc()
	return entry.Probe, true
}

// Put upserts the entry for id and flushes a new snapshot to disk.
func (c *Cache) Put(id model.Identity, probe model.ProbeResult) error {
	c.mu.Lock()
	next := make(map[string]model.ProbeCacheEntry, len(c.snapshot)+1)
	for k, v := range c.snapshot {
		next[k] = v
	}
	next[id.Key()] = model.ProbeCacheEntry{Identity: id, Probe: probe, CreatedAt: time.Now()}
	c.snapshot = next
	c.mu.Unlock()

	return c.flush()
}

// PurgeExpired removes entries older than TTL. Safe to run at startup.
func (c *Cache) PurgeExpired() error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	next := make(map[string]model.ProbeCacheEntry, len(c.snapshot))
	for k, v := range c.snapshot {
		if time.Since(v.CreatedAt) <= c.ttl {
			next[k] = v
		}
	}
	c.snapshot = next
	c.mu.Unlock()

	return c.flush()
}

// flush serializes the current snapshot to disk atomically
// (write-temp-then-rename via renameio), so a crash mid-write never
// leaves a half-written cache file.
func (c *Cache) flush() error {
	c.mu.Lock()
	entries := make([]fileEntry, 0, len(c.snapshot))
	for _, v := range c.snapshot {
		probeJSON, err := json.Marshal(v.Probe)
		if err != nil {
			c.mu.Unlock()
			return err
		}
		entries = append(entries, fileEntry{
			Path: v.Identity.Path, Size: v.Identity.Size, ModTime: v.Identity.ModTime,
			CreatedAt: v.CreatedAt, Probe: probeJSON,
		})
	}
	c.mu.Unlock()

	data, err := json.Marshal(fileFormat{Version: cacheFormatVersion, Entries: entries})
	if err != nil {
		return err
	}
	return renameio.WriteFile(c.path, data, 0o644)
}
