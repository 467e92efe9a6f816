// Package urlcache caches resolved upstream URLs per file identity so that
// players probing with bursts of range requests do not re-resolve on every
// request. Entries expire lazily on read; there is no sweep goroutine. The
// cache is a proper identity-keyed map rather than a single "current" slot,
// so concurrent playback of different files does not thrash it.
package urlcache

import (
	"encoding/json"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/cloudrive/drive-stream-proxy/internal/monitoring"
	"github.com/cloudrive/drive-stream-proxy/internal/resolver"
)

// Cache maps FileIdentity to the last resolved URL. Safe for concurrent use.
type Cache struct {
	entries *lru.Cache[resolver.FileIdentity, *resolver.ResolvedURL]
	store   *Store
	now     func() time.Time
	logger  *logrus.Entry
}

// persistedEntry is the JSON form written to the store.
type persistedEntry struct {
	UserID   string                `json:"user_id"`
	DriveID  string                `json:"drive_id"`
	FileID   string                `json:"file_id"`
	Resolved *resolver.ResolvedURL `json:"resolved"`
}

// New creates a cache holding up to maxEntries identities. store may be nil
// for a purely in-memory cache; when given, previously persisted entries
// that are still fresh are loaded back.
func New(maxEntries int, store *Store) (*Cache, error) {
	entries, err := lru.New[resolver.FileIdentity, *resolver.ResolvedURL](maxEntries)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		entries: entries,
		store:   store,
		now:     time.Now,
		logger:  logrus.WithField("component", "url-cache"),
	}
	if store != nil {
		c.loadPersisted()
	}
	return c, nil
}

func (c *Cache) loadPersisted() {
	n := 0
	err := c.store.ForEach(func(key string, value []byte) error {
		var entry persistedEntry
		if err := json.Unmarshal(value, &entry); err != nil || entry.Resolved == nil {
			return nil // skip corrupt entries
		}
		id := resolver.FileIdentity{UserID: entry.UserID, DriveID: entry.DriveID, FileID: entry.FileID}
		if !entry.Resolved.Valid(c.now()) {
			return nil
		}
		c.entries.Add(id, entry.Resolved)
		n++
		return nil
	})
	if err != nil {
		c.logger.WithError(err).Warn("Failed to load persisted url cache entries")
		return
	}
	if n > 0 {
		c.logger.WithField("entries", n).Debug("Loaded persisted url cache entries")
	}
}

// Get returns the cached resolved URL for id, or absent when no entry
// exists, the entry has expired, or it was resolved under a different video
// mode. Stale entries are evicted on the spot.
func (c *Cache) Get(id resolver.FileIdentity, videoMode string) (*resolver.ResolvedURL, bool) {
	entry, ok := c.entries.Get(id)
	if !ok {
		monitoring.CacheMissesTotal.Inc()
		return nil, false
	}
	if !entry.Valid(c.now()) || (videoMode != "" && entry.VideoMode != "" && entry.VideoMode != videoMode) {
		c.Invalidate(id)
		monitoring.CacheMissesTotal.Inc()
		return nil, false
	}
	monitoring.CacheHitsTotal.Inc()
	return entry, true
}

// Put stores (overwriting) the resolved URL for id and persists it.
func (c *Cache) Put(id resolver.FileIdentity, entry *resolver.ResolvedURL) {
	c.entries.Add(id, entry)
	if c.store == nil {
		return
	}
	value, err := json.Marshal(&persistedEntry{
		UserID:   id.UserID,
		DriveID:  id.DriveID,
		FileID:   id.FileID,
		Resolved: entry,
	})
	if err != nil {
		c.logger.WithError(err).Warn("Failed to encode url cache entry")
		return
	}
	if err := c.store.Put(id.String(), value); err != nil {
		c.logger.WithError(err).Warn("Failed to persist url cache entry")
	}
}

// Invalidate removes the entry for id, forcing re-resolution on the next
// request.
func (c *Cache) Invalidate(id resolver.FileIdentity) {
	c.entries.Remove(id)
	if c.store != nil {
		if err := c.store.Delete(id.String()); err != nil {
			c.logger.WithError(err).Warn("Failed to delete persisted url cache entry")
		}
	}
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// SetNowFunc overrides the clock, for tests.
func (c *Cache) SetNowFunc(now func() time.Time) {
	c.now = now
}
