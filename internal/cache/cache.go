// Package cache implements the optional work-item title cache: a
// small TTL-evicting store that avoids re-fetching titles already
// known from a prior run, used only for release-notes formatting.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// TTL is how long a cached title stays valid. Expired entries are
// dropped when the cache is opened; an entry that expires after that
// is dropped by the lookup that finds it stale.
const TTL = 7 * 24 * time.Hour

// entry is one cached title, stamped with when it was fetched.
type entry struct {
	Title     string    `json:"title"`
	FetchedAt time.Time `json:"fetched_at"`
}

// backend persists the cache's entries. Swappable so tests don't need
// a real filesystem.
type backend interface {
	Load() (map[int64]entry, error)
	Save(map[int64]entry) error
}

// fileBackend stores the cache as a single JSON file.
type fileBackend struct {
	path string
}

func (b *fileBackend) Load() (map[int64]entry, error) {
	bs, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[int64]entry), nil
		}
		return nil, fmt.Errorf("read cache file: %w", err)
	}
	if len(bytes.TrimSpace(bs)) == 0 {
		return make(map[int64]entry), nil
	}

	var entries map[int64]entry
	if err := json.Unmarshal(bs, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal cache file: %w", err)
	}
	return entries, nil
}

func (b *fileBackend) Save(entries map[int64]entry) error {
	bs, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal cache file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := os.WriteFile(b.path, bs, 0o644); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}
	return nil
}

// Cache is a TTL-evicting, title-only cache for work items, keyed by
// work item ID. Safe for concurrent use.
type Cache struct {
	b   backend
	now func() time.Time

	mu      sync.Mutex
	entries map[int64]entry
}

// Open loads the cache from the JSON file at path inside the
// repository's .git directory, dropping any entry older than [TTL].
// A missing file opens an empty cache.
func Open(path string) (*Cache, error) {
	return open(&fileBackend{path: path}, time.Now)
}

func open(b backend, now func() time.Time) (*Cache, error) {
	entries, err := b.Load()
	if err != nil {
		return nil, err
	}

	cutoff := now().Add(-TTL)
	for id, e := range entries {
		if e.FetchedAt.Before(cutoff) {
			delete(entries, id)
		}
	}

	return &Cache{b: b, now: now, entries: entries}, nil
}

// Title returns the cached title for id, if present and unexpired.
func (c *Cache) Title(workItemID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[workItemID]
	if !ok {
		return "", false
	}
	if e.FetchedAt.Before(c.now().Add(-TTL)) {
		delete(c.entries, workItemID)
		return "", false
	}
	return e.Title, true
}

// Set records title for workItemID, stamped with the current time.
func (c *Cache) Set(workItemID int64, title string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.entries == nil {
		c.entries = make(map[int64]entry)
	}
	c.entries[workItemID] = entry{Title: title, FetchedAt: c.now()}
}

// Flush persists the cache's current contents to its backend.
func (c *Cache) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b.Save(c.entries)
}
