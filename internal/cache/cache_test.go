package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type memBackend struct {
	entries map[int64]entry
	saved   map[int64]entry
}

func (b *memBackend) Load() (map[int64]entry, error) {
	out := make(map[int64]entry, len(b.entries))
	for id, e := range b.entries {
		out[id] = e
	}
	return out, nil
}

func (b *memBackend) Save(entries map[int64]entry) error {
	b.saved = entries
	return nil
}

func TestOpen_evictsExpiredEntriesOnLoad(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	b := &memBackend{entries: map[int64]entry{
		1: {Title: "fresh", FetchedAt: now.Add(-24 * time.Hour)},
		2: {Title: "stale", FetchedAt: now.Add(-8 * 24 * time.Hour)},
	}}

	c, err := open(b, fixedClock(now))
	require.NoError(t, err)

	title, ok := c.Title(1)
	assert.True(t, ok)
	assert.Equal(t, "fresh", title)

	_, ok = c.Title(2)
	assert.False(t, ok, "an entry older than TTL must be evicted on open")
}

func TestCache_Title_missing(t *testing.T) {
	c, err := open(&memBackend{}, time.Now)
	require.NoError(t, err)

	_, ok := c.Title(42)
	assert.False(t, ok)
}

func TestCache_Set_thenTitle(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	c, err := open(&memBackend{}, fixedClock(now))
	require.NoError(t, err)

	c.Set(1, "Fix flaky test")

	title, ok := c.Title(1)
	require.True(t, ok)
	assert.Equal(t, "Fix flaky test", title)
}

func TestCache_Title_expiresBetweenLookups(t *testing.T) {
	current := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return current }
	c, err := open(&memBackend{}, clock)
	require.NoError(t, err)

	c.Set(1, "Add retry logic")
	title, ok := c.Title(1)
	require.True(t, ok)
	assert.Equal(t, "Add retry logic", title)

	current = current.Add(TTL + time.Second)
	_, ok = c.Title(1)
	assert.False(t, ok, "a title older than TTL must no longer be returned")
}

func TestCache_Flush_persistsToBackend(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	b := &memBackend{}
	c, err := open(b, fixedClock(now))
	require.NoError(t, err)

	c.Set(7, "Bump dependency")
	require.NoError(t, c.Flush(t.Context()))

	require.Contains(t, b.saved, int64(7))
	assert.Equal(t, "Bump dependency", b.saved[7].Title)
}

func TestFileBackend_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "title-cache.json")
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	c, err := open(&fileBackend{path: path}, fixedClock(now))
	require.NoError(t, err)
	c.Set(1, "Improve logging")
	require.NoError(t, c.Flush(t.Context()))

	reopened, err := open(&fileBackend{path: path}, fixedClock(now))
	require.NoError(t, err)
	title, ok := reopened.Title(1)
	require.True(t, ok)
	assert.Equal(t, "Improve logging", title)
}

func TestFileBackend_missingFileOpensEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	c, err := Open(path)
	require.NoError(t, err)
	_, ok := c.Title(1)
	assert.False(t, ok)
}
