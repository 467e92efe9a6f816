package urlcache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrive/drive-stream-proxy/internal/resolver"
)

var testID = resolver.FileIdentity{UserID: "u1", DriveID: "d1", FileID: "f1"}

func freshEntry(now time.Time) *resolver.ResolvedURL {
	return &resolver.ResolvedURL{
		UpstreamURL: "https://cdn.example.com/obj?Expires=9999999999",
		Size:        1000,
		ExpiresAt:   now.Add(time.Hour),
		Mode:        resolver.ModeDirectDownload,
		VideoMode:   "web",
	}
}

func TestCache_PutGet(t *testing.T) {
	cache, err := New(4, nil)
	require.NoError(t, err)

	entry := freshEntry(time.Now())
	cache.Put(testID, entry)

	got, ok := cache.Get(testID, "web")
	require.True(t, ok)
	assert.Equal(t, entry.UpstreamURL, got.UpstreamURL)
	assert.Equal(t, entry.Size, got.Size)
}

func TestCache_MissOnUnknownIdentity(t *testing.T) {
	cache, err := New(4, nil)
	require.NoError(t, err)

	_, ok := cache.Get(testID, "web")
	assert.False(t, ok)
}

func TestCache_DistinctIdentitiesDoNotCollide(t *testing.T) {
	cache, err := New(4, nil)
	require.NoError(t, err)

	now := time.Now()
	other := resolver.FileIdentity{UserID: "u1", DriveID: "d1", FileID: "f2"}

	first := freshEntry(now)
	second := freshEntry(now)
	second.UpstreamURL = "https://cdn.example.com/other?Expires=9999999999"

	cache.Put(testID, first)
	cache.Put(other, second)

	got1, ok := cache.Get(testID, "web")
	require.True(t, ok)
	got2, ok := cache.Get(other, "web")
	require.True(t, ok)
	assert.NotEqual(t, got1.UpstreamURL, got2.UpstreamURL)
}

func TestCache_ExpiredEntryEvictedLazily(t *testing.T) {
	cache, err := New(4, nil)
	require.NoError(t, err)

	now := time.Now()
	cache.Put(testID, freshEntry(now))
	require.Equal(t, 1, cache.Len())

	cache.SetNowFunc(func() time.Time { return now.Add(2 * time.Hour) })

	_, ok := cache.Get(testID, "web")
	assert.False(t, ok)
	assert.Zero(t, cache.Len(), "stale entry must be evicted on read")
}

func TestCache_VideoModeMismatchInvalidates(t *testing.T) {
	cache, err := New(4, nil)
	require.NoError(t, err)

	cache.Put(testID, freshEntry(time.Now()))

	_, ok := cache.Get(testID, "online")
	assert.False(t, ok, "entry resolved under a different video mode must not be served")
	assert.Zero(t, cache.Len())
}

func TestCache_Invalidate(t *testing.T) {
	cache, err := New(4, nil)
	require.NoError(t, err)

	cache.Put(testID, freshEntry(time.Now()))
	cache.Invalidate(testID)

	_, ok := cache.Get(testID, "web")
	assert.False(t, ok)
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urlcache.db")

	store, err := OpenStore(path)
	require.NoError(t, err)

	cache, err := New(4, store)
	require.NoError(t, err)
	entry := freshEntry(time.Now())
	cache.Put(testID, entry)
	require.NoError(t, store.Close())

	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	reopened, err := New(4, store)
	require.NoError(t, err)

	got, ok := reopened.Get(testID, "web")
	require.True(t, ok, "fresh entry must survive a restart")
	assert.Equal(t, entry.UpstreamURL, got.UpstreamURL)
	assert.Equal(t, entry.Mode, got.Mode)
}

func TestCache_ExpiredEntriesNotLoaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "urlcache.db")

	store, err := OpenStore(path)
	require.NoError(t, err)

	cache, err := New(4, store)
	require.NoError(t, err)
	expired := freshEntry(time.Now())
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	cache.Put(testID, expired)
	require.NoError(t, store.Close())

	store, err = OpenStore(path)
	require.NoError(t, err)
	defer store.Close()

	reopened, err := New(4, store)
	require.NoError(t, err)
	assert.Zero(t, reopened.Len())
}

func TestStore_DeleteAndForEach(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "urlcache.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("a", []byte("1")))
	require.NoError(t, store.Put("b", []byte("2")))
	require.NoError(t, store.Delete("a"))

	seen := map[string]string{}
	err = store.ForEach(func(key string, value []byte) error {
		seen[key] = string(value)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "2"}, seen)

	_, ok, err := store.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}
