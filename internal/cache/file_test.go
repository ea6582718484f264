package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileCache(t *testing.T) (*FileCache, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	c, err := NewFileCache(filepath.Join(t.TempDir(), "data"), DefaultMaxAge, clock)
	require.NoError(t, err)
	return c, clock
}

func TestFileCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestFileCache(t)
	want := testDocs(4.25)

	require.NoError(t, c.Set(ctx, testKey(5), want))

	got, ok, err := c.Get(ctx, testKey(5))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, docsEqual(got, want))

	// Stored as a two-element JSON array named after the key.
	raw, err := os.ReadFile(filepath.Join(c.Dir(), "gfs_velocity_2024031000_f005_850mb.json"))
	require.NoError(t, err)
	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &arr))
	assert.Len(t, arr, 2)
	assert.Contains(t, string(arr[0]), `"data":[4.25,null]`)
}

func TestFileCache_AnalysisFileName(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestFileCache(t)

	require.NoError(t, c.Set(ctx, testKey(0), testDocs(1)))

	_, err := os.Stat(filepath.Join(c.Dir(), "gfs_velocity_2024031000_850mb.json"))
	assert.NoError(t, err)
}

func TestFileCache_MissWhenAbsent(t *testing.T) {
	c, _ := newTestFileCache(t)

	_, ok, err := c.Get(context.Background(), testKey(3))

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileCache_StaleByModTime(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestFileCache(t)
	require.NoError(t, c.Set(ctx, testKey(2), testDocs(1)))

	clock.Advance(5*time.Hour + 59*time.Minute)
	_, ok, err := c.Get(ctx, testKey(2))
	require.NoError(t, err)
	assert.True(t, ok, "fresh before six hours")

	clock.Advance(time.Minute)
	_, ok, err = c.Get(ctx, testKey(2))
	require.NoError(t, err)
	assert.False(t, ok, "stale at six hours")

	_, statErr := os.Stat(c.Path(testKey(2)))
	assert.NoError(t, statErr, "stale file is not deleted on read")
}

func TestFileCache_ExternalFileAgedWithChtimes(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestFileCache(t)
	require.NoError(t, c.Set(ctx, testKey(1), testDocs(1)))

	old := clock.Now().Add(-7 * time.Hour)
	require.NoError(t, os.Chtimes(c.Path(testKey(1)), old, old))

	_, ok, err := c.Get(ctx, testKey(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileCache_CorruptFileIsError(t *testing.T) {
	c, _ := newTestFileCache(t)
	require.NoError(t, os.WriteFile(c.Path(testKey(1)), []byte("{not json"), 0o644))

	_, ok, err := c.Get(context.Background(), testKey(1))

	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFileCache_SetFailsWhenDirRemoved(t *testing.T) {
	c, _ := newTestFileCache(t)
	require.NoError(t, os.RemoveAll(c.Dir()))

	err := c.Set(context.Background(), testKey(1), testDocs(1))

	assert.ErrorIs(t, err, ErrWrite)
	assert.Error(t, c.Ping())
}

func TestFileCache_ConcurrentWritersLastWins(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestFileCache(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Set(ctx, testKey(4), testDocs(float64(i))))
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Get(ctx, testKey(4))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ok, err := c.Get(ctx, testKey(4))
	require.NoError(t, err)
	require.True(t, ok)
	assert.GreaterOrEqual(t, got[0].Data[0], 0.0)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileCache_Prune(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestFileCache(t)
	require.NoError(t, c.Set(ctx, testKey(1), testDocs(1)))
	clock.Advance(48 * time.Hour)
	require.NoError(t, c.Set(ctx, testKey(2), testDocs(2)))
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "notes.txt"), []byte("keep"), 0o644))
	old := clock.Now().Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(c.Dir(), "notes.txt"), old, old))

	n, err := c.Prune(ctx, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = os.Stat(c.Path(testKey(1)))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(c.Path(testKey(2)))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(c.Dir(), "notes.txt"))
	assert.NoError(t, err)
}

func TestNewFileCache_RequiresDir(t *testing.T) {
	_, err := NewFileCache("", time.Hour, nil)
	assert.Error(t, err)
}

func TestFileCache_ImplementsInterfaces(t *testing.T) {
	var _ Cache = (*FileCache)(nil)
	var _ Pruner = (*FileCache)(nil)
	var _ Cache = (*InMemoryCache)(nil)
}
