package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PatternScan/internal/domain/models"
	"PatternScan/internal/services/library"
	"PatternScan/internal/testutil"
	"PatternScan/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePatterns(t *testing.T) []*models.Pattern {
	t.Helper()
	lib := library.New(nil)
	_, err := lib.AddWindow(library.PatternSpec{
		ID:     "dt-1",
		Label:  "double_top",
		Window: models.Window(testutil.Bars(testutil.DoubleTop(1, 40, 0.2, 0))),
		Provenance: models.Provenance{
			SeriesID:  "AAPL",
			Timeframe: "1m",
		},
	})
	require.NoError(t, err)
	_, err = lib.AddWindow(library.PatternSpec{
		ID:     "up-1",
		Label:  "uptrend",
		Window: models.Window(testutil.Bars(testutil.Trend(2, 40, 0.5, 0.2))),
	})
	require.NoError(t, err)
	_, err = lib.Augment()
	require.NoError(t, err)
	return lib.List()
}

func assertEquivalent(t *testing.T, want, got []*models.Pattern) {
	t.Helper()
	require.Len(t, got, len(want))

	lib := library.New(nil)
	require.NoError(t, lib.Replace(got))
	for _, w := range want {
		g, err := lib.Get(w.ID)
		require.NoError(t, err)
		assert.Equal(t, w.Label, g.Label)
		assert.Equal(t, w.Augmented, g.Augmented)
		assert.Equal(t, w.ParentID, g.ParentID)
		assert.Equal(t, w.Quality, g.Quality)
		assert.Equal(t, w.Provenance.SeriesID, g.Provenance.SeriesID)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt))
		require.Len(t, g.Window, len(w.Window))
		for i := range w.Window {
			assert.True(t, w.Window[i].Time.Equal(g.Window[i].Time))
			assert.Equal(t, w.Window[i].Close, g.Window[i].Close)
		}
		assert.InDeltaSlice(t, w.Normalized, g.Normalized, 1e-12)
		assert.InDeltaSlice(t, w.Derivative, g.Derivative, 1e-12)
	}
}

func TestDecodeLibrary(t *testing.T) {
	blob := []byte(`{
		"schema_version": 1,
		"saved_at": "2024-01-02T00:00:00Z",
		"extra": true,
		"patterns": [{"id": "a", "label": "x", "window": [], "future_field": 3}, null]
	}`)
	got, err := DecodeLibrary(blob, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	_, err = DecodeLibrary([]byte(`{"patterns": []}`), nil)
	assert.Error(t, err)

	_, err = DecodeLibrary([]byte(`not json`), nil)
	assert.Error(t, err)

	got, err = DecodeLibrary([]byte(`{"schema_version": 7, "patterns": [{"id": "b", "label": "y"}]}`), nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEncodeLibraryEmpty(t *testing.T) {
	blob, err := EncodeLibrary(nil, time.Unix(0, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"schema_version":1,"saved_at":"1970-01-01T00:00:00Z","patterns":[]}`, string(blob))
}

func TestCacheLibraryStoreRoundTrip(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewCacheLibraryStore(mc, "")
	ctx := context.Background()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	want := samplePatterns(t)
	require.Len(t, want, 4)
	require.NoError(t, store.Save(ctx, want))

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assertEquivalent(t, want, got)
}

func TestCacheLibraryStoreLock(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewCacheLibraryStore(mc, "lib:test")
	ctx := context.Background()

	ok, err := mc.TryLock(ctx, cache.Key("lib:test", "lock"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, store.Save(ctx, nil), ErrSaveInProgress)

	require.NoError(t, mc.Unlock(ctx, cache.Key("lib:test", "lock")))
	require.NoError(t, store.Save(ctx, nil))

	// the lock is released after a save
	ok, err = mc.TryLock(ctx, cache.Key("lib:test", "lock"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileLibraryStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileLibraryStore(filepath.Join(dir, "nested", "library.json"))
	ctx := context.Background()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	want := samplePatterns(t)
	require.NoError(t, store.Save(ctx, want))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assertEquivalent(t, want, got)

	// overwrite leaves no temp files behind
	require.NoError(t, store.Save(ctx, want[:1]))
	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileLibraryStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := NewFileLibraryStore(path).Load(context.Background())
	assert.Error(t, err)
}
