package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qpfwatch/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testItems(n int) []types.FeedItem {
	items := make([]types.FeedItem, n)
	for i := range items {
		items[i] = types.FeedItem{
			Title:       fmt.Sprintf("Fairfax: 48‑hr rain ≥ 0.30\" (Forecast window total %d.00\")", i),
			Description: "Fixed 48h: Day 1–2 total=0.90\"\nSource: WPC QPF (NOAA/NWS).",
			Link:        "https://www.wpc.ncep.noaa.gov/qpf/day1-2.shtml",
			GUID:        fmt.Sprintf("fairfax-wpc-%d", 1700000000-i),
			PubDate:     "Tue, 14 Nov 2023 22:13:20 GMT",
		}
	}
	return items
}

func newTestFileStore(t *testing.T, maxItems int) (*FileStateStore, string, string) {
	t.Helper()
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	itemsPath := filepath.Join(dir, "items.json")
	return NewFileStateStore(statePath, itemsPath, maxItems, discardLogger()), statePath, itemsPath
}

func TestFileStateStoreMissingFilesLoadDefaults(t *testing.T) {
	store, _, _ := newTestFileStore(t, 25)

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, state.AlertActive)
	assert.Empty(t, state.Items)
}

func TestFileStateStoreRoundTrip(t *testing.T) {
	store, statePath, itemsPath := newTestFileStore(t, 25)
	want := types.RunState{AlertActive: true, Items: testItems(3)}

	require.NoError(t, store.Save(context.Background(), want))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)

	raw, err := os.ReadFile(statePath)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"alert_active\": true\n}\n", string(raw))

	raw, err = os.ReadFile(itemsPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  {\n    \"title\": ")
	assert.Contains(t, string(raw), `"pubDate": "Tue, 14 Nov 2023 22:13:20 GMT"`)
}

func TestFileStateStoreReadsLegacyFiles(t *testing.T) {
	store, statePath, itemsPath := newTestFileStore(t, 25)
	require.NoError(t, os.WriteFile(statePath, []byte(`{"alert_active": true, "extra": 1}`), 0o644))
	require.NoError(t, os.WriteFile(itemsPath, []byte(`[
  {
    "title": "Fairfax: 48‑hr rain ≥ 0.30\" (Forecast window total 0.45\")",
    "description": "x",
    "link": "https://www.wpc.ncep.noaa.gov/qpf/day1-2.shtml",
    "guid": "fairfax-wpc-1700000000",
    "pubDate": "Tue, 14 Nov 2023 22:13:20 GMT"
  }
]`), 0o644))

	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, state.AlertActive)
	require.Len(t, state.Items, 1)
	assert.Equal(t, "Fairfax: 48‑hr rain ≥ 0.30\" (Forecast window total 0.45\")", state.Items[0].Title)
}

func TestFileStateStoreCorruptFilesFallBack(t *testing.T) {
	var logs bytes.Buffer
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	itemsPath := filepath.Join(dir, "items.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"alert_active": "yes"`), 0o644))
	require.NoError(t, os.WriteFile(itemsPath, []byte(`not json`), 0o644))

	store := NewFileStateStore(statePath, itemsPath, 25, slog.New(slog.NewTextHandler(&logs, nil)))
	state, err := store.Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, types.RunState{}, state)
	assert.Contains(t, logs.String(), "State file unreadable")
	assert.Contains(t, logs.String(), "Item history unreadable")
}

func TestFileStateStoreSaveTruncatesItems(t *testing.T) {
	store, _, _ := newTestFileStore(t, 25)

	require.NoError(t, store.Save(context.Background(), types.RunState{Items: testItems(30)}))

	got, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Items, 25)
	assert.Equal(t, "fairfax-wpc-1700000000", got.Items[0].GUID, "newest entries are kept")
}

func TestFileStateStoreEmptyItemsWrittenAsList(t *testing.T) {
	store, _, itemsPath := newTestFileStore(t, 25)

	require.NoError(t, store.Save(context.Background(), types.RunState{}))

	raw, err := os.ReadFile(itemsPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))
}

func TestFileStateStoreSaveFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	store := NewFileStateStore(filepath.Join(missing, "state.json"), filepath.Join(missing, "items.json"), 25, nil)

	err := store.Save(context.Background(), types.RunState{AlertActive: true})

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalStateStore, appErr.Code)
}
