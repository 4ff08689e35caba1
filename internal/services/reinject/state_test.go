// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreMissingFilesLoadEmpty(t *testing.T) {
	store := NewStateStore(t.TempDir())

	stats, err := store.LoadStats()
	require.NoError(t, err)
	assert.Equal(t, RunStats{}, stats)

	tasks, err := store.LoadQueue()
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestStateStoreStatsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)
	saved := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return saved }

	stats := RunStats{
		TestsPerformed:     42,
		InfringingDetected: 7,
		CleanupsCompleted:  5,
		ErrorsEncountered:  2,
		StartTime:          time.Date(2026, 2, 28, 8, 30, 15, 123456789, time.UTC),
	}
	require.NoError(t, store.SaveStats(stats))

	loaded, err := store.LoadStats()
	require.NoError(t, err)
	assert.Equal(t, stats, loaded)

	raw, err := os.ReadFile(filepath.Join(dir, StatsFileName))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.EqualValues(t, 1, doc["schema_version"])
	assert.Equal(t, "2026-03-01T10:00:00Z", doc["last_save"])
	inner := doc["stats"].(map[string]any)
	assert.Equal(t, "2026-02-28T08:30:15.123456789Z", inner["start_time"])
	assert.EqualValues(t, 42, inner["tests_performed"])
}

func TestStateStoreQueueRoundTrip(t *testing.T) {
	store := NewStateStore(t.TempDir())

	tasks := []*CleanupTask{
		{
			TorrentHash:   "0123456789abcdef0123456789abcdef01234567",
			RDTorrentID:   "RID1",
			Filename:      "Movie.2020.1080p",
			LocalPaths:    []string{"/media/movies/Movie.mkv", "/media/movies/Movie.srt"},
			ErrorType:     KindInfringingFile,
			DiscoveryDate: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
			RetryCount:    1,
			Status:        StatusPending,
		},
		{
			TorrentHash:   "89abcdef0123456789abcdef0123456789abcdef",
			Filename:      "Show.S01E01",
			LocalPaths:    []string{},
			ErrorType:     KindVirus,
			DiscoveryDate: time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC),
			Status:        StatusProcessing,
			LastError:     "notify failed",
		},
	}
	require.NoError(t, store.SaveQueue(tasks))

	loaded, err := store.LoadQueue()
	require.NoError(t, err)
	assert.Equal(t, tasks, loaded)
}

func TestStateStoreLegacyQueueArray(t *testing.T) {
	dir := t.TempDir()
	legacy := `[
		{"torrent_hash":"0123456789abcdef0123456789abcdef01234567","rd_torrent_id":"RID","filename":"Old",
		 "local_paths":["/a"],"error_type":"infringing_file","discovery_date":"2025-12-01T00:00:00+01:00",
		 "retry_count":2,"status":"pending"},
		{"torrent_hash":"","filename":"dropped"},
		{"torrent_hash":"89abcdef0123456789abcdef0123456789abcdef","filename":"NoStatus"}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, QueueFileName), []byte(legacy), 0o644))

	tasks, err := NewStateStore(dir).LoadQueue()
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "RID", tasks[0].RDTorrentID)
	assert.Equal(t, 2, tasks[0].RetryCount)
	assert.Equal(t, time.Date(2025, 11, 30, 23, 0, 0, 0, time.UTC), tasks[0].DiscoveryDate)
	assert.Equal(t, StatusPending, tasks[1].Status)
	assert.Equal(t, []string{}, tasks[1].LocalPaths)
}

func TestStateStoreCorruptFilesReturnError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, StatsFileName), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, QueueFileName), []byte(`{"schema_version":9,"tasks":[]}`), 0o644))

	store := NewStateStore(dir)

	stats, err := store.LoadStats()
	assert.Error(t, err)
	assert.Equal(t, RunStats{}, stats)

	tasks, err := store.LoadQueue()
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
	assert.Empty(t, tasks)
}

func TestStateStoreWriteLeavesNoTempFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store := NewStateStore(dir)

	require.NoError(t, store.SaveQueue(nil))
	require.NoError(t, store.SaveQueue([]*CleanupTask{{TorrentHash: "h", Status: StatusPending}}))
	require.NoError(t, store.SaveStats(RunStats{}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{QueueFileName, StatsFileName}, names)

	var doc queueDocument
	raw, err := os.ReadFile(filepath.Join(dir, QueueFileName))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, SchemaVersion, doc.SchemaVersion)
	require.Len(t, doc.Tasks, 1)
}
