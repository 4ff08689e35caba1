// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/rdtm/internal/debrid"
	"github.com/autobrr/rdtm/internal/models"
	"github.com/autobrr/rdtm/internal/services/notifications"
)

// brokenLink creates a symlink under dir pointing at a target that does not
// exist.
func brokenLink(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone", name), path))
	return path
}

func queueTask(t *testing.T, svc *Service, hash string, paths ...string) {
	t.Helper()
	result := TestResult{Hash: hash, Name: "Movie.2020.1080p", Kind: KindInfringingFile}
	for _, p := range paths {
		svc.Enqueue(context.Background(), result, &models.BrokenSymlink{Path: p, Name: "Movie.2020.1080p"}, "RID1")
	}
}

func TestProcessTaskRemovesOnlySymlinks(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	dir := t.TempDir()

	link := brokenLink(t, dir, "Movie.mkv")
	regular := filepath.Join(dir, "Movie.nfo")
	require.NoError(t, os.WriteFile(regular, []byte("keep"), 0o644))
	missing := filepath.Join(dir, "already-gone.mkv")

	queueTask(t, svc, hashA, link, regular, missing)
	require.Len(t, svc.Tasks(), 1)

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)

	_, err := os.Lstat(link)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(regular)
	assert.NoError(t, err)

	assert.Equal(t, []string{"RID1"}, env.remote.deleteIDs())
	assert.Equal(t, 1, env.media.callCount())
	assert.Empty(t, svc.Tasks())
	assert.EqualValues(t, 1, svc.Stats().CleanupsCompleted)

	require.Len(t, env.records.recs, 1)
	assert.Equal(t, string(StatusCompleted), env.records.recs[0].Status)
	assert.Len(t, env.records.recs[0].LocalPaths, 3)
	assert.Contains(t, env.alerts.types(), notifications.EventCleanupCompleted)

	snap := svc.Snapshot()
	assert.Equal(t, 1, snap.Finished[StatusCompleted])
	assert.Zero(t, snap.Queue[StatusPending])

	persisted, err := NewStateStore(env.dir).LoadQueue()
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestProcessTaskNotifyFailureExhaustsRetries(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	env.media.ok = false
	dir := t.TempDir()
	queueTask(t, svc, hashA, brokenLink(t, dir, "Movie.mkv"))

	for attempt := 1; attempt <= 2; attempt++ {
		status, ok := svc.ProcessTask(context.Background(), hashA)
		require.True(t, ok)
		assert.Equal(t, StatusPending, status)

		tasks := svc.Tasks()
		require.Len(t, tasks, 1)
		assert.Equal(t, attempt, tasks[0].RetryCount)
		assert.Contains(t, tasks[0].LastError, "media rescan")
	}

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, status)
	assert.Empty(t, svc.Tasks())

	_, ok = svc.ProcessTask(context.Background(), hashA)
	assert.False(t, ok)

	assert.Equal(t, 3, env.media.callCount())
	assert.EqualValues(t, 1, svc.Stats().ErrorsEncountered)
	assert.Zero(t, svc.Stats().CleanupsCompleted)

	require.Len(t, env.records.recs, 1)
	assert.Equal(t, string(StatusFailed), env.records.recs[0].Status)
	assert.Equal(t, 3, env.records.recs[0].RetryCount)
	assert.Contains(t, env.alerts.types(), notifications.EventCleanupFailed)
	assert.Equal(t, 1, svc.Snapshot().Finished[StatusFailed])
}

func TestProcessTaskRunsEveryStep(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	env.remote.deleteFn = func(string) (debrid.DeleteResult, error) {
		return debrid.DeleteResult{HTTPStatus: 403, RawError: "permission_denied (code 9)"}, nil
	}
	dir := t.TempDir()
	link := brokenLink(t, dir, "Movie.mkv")
	queueTask(t, svc, hashA, link)

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusPending, status)

	_, err := os.Lstat(link)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, 1, env.media.callCount())

	tasks := svc.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].RetryCount)
	assert.Contains(t, tasks[0].LastError, "remote delete: permission_denied (code 9)")
}

func TestProcessTaskAlreadyDeletedRemote(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	env.remote.deleteFn = func(string) (debrid.DeleteResult, error) {
		return debrid.DeleteResult{OK: true, AlreadyDeleted: true, HTTPStatus: 404}, nil
	}
	queueTask(t, svc, hashA, filepath.Join(t.TempDir(), "gone.mkv"))

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)
}

func TestProcessTaskRemoteStatusWithoutBody(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	env.remote.deleteFn = func(string) (debrid.DeleteResult, error) {
		return debrid.DeleteResult{HTTPStatus: 500}, nil
	}
	queueTask(t, svc, hashA, filepath.Join(t.TempDir(), "gone.mkv"))

	svc.ProcessTask(context.Background(), hashA)

	tasks := svc.Tasks()
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0].LastError, "status 500")
}

func TestProcessTaskDryRun(t *testing.T) {
	cfg := testConfig()
	cfg.DryRun = true
	svc, env := newTestService(t, cfg, nil)

	dir := t.TempDir()
	link := brokenLink(t, dir, "Movie.mkv")
	queueTask(t, svc, hashA, link)

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)

	_, err := os.Lstat(link)
	assert.NoError(t, err)
	assert.Empty(t, env.remote.deleteIDs())
	assert.Zero(t, env.media.callCount())
	assert.EqualValues(t, 1, svc.Stats().CleanupsCompleted)

	env.alerts.mu.Lock()
	defer env.alerts.mu.Unlock()
	require.NotEmpty(t, env.alerts.events)
	for _, e := range env.alerts.events {
		assert.True(t, e.DryRun)
	}
}

func TestProcessTaskWithoutMediaNotifier(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), func(d *Deps) { d.Media = nil })
	queueTask(t, svc, hashA, filepath.Join(t.TempDir(), "gone.mkv"))

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)
}

func TestProcessTaskRequeuesWhenPathsMergedDuringRun(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	dir := t.TempDir()
	queueTask(t, svc, hashA, brokenLink(t, dir, "E01.mkv"))

	late := brokenLink(t, dir, "E02.mkv")
	merged := false
	env.media.onCall = func() {
		if merged {
			return
		}
		merged = true
		queueTask(t, svc, hashA, late)
	}

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusPending, status)

	tasks := svc.Tasks()
	require.Len(t, tasks, 1)
	assert.Zero(t, tasks[0].RetryCount)
	assert.Len(t, tasks[0].LocalPaths, 2)

	status, ok = svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)

	_, err := os.Lstat(late)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessTaskRequeuesWhenRemoteIDLearnedDuringRun(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	result := TestResult{Hash: hashA, Name: "Movie.2020.1080p", Kind: KindInfringingFile}
	link := brokenLink(t, t.TempDir(), "Movie.mkv")
	svc.Enqueue(context.Background(), result, &models.BrokenSymlink{Path: link, Name: "Movie.2020.1080p"}, "")

	learned := false
	env.media.onCall = func() {
		if learned {
			return
		}
		learned = true
		svc.Enqueue(context.Background(), result, nil, "RID1")
	}

	status, ok := svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusPending, status)
	assert.Empty(t, env.remote.deleteIDs())

	tasks := svc.Tasks()
	require.Len(t, tasks, 1)
	assert.Zero(t, tasks[0].RetryCount)
	assert.Equal(t, "RID1", tasks[0].RDTorrentID)

	status, ok = svc.ProcessTask(context.Background(), hashA)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, status)
	assert.Equal(t, []string{"RID1"}, env.remote.deleteIDs())
}

func TestProcessTaskUnknownHash(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)

	_, ok := svc.ProcessTask(context.Background(), hashB)
	assert.False(t, ok)
}

func TestRemoveSymlink(t *testing.T) {
	dir := t.TempDir()

	_, err := removeSymlink("relative/link")
	assert.Error(t, err)

	removed, err := removeSymlink(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, removed)

	sub := filepath.Join(dir, "folder")
	require.NoError(t, os.Mkdir(sub, 0o755))
	removed, err = removeSymlink(sub)
	require.NoError(t, err)
	assert.False(t, removed)
	assert.DirExists(t, sub)

	link := brokenLink(t, dir, "x.mkv")
	removed, err = removeSymlink(link)
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestEnqueueCollectsSiblingPaths(t *testing.T) {
	name := "Movie.Title.2020.1080p.BluRay.x264-GRP"
	siblings := &fakeSiblings{
		byName: map[string][]*models.BrokenSymlink{
			name: {
				{ID: 1, Path: "/movies/Movie Title (2020)/movie.mkv", Name: name},
				{ID: 2, Path: "/movies/Movie Title (2020)/movie.srt", Name: name},
			},
		},
		all: []*models.BrokenSymlink{
			{ID: 3, Path: "/movies/other/movie.720p.mkv", Name: "Movie.Title.2020.720p.WEB-DL"},
			{ID: 4, Path: "/movies/sequel/movie.mkv", Name: "Movie.Title.2021.1080p.WEB-DL"},
			{ID: 5, Path: "/movies/another/movie.mkv", Name: "Another.Movie.2020.1080p"},
		},
	}
	svc, _ := newTestService(t, testConfig(), func(d *Deps) { d.Siblings = siblings })

	ref := &models.BrokenSymlink{ID: 1, Path: "/movies/Movie Title (2020)/movie.mkv", Name: name}
	task, merged := svc.Enqueue(context.Background(), TestResult{Hash: hashA, Name: name, Kind: KindInfringingFile}, ref, "RID")

	assert.False(t, merged)
	assert.Equal(t, []string{
		"/movies/Movie Title (2020)/movie.mkv",
		"/movies/Movie Title (2020)/movie.srt",
		"/movies/other/movie.720p.mkv",
	}, task.LocalPaths)
}

func TestEnqueueKeepsFirstRemoteID(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)
	result := TestResult{Hash: hashA, Name: "Movie", Kind: KindInfringingFile}

	svc.Enqueue(context.Background(), result, &models.BrokenSymlink{Path: "/a", Name: "Movie"}, "")
	task, merged := svc.Enqueue(context.Background(), result, &models.BrokenSymlink{Path: "/a", Name: "Movie"}, "RID2")

	assert.True(t, merged)
	assert.Equal(t, "RID2", task.RDTorrentID)
	assert.Equal(t, []string{"/a"}, task.LocalPaths)

	task, _ = svc.Enqueue(context.Background(), result, nil, "RID3")
	assert.Equal(t, "RID2", task.RDTorrentID)
}
