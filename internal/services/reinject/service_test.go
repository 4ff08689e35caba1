// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/rdtm/internal/debrid"
	"github.com/autobrr/rdtm/internal/models"
)

func TestNewServiceRequiresDeps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Deps)
		want   string
	}{
		{name: "symlinks", mutate: func(d *Deps) { d.Symlinks = nil }, want: "symlink source"},
		{name: "tracked", mutate: func(d *Deps) { d.Tracked = nil }, want: "tracked torrent lookup"},
		{name: "remote", mutate: func(d *Deps) { d.Remote = nil }, want: "remote api"},
		{name: "validator", mutate: func(d *Deps) { d.Validator = nil }, want: "validator"},
		{name: "limiter", mutate: func(d *Deps) { d.Limiter = nil }, want: "rate limiter"},
		{name: "state", mutate: func(d *Deps) { d.State = nil }, want: "state store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := Deps{
				Symlinks:  newFakeSymlinks(),
				Tracked:   &fakeTracked{},
				Remote:    &fakeRemote{},
				Validator: stubValidator{},
				Limiter:   testLimiter(),
				State:     NewStateStore(t.TempDir()),
			}
			tt.mutate(&deps)

			svc, err := NewService(testConfig(), deps)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type stubValidator struct{}

func (stubValidator) ValidateIdentifier(string) error { return nil }

func (stubValidator) BuildPayload(hash, _ string) (string, error) { return hash, nil }

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ItemDelay: -time.Second}.withDefaults()

	def := DefaultConfig()
	assert.Equal(t, def.TestBatchSize, cfg.TestBatchSize)
	assert.Equal(t, def.CleanupBatchSize, cfg.CleanupBatchSize)
	assert.Equal(t, def.MaxRetries, cfg.MaxRetries)
	assert.Equal(t, def.IdleInterval, cfg.IdleInterval)
	assert.Zero(t, cfg.ItemDelay)
}

func TestRestoreRecoversQueue(t *testing.T) {
	dir := t.TempDir()
	store := NewStateStore(dir)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveStats(RunStats{TestsPerformed: 9, InfringingDetected: 3, StartTime: start}))
	require.NoError(t, store.SaveQueue([]*CleanupTask{
		{TorrentHash: hashA, LocalPaths: []string{"/a"}, Status: StatusProcessing, RetryCount: 1},
		{TorrentHash: hashB, LocalPaths: []string{"/b"}, Status: StatusCompleted},
		{TorrentHash: hashA, LocalPaths: []string{"/a", "/c"}, Status: StatusPending},
	}))

	svc, _ := newTestService(t, testConfig(), func(d *Deps) { d.State = store })

	stats := svc.Stats()
	assert.EqualValues(t, 9, stats.TestsPerformed)
	assert.EqualValues(t, 3, stats.InfringingDetected)
	assert.Equal(t, start, stats.StartTime)

	tasks := svc.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, hashA, tasks[0].TorrentHash)
	assert.Equal(t, StatusPending, tasks[0].Status)
	assert.Equal(t, 1, tasks[0].RetryCount)
	assert.Equal(t, []string{"/a", "/c"}, tasks[0].LocalPaths)

	persisted, err := store.LoadQueue()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, StatusPending, persisted[0].Status)
}

func TestRestoreFromEmptyStateSetsStartTime(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)

	stats := svc.Stats()
	assert.False(t, stats.StartTime.IsZero())
	assert.Zero(t, stats.TestsPerformed)
	assert.Empty(t, svc.Tasks())
}

func TestSnapshotRates(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	svc.mu.Lock()
	svc.stats = RunStats{TestsPerformed: 10, InfringingDetected: 2, StartTime: now.Add(-2 * time.Hour)}
	svc.tasks = []*CleanupTask{
		{TorrentHash: hashA, Status: StatusPending},
		{TorrentHash: hashB, Status: StatusProcessing},
	}
	svc.mu.Unlock()

	snap := svc.Snapshot()
	assert.InDelta(t, 2.0, snap.RuntimeHours, 1e-9)
	assert.InDelta(t, 5.0, snap.TestsPerHour, 1e-9)
	assert.InDelta(t, 0.2, snap.InfringingRate, 1e-9)
	assert.Equal(t, 1, snap.Queue[StatusPending])
	assert.Equal(t, 1, snap.Queue[StatusProcessing])
	assert.Zero(t, snap.Finished[StatusCompleted])
}

func TestSnapshotWithoutTests(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)

	snap := svc.Snapshot()
	assert.Zero(t, snap.InfringingRate)
	assert.Contains(t, snap.Queue, StatusPending)
	assert.Contains(t, snap.Finished, StatusFailed)
}

func TestRunSingleCycle(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	dir := t.TempDir()

	env.track("Good.Movie", hashA, "RID1")
	env.track("Bad.Movie", hashB, "RID2")
	env.remote.submitFn = func(payload string) (debrid.SubmitResult, error) {
		if strings.Contains(payload, hashB) {
			return infringing(payload)
		}
		return debrid.SubmitResult{OK: true, RemoteID: "NEW"}, nil
	}

	env.symlinks.refs = []*models.BrokenSymlink{
		{ID: 1, Path: brokenLink(t, dir, "good.mkv"), Name: "Good.Movie"},
		{ID: 2, Path: brokenLink(t, dir, "bad.mkv"), Name: "Bad.Movie"},
		{ID: 3, Path: brokenLink(t, dir, "unknown.mkv"), Name: "Unknown.Movie"},
	}

	summary := svc.RunSingleCycle(context.Background(), 5)

	require.Len(t, summary.Results, 3)
	assert.True(t, summary.Results[0].Success)
	assert.Equal(t, KindInfringingFile, summary.Results[1].Kind)
	assert.Equal(t, KindTorrentNotFound, summary.Results[2].Kind)
	assert.Equal(t, map[TaskStatus]int{StatusCompleted: 1}, summary.Cleanups)

	success, marked := env.symlinks.mark(1)
	assert.True(t, marked)
	assert.True(t, success)
	success, marked = env.symlinks.mark(2)
	assert.True(t, marked)
	assert.False(t, success)
	_, marked = env.symlinks.mark(3)
	assert.True(t, marked)

	assert.Equal(t, []string{"RID2"}, env.remote.deleteIDs())
	assert.Empty(t, svc.Tasks())

	stats := svc.Stats()
	assert.EqualValues(t, 3, stats.TestsPerformed)
	assert.EqualValues(t, 1, stats.InfringingDetected)
	assert.EqualValues(t, 1, stats.CleanupsCompleted)
}

func TestRunSingleCycleLeavesRateLimitedUnprocessed(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	env.track("Movie", hashA, "RID")
	env.remote.submitFn = func(string) (debrid.SubmitResult, error) {
		return debrid.SubmitResult{HTTPStatus: 429, RawError: "too_many_requests", RateLimited: true}, nil
	}
	env.symlinks.refs = []*models.BrokenSymlink{{ID: 7, Path: "/a", Name: "Movie"}}

	summary := svc.RunSingleCycle(context.Background(), 1)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, KindTooManyRequests, summary.Results[0].Kind)
	_, marked := env.symlinks.mark(7)
	assert.False(t, marked)
}

func TestRunContinuousTestingStopsOnCancel(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	env.track("Movie", hashA, "RID")
	env.symlinks.refs = []*models.BrokenSymlink{{ID: 1, Path: "/a", Name: "Movie"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunContinuousTesting(ctx) }()

	assert.Eventually(t, func() bool {
		_, marked := env.symlinks.mark(1)
		return marked
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("testing loop did not stop")
	}
	assert.EqualValues(t, 1, svc.Stats().TestsPerformed)
}

func TestRunContinuousCleanupDrainsQueue(t *testing.T) {
	svc, env := newTestService(t, testConfig(), nil)
	queueTask(t, svc, hashA, brokenLink(t, t.TempDir(), "Movie.mkv"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunContinuousCleanup(ctx) }()

	assert.Eventually(t, func() bool { return len(svc.Tasks()) == 0 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup loop did not stop")
	}
	assert.Equal(t, []string{"RID1"}, env.remote.deleteIDs())
}

func TestRunMonitoringStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MonitorInterval = time.Millisecond
	svc, _ := newTestService(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, svc.RunMonitoring(ctx))
}

func TestPendingHashesLimit(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), nil)
	svc.mu.Lock()
	svc.tasks = []*CleanupTask{
		{TorrentHash: "a", Status: StatusPending},
		{TorrentHash: "b", Status: StatusProcessing},
		{TorrentHash: "c", Status: StatusPending},
		{TorrentHash: "d", Status: StatusPending},
	}
	svc.mu.Unlock()

	assert.Equal(t, []string{"a", "c"}, svc.pendingHashes(2))
	assert.Equal(t, []string{"a", "c", "d"}, svc.pendingHashes(0))
}

type recordingObserver struct {
	mu       sync.Mutex
	tests    []string
	cleanups []string
}

func (o *recordingObserver) ObserveTest(kind string, success bool, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if success {
		kind = "success"
	}
	o.tests = append(o.tests, kind)
}

func (o *recordingObserver) ObserveCleanup(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleanups = append(o.cleanups, status)
}

func TestObserverSeesTestsAndCleanups(t *testing.T) {
	observer := &recordingObserver{}
	svc, env := newTestService(t, testConfig(), func(d *Deps) { d.Observer = observer })
	env.track("Good.Movie", hashA, "RID1")
	env.track("Bad.Movie", hashB, "RID2")
	env.remote.submitFn = func(payload string) (debrid.SubmitResult, error) {
		if strings.Contains(payload, hashB) {
			return infringing(payload)
		}
		return debrid.SubmitResult{OK: true, RemoteID: "NEW"}, nil
	}
	env.symlinks.refs = []*models.BrokenSymlink{
		{ID: 1, Path: "/a", Name: "Good.Movie"},
		{ID: 2, Path: "/b", Name: "Bad.Movie"},
	}

	svc.RunSingleCycle(context.Background(), 2)

	assert.Equal(t, []string{"success", string(KindInfringingFile)}, observer.tests)
	assert.Equal(t, []string{string(StatusCompleted)}, observer.cleanups)
}
