// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autobrr/rdtm/internal/debrid"
	"github.com/autobrr/rdtm/internal/models"
	"github.com/autobrr/rdtm/internal/ratelimit"
	"github.com/autobrr/rdtm/internal/services/notifications"
	"github.com/autobrr/rdtm/internal/validator"
)

const (
	hashA = "0123456789abcdef0123456789abcdef01234567"
	hashB = "89abcdef0123456789abcdef0123456789abcdef"
)

type fakeSymlinks struct {
	mu     sync.Mutex
	refs   []*models.BrokenSymlink
	marked map[int64]bool
}

func newFakeSymlinks(refs ...*models.BrokenSymlink) *fakeSymlinks {
	return &fakeSymlinks{refs: refs, marked: make(map[int64]bool)}
}

func (f *fakeSymlinks) NextBatch(_ context.Context, limit int) ([]*models.BrokenSymlink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*models.BrokenSymlink
	for _, ref := range f.refs {
		if _, done := f.marked[ref.ID]; done {
			continue
		}
		out = append(out, ref)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSymlinks) MarkProcessed(_ context.Context, ref *models.BrokenSymlink, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[ref.ID] = success
	return nil
}

func (f *fakeSymlinks) mark(id int64) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.marked[id]
	return v, ok
}

type fakeSiblings struct {
	byName map[string][]*models.BrokenSymlink
	all    []*models.BrokenSymlink
	err    error
}

func (f *fakeSiblings) ListByName(_ context.Context, name string) ([]*models.BrokenSymlink, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byName[name], nil
}

func (f *fakeSiblings) Search(_ context.Context, term string, limit int) ([]*models.BrokenSymlink, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*models.BrokenSymlink
	for _, ref := range f.all {
		if strings.Contains(strings.ToLower(ref.Name), strings.ToLower(term)) {
			out = append(out, ref)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeTracked struct {
	byName map[string]*models.TrackedTorrent
	err    error
}

func (f *fakeTracked) FindLatestByName(_ context.Context, name string) (*models.TrackedTorrent, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.byName[name]; ok {
		return t, nil
	}
	return nil, models.ErrTrackedTorrentNotFound
}

type fakeRemote struct {
	mu       sync.Mutex
	submitFn func(payload string) (debrid.SubmitResult, error)
	deleteFn func(id string) (debrid.DeleteResult, error)
	submits  []string
	deletes  []string
}

func (f *fakeRemote) Submit(_ context.Context, payload string) (debrid.SubmitResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, payload)
	fn := f.submitFn
	f.mu.Unlock()

	if fn == nil {
		return debrid.SubmitResult{OK: true, RemoteID: "NEW"}, nil
	}
	return fn(payload)
}

func (f *fakeRemote) Delete(_ context.Context, id string) (debrid.DeleteResult, error) {
	f.mu.Lock()
	f.deletes = append(f.deletes, id)
	fn := f.deleteFn
	f.mu.Unlock()

	if fn == nil {
		return debrid.DeleteResult{OK: true, HTTPStatus: 204}, nil
	}
	return fn(id)
}

func (f *fakeRemote) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeRemote) deleteIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

type fakeMedia struct {
	mu     sync.Mutex
	ok     bool
	calls  int
	onCall func()
}

func (f *fakeMedia) TriggerRescan(context.Context) bool {
	f.mu.Lock()
	f.calls++
	hook := f.onCall
	ok := f.ok
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return ok
}

func (f *fakeMedia) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []*models.TestHistoryEntry
}

func (f *fakeHistory) Create(_ context.Context, entry *models.TestHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

type fakeRecords struct {
	mu   sync.Mutex
	recs []*models.CleanupRecord
}

func (f *fakeRecords) Create(_ context.Context, rec *models.CleanupRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

type fakeAlerts struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (f *fakeAlerts) Notify(event notifications.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeAlerts) types() []notifications.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]notifications.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type testEnv struct {
	dir      string
	symlinks *fakeSymlinks
	tracked  *fakeTracked
	remote   *fakeRemote
	limiter  *ratelimit.Limiter
	media    *fakeMedia
	history  *fakeHistory
	records  *fakeRecords
	alerts   *fakeAlerts
}

func testConfig() Config {
	return Config{
		TestBatchSize:    10,
		CleanupBatchSize: 5,
		IdleInterval:     10 * time.Millisecond,
		MaxRetries:       3,
	}
}

func testLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		InitialDelay: time.Millisecond,
		MinDelay:     time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	})
}

// newTestService wires a Service to fakes. mutate may adjust the deps before
// the service is built.
func newTestService(t *testing.T, cfg Config, mutate func(*Deps)) (*Service, *testEnv) {
	t.Helper()

	env := &testEnv{
		dir:      t.TempDir(),
		symlinks: newFakeSymlinks(),
		tracked:  &fakeTracked{byName: make(map[string]*models.TrackedTorrent)},
		remote:   &fakeRemote{},
		limiter:  testLimiter(),
		media:    &fakeMedia{ok: true},
		history:  &fakeHistory{},
		records:  &fakeRecords{},
		alerts:   &fakeAlerts{},
	}

	v := validator.New()
	t.Cleanup(v.Close)

	deps := Deps{
		Symlinks:  env.symlinks,
		Tracked:   env.tracked,
		Remote:    env.remote,
		Validator: v,
		Limiter:   env.limiter,
		Media:     env.media,
		History:   env.history,
		Records:   env.records,
		State:     NewStateStore(env.dir),
		Alerts:    env.alerts,
	}
	if mutate != nil {
		mutate(&deps)
	}

	svc, err := NewService(cfg, deps)
	require.NoError(t, err)
	return svc, env
}

func (e *testEnv) track(name, hash, remoteID string) {
	e.tracked.byName[name] = &models.TrackedTorrent{ID: remoteID, Hash: hash, Filename: name}
}

func infringing(string) (debrid.SubmitResult, error) {
	return debrid.SubmitResult{HTTPStatus: 451, RawError: "infringing_file (code 35)"}, nil
}
