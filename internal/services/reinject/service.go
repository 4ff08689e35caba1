// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reinject re-submits the torrents behind broken library symlinks to
// Real-Debrid, classifies what comes back and cleans up after torrents that
// were refused for good.
package reinject

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/debrid"
	"github.com/autobrr/rdtm/internal/models"
	"github.com/autobrr/rdtm/internal/ratelimit"
	"github.com/autobrr/rdtm/internal/services/notifications"
)

type SymlinkSource interface {
	NextBatch(ctx context.Context, limit int) ([]*models.BrokenSymlink, error)
	MarkProcessed(ctx context.Context, ref *models.BrokenSymlink, success bool) error
}

type TrackedLookup interface {
	FindLatestByName(ctx context.Context, name string) (*models.TrackedTorrent, error)
}

type RemoteAPI interface {
	Submit(ctx context.Context, payload string) (debrid.SubmitResult, error)
	Delete(ctx context.Context, remoteID string) (debrid.DeleteResult, error)
}

type Validator interface {
	ValidateIdentifier(hash string) error
	BuildPayload(hash, name string) (string, error)
}

type Limiter interface {
	Acquire(ctx context.Context, scope ratelimit.Scope, key string) (*ratelimit.Permit, error)
	SetCooldown(scope ratelimit.Scope, until time.Time)
}

// MediaNotifier asks the media servers to rescan. Repeated calls must be
// harmless.
type MediaNotifier interface {
	TriggerRescan(ctx context.Context) bool
}

type HistorySink interface {
	Create(ctx context.Context, entry *models.TestHistoryEntry) error
}

type CleanupRecorder interface {
	Create(ctx context.Context, rec *models.CleanupRecord) error
}

// Observer receives every test result and cleanup attempt, typically for
// metrics. Kind is empty for a successful test.
type Observer interface {
	ObserveTest(kind string, success bool, elapsed time.Duration)
	ObserveCleanup(status string)
}

// Config controls batch sizes, pacing and the cleanup retry budget.
type Config struct {
	TestBatchSize    int
	CleanupBatchSize int
	ItemDelay        time.Duration
	IdleInterval     time.Duration
	MaxRetries       int
	DryRun           bool
	SubmitTimeout    time.Duration
	DeleteTimeout    time.Duration
	NotifyTimeout    time.Duration
	StoreTimeout     time.Duration
	MonitorInterval  time.Duration
}

func DefaultConfig() Config {
	return Config{
		TestBatchSize:    10,
		CleanupBatchSize: 5,
		ItemDelay:        2 * time.Second,
		IdleInterval:     5 * time.Minute,
		MaxRetries:       3,
		SubmitTimeout:    30 * time.Second,
		DeleteTimeout:    30 * time.Second,
		NotifyTimeout:    60 * time.Second,
		StoreTimeout:     10 * time.Second,
		MonitorInterval:  10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TestBatchSize <= 0 {
		c.TestBatchSize = def.TestBatchSize
	}
	if c.CleanupBatchSize <= 0 {
		c.CleanupBatchSize = def.CleanupBatchSize
	}
	if c.ItemDelay < 0 {
		c.ItemDelay = 0
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = def.IdleInterval
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = def.SubmitTimeout
	}
	if c.DeleteTimeout <= 0 {
		c.DeleteTimeout = def.DeleteTimeout
	}
	if c.NotifyTimeout <= 0 {
		c.NotifyTimeout = def.NotifyTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.StoreTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = def.MonitorInterval
	}
	return c
}

// Deps are the collaborators of a Service. Siblings, Media, History,
// Records, Alerts and Observer are optional.
type Deps struct {
	Symlinks  SymlinkSource
	Siblings  SiblingFinder
	Tracked   TrackedLookup
	Remote    RemoteAPI
	Validator Validator
	Limiter   Limiter
	Media     MediaNotifier
	History   HistorySink
	Records   CleanupRecorder
	State     *StateStore
	Alerts    notifications.Notifier
	Observer  Observer
}

// Service owns the run statistics and the cleanup queue and drives the
// testing and cleanup loops.
type Service struct {
	cfg       Config
	symlinks  SymlinkSource
	siblings  SiblingFinder
	tracked   TrackedLookup
	remote    RemoteAPI
	validator Validator
	limiter   Limiter
	media     MediaNotifier
	history   HistorySink
	records   CleanupRecorder
	state     *StateStore
	alerts    notifications.Notifier
	observer  Observer
	matcher   *releaseMatcher

	mu       sync.Mutex
	stats    RunStats
	tasks    []*CleanupTask
	finished map[TaskStatus]int

	// persistMu orders snapshot-and-write so an older snapshot never
	// replaces a newer one on disk.
	persistMu sync.Mutex

	now func() time.Time
}

// NewService builds a Service and restores persisted stats and queue.
func NewService(cfg Config, deps Deps) (*Service, error) {
	switch {
	case deps.Symlinks == nil:
		return nil, errors.New("reinject: symlink source is required")
	case deps.Tracked == nil:
		return nil, errors.New("reinject: tracked torrent lookup is required")
	case deps.Remote == nil:
		return nil, errors.New("reinject: remote api is required")
	case deps.Validator == nil:
		return nil, errors.New("reinject: validator is required")
	case deps.Limiter == nil:
		return nil, errors.New("reinject: rate limiter is required")
	case deps.State == nil:
		return nil, errors.New("reinject: state store is required")
	}

	s := &Service{
		cfg:       cfg.withDefaults(),
		symlinks:  deps.Symlinks,
		siblings:  deps.Siblings,
		tracked:   deps.Tracked,
		remote:    deps.Remote,
		validator: deps.Validator,
		limiter:   deps.Limiter,
		media:     deps.Media,
		history:   deps.History,
		records:   deps.Records,
		state:     deps.State,
		alerts:    deps.Alerts,
		observer:  deps.Observer,
		matcher:   newReleaseMatcher(),
		finished:  make(map[TaskStatus]int),
		now:       time.Now,
	}
	s.restore()
	return s, nil
}

// restore loads persisted state. Tasks left in processing by a crash go
// back to pending without consuming a retry.
func (s *Service) restore() {
	stats, err := s.state.LoadStats()
	if err != nil {
		log.Error().Err(err).Msg("[STATE] could not load stats, starting from zero")
	}
	tasks, err := s.state.LoadQueue()
	if err != nil {
		log.Error().Err(err).Msg("[STATE] could not load cleanup queue, starting empty")
	}

	recovered := 0
	kept := make([]*CleanupTask, 0, len(tasks))
	seen := make(map[string]*CleanupTask, len(tasks))
	for _, task := range tasks {
		if task.Status.IsTerminal() {
			continue
		}
		if task.Status == StatusProcessing {
			task.Status = StatusPending
			recovered++
		}
		if existing, ok := seen[task.TorrentHash]; ok {
			existing.mergePaths(task.LocalPaths...)
			continue
		}
		seen[task.TorrentHash] = task
		kept = append(kept, task)
	}

	s.mu.Lock()
	if stats.StartTime.IsZero() {
		stats.StartTime = s.now().UTC()
	}
	s.stats = stats
	s.tasks = kept
	s.mu.Unlock()

	log.Info().
		Int64("tests", stats.TestsPerformed).
		Int64("infringing", stats.InfringingDetected).
		Int("queued", len(kept)).
		Int("recovered", recovered).
		Msg("[STATE] restored")

	if recovered > 0 || len(kept) != len(tasks) {
		s.persistQueue()
	}
}

func (s *Service) DryRun() bool { return s.cfg.DryRun }

// Stats returns a copy of the run statistics.
func (s *Service) Stats() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Tasks returns copies of the queued cleanup tasks in queue order.
func (s *Service) Tasks() []*CleanupTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CleanupTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := BuildSnapshot(s.stats, s.tasks, s.cfg.DryRun, s.now())
	snap.Finished[StatusCompleted] = s.finished[StatusCompleted]
	snap.Finished[StatusFailed] = s.finished[StatusFailed]
	return snap
}

// BuildSnapshot derives the rates and queue counts from persisted stats and
// tasks. Finished is left at zero.
func BuildSnapshot(stats RunStats, tasks []*CleanupTask, dryRun bool, now time.Time) Snapshot {
	snap := Snapshot{
		Stats:    stats,
		Queue:    map[TaskStatus]int{StatusPending: 0, StatusProcessing: 0},
		Finished: map[TaskStatus]int{StatusCompleted: 0, StatusFailed: 0},
		DryRun:   dryRun,
	}
	for _, t := range tasks {
		snap.Queue[t.Status]++
	}

	if !stats.StartTime.IsZero() {
		snap.RuntimeHours = now.Sub(stats.StartTime).Hours()
	}
	if snap.RuntimeHours > 0 {
		snap.TestsPerHour = float64(stats.TestsPerformed) / snap.RuntimeHours
	}
	if stats.TestsPerformed > 0 {
		snap.InfringingRate = float64(stats.InfringingDetected) / float64(stats.TestsPerformed)
	}
	return snap
}

// RunContinuousTesting tests broken references batch by batch until ctx is
// cancelled. The reference in flight always finishes.
func (s *Service) RunContinuousTesting(ctx context.Context) error {
	log.Info().Int("batch", s.cfg.TestBatchSize).Bool("dryRun", s.cfg.DryRun).Msg("[REINJECT] testing loop started")
	defer log.Info().Msg("[REINJECT] testing loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n := s.runTestBatch(ctx, s.cfg.TestBatchSize)

		wait := s.cfg.ItemDelay
		if n == 0 {
			wait = s.cfg.IdleInterval
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil
		}
	}
}

// RunContinuousCleanup drains pending cleanup tasks until ctx is cancelled.
// A task in flight always finishes all of its steps.
func (s *Service) RunContinuousCleanup(ctx context.Context) error {
	log.Info().Int("batch", s.cfg.CleanupBatchSize).Int("maxRetries", s.cfg.MaxRetries).Bool("dryRun", s.cfg.DryRun).Msg("[CLEANUP] cleanup loop started")
	defer log.Info().Msg("[CLEANUP] cleanup loop stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		n := s.runCleanupBatch(ctx, s.cfg.CleanupBatchSize)

		wait := s.cfg.ItemDelay
		if n == 0 {
			wait = s.cfg.IdleInterval
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil
		}
	}
}

// CycleSummary reports what RunSingleCycle did.
type CycleSummary struct {
	Results  []TestResult
	Cleanups map[TaskStatus]int
}

// RunSingleCycle tests up to n references, then works through every cleanup
// task that was pending, once.
func (s *Service) RunSingleCycle(ctx context.Context, n int) CycleSummary {
	if n <= 0 {
		n = s.cfg.TestBatchSize
	}

	summary := CycleSummary{Cleanups: make(map[TaskStatus]int)}
	refs := s.nextRefs(ctx, n)
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && sleepCtx(ctx, s.cfg.ItemDelay) != nil {
			break
		}
		summary.Results = append(summary.Results, s.testOne(context.WithoutCancel(ctx), ref))
	}

	for i, hash := range s.pendingHashes(0) {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && sleepCtx(ctx, s.cfg.ItemDelay) != nil {
			break
		}
		if status, ok := s.ProcessTask(context.WithoutCancel(ctx), hash); ok {
			summary.Cleanups[status]++
		}
	}

	return summary
}

// RunMonitoring logs a stats line every MonitorInterval until ctx is
// cancelled.
func (s *Service) RunMonitoring(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.logSnapshot()
		}
	}
}

func (s *Service) logSnapshot() {
	snap := s.Snapshot()
	log.Info().
		Float64("runtimeHours", snap.RuntimeHours).
		Int64("tests", snap.Stats.TestsPerformed).
		Float64("testsPerHour", snap.TestsPerHour).
		Int64("infringing", snap.Stats.InfringingDetected).
		Float64("infringingRate", snap.InfringingRate).
		Int64("cleanups", snap.Stats.CleanupsCompleted).
		Int64("errors", snap.Stats.ErrorsEncountered).
		Int("pending", snap.Queue[StatusPending]).
		Int("processing", snap.Queue[StatusProcessing]).
		Msg("[MONITOR] stats")
}

func (s *Service) runTestBatch(ctx context.Context, limit int) int {
	refs := s.nextRefs(ctx, limit)
	done := 0
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && sleepCtx(ctx, s.cfg.ItemDelay) != nil {
			break
		}
		s.testOne(context.WithoutCancel(ctx), ref)
		done++
	}
	return done
}

func (s *Service) nextRefs(ctx context.Context, limit int) []*models.BrokenSymlink {
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	refs, err := s.symlinks.NextBatch(storeCtx, limit)
	if err != nil {
		log.Error().Err(err).Msg("[REINJECT] could not load broken symlinks")
		return nil
	}
	return refs
}

// testOne tests ref and marks it processed. References refused for rate
// limiting stay unprocessed so the next batch picks them up again.
func (s *Service) testOne(ctx context.Context, ref *models.BrokenSymlink) TestResult {
	result := s.TestReference(ctx, ref)
	if ref == nil || result.Kind == KindTooManyRequests {
		return result
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	if err := s.symlinks.MarkProcessed(storeCtx, ref, result.Success); err != nil {
		log.Error().Err(err).Int64("id", ref.ID).Msg("[REINJECT] could not mark symlink processed")
	}
	return result
}

func (s *Service) runCleanupBatch(ctx context.Context, limit int) int {
	done := 0
	for i, hash := range s.pendingHashes(limit) {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && sleepCtx(ctx, s.cfg.ItemDelay) != nil {
			break
		}
		if _, ok := s.ProcessTask(context.WithoutCancel(ctx), hash); ok {
			done++
		}
	}
	return done
}

// pendingHashes returns up to limit pending task hashes in queue order.
// limit <= 0 returns all of them.
func (s *Service) pendingHashes(limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, t := range s.tasks {
		if t.Status != StatusPending {
			continue
		}
		out = append(out, t.TorrentHash)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *Service) persistStats() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()

	if err := s.state.SaveStats(stats); err != nil {
		log.Error().Err(err).Msg("[STATE] could not save stats")
	}
}

func (s *Service) persistQueue() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	tasks := make([]*CleanupTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.clone())
	}
	s.mu.Unlock()

	if err := s.state.SaveQueue(tasks); err != nil {
		log.Error().Err(err).Msg("[STATE] could not save cleanup queue")
	}
}

func (s *Service) alert(event notifications.Event) {
	if s.alerts == nil {
		return
	}
	event.DryRun = s.cfg.DryRun
	s.alerts.Notify(event)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
