// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/models"
	"github.com/autobrr/rdtm/internal/pkg/timeouts"
	"github.com/autobrr/rdtm/internal/ratelimit"
	"github.com/autobrr/rdtm/internal/services/notifications"
)

var errNotified = errors.New("media rescan was not accepted")

// Enqueue queues cleanup for the torrent behind result. The task starts with
// ref's path plus the paths of sibling broken references for the same
// release. If the hash is already queued the paths are merged into that task
// and merged is true. The queue is persisted before Enqueue returns.
func (s *Service) Enqueue(ctx context.Context, result TestResult, ref *models.BrokenSymlink, remoteID string) (task *CleanupTask, merged bool) {
	var paths []string
	if ref != nil {
		paths = s.siblingPaths(ctx, ref)
	}

	s.mu.Lock()
	for _, existing := range s.tasks {
		if existing.TorrentHash != result.Hash {
			continue
		}
		existing.mergePaths(paths...)
		if existing.RDTorrentID == "" {
			existing.RDTorrentID = remoteID
		}
		task, merged = existing.clone(), true
		break
	}
	if !merged {
		fresh := &CleanupTask{
			TorrentHash:   result.Hash,
			RDTorrentID:   remoteID,
			Filename:      result.Name,
			LocalPaths:    []string{},
			ErrorType:     result.Kind,
			DiscoveryDate: s.now().UTC(),
			RetryCount:    0,
			Status:        StatusPending,
		}
		fresh.mergePaths(paths...)
		s.tasks = append(s.tasks, fresh)
		task = fresh.clone()
	}
	s.mu.Unlock()

	log.Info().
		Str("hash", task.TorrentHash).
		Str("name", task.Filename).
		Str("kind", string(task.ErrorType)).
		Int("paths", len(task.LocalPaths)).
		Bool("merged", merged).
		Msg("[CLEANUP] task queued")

	s.persistQueue()
	return task, merged
}

// ProcessTask runs the cleanup steps for the pending task with hash once and
// returns the status it ended in. ok is false when no pending task with that
// hash exists.
func (s *Service) ProcessTask(ctx context.Context, hash string) (status TaskStatus, ok bool) {
	task := s.claim(hash)
	if task == nil {
		return "", false
	}
	s.persistQueue()

	log.Info().Str("hash", task.TorrentHash).Str("name", task.Filename).Int("retry", task.RetryCount).Msg("[CLEANUP] processing task")

	// every step runs even when an earlier one failed
	var errs []error
	if err := runStep("remote delete", func() error { return s.deleteRemote(ctx, task) }); err != nil {
		errs = append(errs, err)
	}
	if err := runStep("local cleanup", func() error { return s.removeLocal(task) }); err != nil {
		errs = append(errs, err)
	}
	if err := runStep("media rescan", func() error { return s.notifyMedia(ctx, task) }); err != nil {
		errs = append(errs, err)
	}

	final := s.finish(task, errors.Join(errs...))
	if s.observer != nil {
		s.observer.ObserveCleanup(string(final.Status))
	}

	s.persistQueue()
	s.persistStats()

	if final.Status.IsTerminal() {
		s.recordTerminal(ctx, final)
	}
	return final.Status, true
}

// runStep wraps the error of fn with name and turns a panic into an error.
func runStep(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// claim flips the pending task with hash to processing and returns a copy.
func (s *Service) claim(hash string) *CleanupTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.TorrentHash == hash && t.Status == StatusPending {
			t.Status = StatusProcessing
			return t.clone()
		}
	}
	return nil
}

// finish applies the outcome of one attempt. A failed attempt consumes a
// retry; the task fails for good once the retry budget is used up. Paths or
// a remote id merged in while the attempt ran send a successful task back to
// pending without consuming a retry.
func (s *Service) finish(attempt *CleanupTask, err error) *CleanupTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.tasks, func(t *CleanupTask) bool { return t.TorrentHash == attempt.TorrentHash })
	if idx < 0 {
		// not reachable while the cleanup loop is the only writer of status
		attempt.Status = StatusFailed
		return attempt
	}
	t := s.tasks[idx]

	switch {
	case err == nil && len(t.LocalPaths) > len(attempt.LocalPaths):
		t.Status = StatusPending
		log.Info().Str("hash", t.TorrentHash).Msg("[CLEANUP] new paths merged during cleanup, requeued")
	case err == nil && t.RDTorrentID != attempt.RDTorrentID:
		t.Status = StatusPending
		log.Info().Str("hash", t.TorrentHash).Str("remoteId", t.RDTorrentID).Msg("[CLEANUP] remote id learned during cleanup, requeued")
	case err == nil:
		t.Status = StatusCompleted
		t.LastError = ""
		s.stats.CleanupsCompleted++
		log.Info().Str("hash", t.TorrentHash).Str("name", t.Filename).Bool("dryRun", s.cfg.DryRun).Msg("[CLEANUP] task completed")
	default:
		t.RetryCount++
		t.LastError = err.Error()
		if t.RetryCount >= s.cfg.MaxRetries {
			t.Status = StatusFailed
			s.stats.ErrorsEncountered++
			log.Error().Err(err).Str("hash", t.TorrentHash).Int("retry", t.RetryCount).Msg("[CLEANUP] task failed permanently")
		} else {
			t.Status = StatusPending
			log.Warn().Err(err).Str("hash", t.TorrentHash).Int("retry", t.RetryCount).Int("maxRetries", s.cfg.MaxRetries).Msg("[CLEANUP] attempt failed, will retry")
		}
	}

	out := t.clone()
	if t.Status.IsTerminal() {
		s.tasks = slices.Delete(s.tasks, idx, idx+1)
		s.finished[t.Status]++
	}
	return out
}

func (s *Service) recordTerminal(ctx context.Context, task *CleanupTask) {
	eventType := notifications.EventCleanupCompleted
	if task.Status == StatusFailed {
		eventType = notifications.EventCleanupFailed
	}
	s.alert(notifications.Event{
		Type:         eventType,
		TorrentName:  task.Filename,
		TorrentHash:  task.TorrentHash,
		FailureKind:  string(task.ErrorType),
		RemoteID:     task.RDTorrentID,
		LocalPaths:   len(task.LocalPaths),
		RetryCount:   task.RetryCount,
		ErrorMessage: task.LastError,
	})

	if s.records == nil {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	rec := &models.CleanupRecord{
		TorrentHash:   task.TorrentHash,
		RDTorrentID:   task.RDTorrentID,
		Filename:      task.Filename,
		LocalPaths:    task.LocalPaths,
		ErrorType:     string(task.ErrorType),
		DiscoveryDate: task.DiscoveryDate,
		RetryCount:    task.RetryCount,
		Status:        string(task.Status),
		LastError:     task.LastError,
		FinishedAt:    s.now().UTC(),
	}
	if err := s.records.Create(storeCtx, rec); err != nil {
		log.Error().Err(err).Str("hash", task.TorrentHash).Msg("[CLEANUP] could not record cleanup history")
	}
}

// deleteRemote removes the Real-Debrid torrent under a cleanup_rd permit. A
// torrent that is already gone counts as deleted.
func (s *Service) deleteRemote(ctx context.Context, task *CleanupTask) error {
	if task.RDTorrentID == "" {
		return nil
	}
	if s.cfg.DryRun {
		log.Info().Str("hash", task.TorrentHash).Str("remoteId", task.RDTorrentID).Msg("[DRY-RUN] would delete remote torrent")
		return nil
	}

	permit, err := s.limiter.Acquire(ctx, ratelimit.ScopeCleanupRD, task.TorrentHash)
	if err != nil {
		return err
	}
	outcome := ratelimit.OutcomeFailure
	defer func() { permit.Release(outcome) }()

	callCtx, cancel := timeouts.WithCallTimeout(ctx, s.cfg.DeleteTimeout, timeouts.DefaultRemoteTimeout)
	defer cancel()

	res, err := s.remote.Delete(callCtx, task.RDTorrentID)
	if err != nil {
		return err
	}
	if res.RetryAfter > 0 {
		s.limiter.SetCooldown(ratelimit.ScopeCleanupRD, s.now().Add(res.RetryAfter))
	}

	switch {
	case res.OK:
		outcome = ratelimit.OutcomeSuccess
		if res.AlreadyDeleted {
			log.Debug().Str("remoteId", task.RDTorrentID).Msg("[CLEANUP] remote torrent already gone")
		}
		return nil
	case res.RateLimited || Classify(res.RawError) == KindTooManyRequests:
		outcome = ratelimit.OutcomeRateLimited
	}
	if res.RawError == "" {
		return fmt.Errorf("delete refused with status %d", res.HTTPStatus)
	}
	return errors.New(res.RawError)
}

// removeLocal deletes every path of task that is still a symbolic link.
// Missing paths are skipped; anything that is not a symlink is left alone.
func (s *Service) removeLocal(task *CleanupTask) error {
	var errs []error
	for _, path := range task.LocalPaths {
		if s.cfg.DryRun {
			log.Info().Str("path", path).Msg("[DRY-RUN] would remove symlink")
			continue
		}

		removed, err := removeSymlink(path)
		switch {
		case err != nil:
			errs = append(errs, err)
		case removed:
			log.Info().Str("path", path).Msg("[CLEANUP] symlink removed")
		}
	}
	return errors.Join(errs...)
}

// removeSymlink removes path only if it is a symbolic link. It reports
// whether something was removed.
func removeSymlink(path string) (bool, error) {
	if !filepath.IsAbs(path) {
		return false, fmt.Errorf("refusing non-absolute path: %s", path)
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		log.Warn().Str("path", path).Str("mode", info.Mode().String()).Msg("[CLEANUP] not a symlink, leaving it alone")
		return false, nil
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}

// notifyMedia triggers the rescan under a notify_media permit.
func (s *Service) notifyMedia(ctx context.Context, task *CleanupTask) error {
	if s.media == nil {
		return nil
	}
	if s.cfg.DryRun {
		log.Info().Str("hash", task.TorrentHash).Msg("[DRY-RUN] would trigger media rescan")
		return nil
	}

	permit, err := s.limiter.Acquire(ctx, ratelimit.ScopeNotifyMedia, task.TorrentHash)
	if err != nil {
		return err
	}
	outcome := ratelimit.OutcomeFailure
	defer func() { permit.Release(outcome) }()

	callCtx, cancel := timeouts.WithCallTimeout(ctx, s.cfg.NotifyTimeout, timeouts.DefaultNotifyTimeout)
	defer cancel()

	if !s.media.TriggerRescan(callCtx) {
		return errNotified
	}
	outcome = ratelimit.OutcomeSuccess
	return nil
}
