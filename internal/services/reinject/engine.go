// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/rdtm/internal/debrid"
	"github.com/autobrr/rdtm/internal/models"
	"github.com/autobrr/rdtm/internal/pkg/timeouts"
	"github.com/autobrr/rdtm/internal/ratelimit"
	"github.com/autobrr/rdtm/internal/services/notifications"
	"github.com/autobrr/rdtm/pkg/hashutil"
)

const maxDetailLength = 500

// TestReference re-submits the torrent behind ref and reports what
// Real-Debrid said. Exactly one result is produced, recorded to history and
// counted in the run statistics, whatever happens along the way. A terminal
// failure queues a cleanup task before TestReference returns.
func (s *Service) TestReference(ctx context.Context, ref *models.BrokenSymlink) (result TestResult) {
	start := s.now()
	result = TestResult{Timestamp: start.UTC()}
	if ref != nil {
		result.Name = ref.Name
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("name", result.Name).Msg("[REINJECT] test panicked")
			result.Success = false
			result.Kind = KindException
			result.Detail = fmt.Sprintf("panic: %v", r)
		}
		result.Elapsed = s.now().Sub(start)
		s.record(ctx, result)
	}()

	if ref == nil {
		result.Kind = KindTorrentNotFound
		result.Detail = "no broken reference given"
		return result
	}

	tracked, err := s.lookup(ctx, ref.Name)
	if err != nil {
		if errors.Is(err, models.ErrTrackedTorrentNotFound) {
			result.Kind = KindTorrentNotFound
			result.Detail = "no tracked torrent named " + ref.Name
		} else {
			result.Kind = KindException
			result.Detail = "tracked torrent lookup: " + err.Error()
		}
		return result
	}

	hash := hashutil.Normalize(tracked.Hash)
	result.Hash = hash

	if err := s.validator.ValidateIdentifier(hash); err != nil {
		result.Kind = KindInvalidHash
		result.Detail = err.Error()
		return result
	}

	name := tracked.Filename
	if strings.TrimSpace(name) == "" {
		name = ref.Name
	}
	payload, err := s.validator.BuildPayload(hash, name)
	if err != nil {
		result.Kind = KindInvalidMagnet
		result.Detail = err.Error()
		return result
	}

	res, err := s.submit(ctx, hash, payload)
	if err != nil {
		result.Kind = KindException
		result.Detail = submitErrorDetail(err)
		return result
	}

	if res.OK {
		result.Success = true
		result.RemoteID = res.RemoteID
		log.Info().Str("hash", hash).Str("name", result.Name).Str("remoteId", res.RemoteID).Msg("[REINJECT] reinjected")
		return result
	}

	result.Kind = Classify(res.RawError)
	result.Detail = truncate(res.RawError, maxDetailLength)
	log.Warn().Str("hash", hash).Str("name", result.Name).Str("kind", string(result.Kind)).Str("raw", res.RawError).Msg("[REINJECT] submit refused")

	if result.Kind.IsTerminal() {
		task, merged := s.Enqueue(ctx, result, ref, tracked.ID)
		if !merged {
			s.alert(notifications.Event{
				Type:        notifications.EventInfringingDetected,
				TorrentName: result.Name,
				TorrentHash: hash,
				FailureKind: string(result.Kind),
				RemoteID:    task.RDTorrentID,
				LocalPaths:  len(task.LocalPaths),
			})
		}
	}

	return result
}

func (s *Service) lookup(ctx context.Context, name string) (*models.TrackedTorrent, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	return s.tracked.FindLatestByName(storeCtx, name)
}

// submit sends payload under a test_injection permit. The permit is
// released on every path, panics included.
func (s *Service) submit(ctx context.Context, hash, payload string) (res debrid.SubmitResult, err error) {
	permit, err := s.limiter.Acquire(ctx, ratelimit.ScopeTestInjection, hash)
	if err != nil {
		return debrid.SubmitResult{}, fmt.Errorf("acquire permit: %w", err)
	}

	outcome := ratelimit.OutcomeFailure
	defer func() { permit.Release(outcome) }()

	callCtx, cancel := timeouts.WithCallTimeout(ctx, s.cfg.SubmitTimeout, timeouts.DefaultRemoteTimeout)
	defer cancel()

	res, err = s.remote.Submit(callCtx, payload)
	switch {
	case err != nil:
	case res.OK:
		outcome = ratelimit.OutcomeSuccess
	case res.RateLimited || Classify(res.RawError) == KindTooManyRequests:
		outcome = ratelimit.OutcomeRateLimited
	}

	if res.RetryAfter > 0 {
		s.limiter.SetCooldown(ratelimit.ScopeTestInjection, s.now().Add(res.RetryAfter))
	}
	return res, err
}

// record writes the history row and bumps the counters for result.
func (s *Service) record(ctx context.Context, result TestResult) {
	s.mu.Lock()
	s.stats.TestsPerformed++
	if result.Kind.IsTerminal() {
		s.stats.InfringingDetected++
	}
	if result.Kind.countsAsError() {
		s.stats.ErrorsEncountered++
	}
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveTest(string(result.Kind), result.Success, result.Elapsed)
	}

	if s.history != nil {
		entry := &models.TestHistoryEntry{
			IdentifierHash: result.Hash,
			DisplayName:    result.Name,
			TestDate:       result.Timestamp,
			ResultType:     models.TestResultFailure,
			FailureKind:    string(result.Kind),
			Detail:         result.Detail,
			RemoteID:       result.RemoteID,
			ElapsedMs:      result.Elapsed.Milliseconds(),
		}
		if result.Success {
			entry.ResultType = models.TestResultSuccess
		}

		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
		if err := s.history.Create(storeCtx, entry); err != nil {
			log.Error().Err(err).Str("hash", result.Hash).Msg("[REINJECT] could not record test history")
		}
		cancel()
	}

	s.persistStats()
}

func submitErrorDetail(err error) string {
	if timeouts.IsTimeout(err) {
		return "timeout: " + err.Error()
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
