// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"slices"
	"time"
)

// FailureKind is the canonical reason a reinjection test failed.
type FailureKind string

const (
	KindInfringingFile  FailureKind = "infringing_file"
	KindTooManyRequests FailureKind = "too_many_requests"
	KindMagnetError     FailureKind = "magnet_error"
	KindVirus           FailureKind = "virus"
	KindUnknownError    FailureKind = "unknown_error"
	KindInvalidHash     FailureKind = "invalid_hash"
	KindInvalidMagnet   FailureKind = "invalid_magnet"
	KindTorrentNotFound FailureKind = "torrent_not_found"
	KindException       FailureKind = "exception"
)

// IsTerminal reports whether retrying the submission is pointless and the
// torrent should be cleaned up instead.
func (k FailureKind) IsTerminal() bool {
	return k == KindInfringingFile || k == KindVirus
}

// IsLocal reports whether the kind is decided before any network call.
func (k FailureKind) IsLocal() bool {
	switch k {
	case KindInvalidHash, KindInvalidMagnet, KindTorrentNotFound:
		return true
	}
	return false
}

// countsAsError reports whether the kind increments errors_encountered.
func (k FailureKind) countsAsError() bool {
	return k == KindException || k == KindUnknownError
}

// TestResult is the outcome of one reinjection test. Kind is empty on success.
type TestResult struct {
	Hash      string
	Name      string
	Success   bool
	Kind      FailureKind
	Detail    string
	RemoteID  string
	Elapsed   time.Duration
	Timestamp time.Time
}

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CleanupTask removes everything left behind by a torrent Real-Debrid
// refused for good: the remote torrent, the local symlinks and the media
// server entries.
type CleanupTask struct {
	TorrentHash   string      `json:"torrent_hash"`
	RDTorrentID   string      `json:"rd_torrent_id"`
	Filename      string      `json:"filename"`
	LocalPaths    []string    `json:"local_paths"`
	ErrorType     FailureKind `json:"error_type"`
	DiscoveryDate time.Time   `json:"discovery_date"`
	RetryCount    int         `json:"retry_count"`
	Status        TaskStatus  `json:"status"`
	LastError     string      `json:"last_error,omitempty"`
}

func (t *CleanupTask) clone() *CleanupTask {
	if t == nil {
		return nil
	}
	out := *t
	out.LocalPaths = slices.Clone(t.LocalPaths)
	return &out
}

// mergePaths appends paths not already present, keeping order.
func (t *CleanupTask) mergePaths(paths ...string) int {
	added := 0
	for _, p := range paths {
		if p == "" || slices.Contains(t.LocalPaths, p) {
			continue
		}
		t.LocalPaths = append(t.LocalPaths, p)
		added++
	}
	return added
}

// RunStats are process counters that survive restarts.
type RunStats struct {
	TestsPerformed     int64     `json:"tests_performed"`
	InfringingDetected int64     `json:"infringing_detected"`
	CleanupsCompleted  int64     `json:"cleanups_completed"`
	ErrorsEncountered  int64     `json:"errors_encountered"`
	StartTime          time.Time `json:"start_time"`
}

// Snapshot is a point-in-time view of the service for status output and
// metrics.
type Snapshot struct {
	Stats          RunStats
	RuntimeHours   float64
	TestsPerHour   float64
	InfringingRate float64
	Queue          map[TaskStatus]int
	// Finished counts tasks that reached a terminal status in this process.
	Finished map[TaskStatus]int
	DryRun   bool
}
