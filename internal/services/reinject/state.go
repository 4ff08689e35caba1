// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reinject

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	StatsFileName = "continuous_test_state.json"
	QueueFileName = "cleanup_queue.json"

	// SchemaVersion is written into both documents. Version 0 is the bare
	// JSON array queue layout.
	SchemaVersion = 1
)

var ErrUnsupportedSchema = errors.New("unsupported state schema version")

type statsDocument struct {
	SchemaVersion int       `json:"schema_version"`
	Stats         RunStats  `json:"stats"`
	LastSave      time.Time `json:"last_save"`
}

type queueDocument struct {
	SchemaVersion int            `json:"schema_version"`
	Tasks         []*CleanupTask `json:"tasks"`
}

// StateStore keeps RunStats and the cleanup queue as JSON documents in dir.
type StateStore struct {
	dir string
	now func() time.Time
}

func NewStateStore(dir string) *StateStore {
	return &StateStore{dir: dir, now: time.Now}
}

func (s *StateStore) Dir() string { return s.dir }

func (s *StateStore) statsPath() string { return filepath.Join(s.dir, StatsFileName) }
func (s *StateStore) queuePath() string { return filepath.Join(s.dir, QueueFileName) }

// LoadStats reads the stats document. A missing file yields zero stats and
// no error; an unreadable one yields zero stats and the error.
func (s *StateStore) LoadStats() (RunStats, error) {
	data, err := os.ReadFile(s.statsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return RunStats{}, nil
		}
		return RunStats{}, fmt.Errorf("read %s: %w", StatsFileName, err)
	}

	var doc statsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return RunStats{}, fmt.Errorf("decode %s: %w", StatsFileName, err)
	}
	if doc.SchemaVersion > SchemaVersion {
		return RunStats{}, fmt.Errorf("%s: %w %d", StatsFileName, ErrUnsupportedSchema, doc.SchemaVersion)
	}

	stats := doc.Stats
	if !stats.StartTime.IsZero() {
		stats.StartTime = stats.StartTime.UTC()
	}
	return stats, nil
}

func (s *StateStore) SaveStats(stats RunStats) error {
	stats.StartTime = stats.StartTime.UTC()
	doc := statsDocument{
		SchemaVersion: SchemaVersion,
		Stats:         stats,
		LastSave:      s.now().UTC(),
	}
	return s.writeJSON(StatsFileName, doc)
}

// LoadQueue reads the queue document, accepting the legacy bare array
// layout. Missing and unreadable files behave as in LoadStats.
func (s *StateStore) LoadQueue() ([]*CleanupTask, error) {
	data, err := os.ReadFile(s.queuePath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", QueueFileName, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var tasks []*CleanupTask
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &tasks); err != nil {
			return nil, fmt.Errorf("decode legacy %s: %w", QueueFileName, err)
		}
	} else {
		var doc queueDocument
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", QueueFileName, err)
		}
		if doc.SchemaVersion > SchemaVersion {
			return nil, fmt.Errorf("%s: %w %d", QueueFileName, ErrUnsupportedSchema, doc.SchemaVersion)
		}
		tasks = doc.Tasks
	}

	out := tasks[:0]
	for _, task := range tasks {
		if task == nil || task.TorrentHash == "" {
			continue
		}
		if task.Status == "" {
			task.Status = StatusPending
		}
		if task.LocalPaths == nil {
			task.LocalPaths = []string{}
		}
		task.DiscoveryDate = task.DiscoveryDate.UTC()
		out = append(out, task)
	}
	return out, nil
}

func (s *StateStore) SaveQueue(tasks []*CleanupTask) error {
	if tasks == nil {
		tasks = []*CleanupTask{}
	}
	return s.writeJSON(QueueFileName, queueDocument{SchemaVersion: SchemaVersion, Tasks: tasks})
}

// writeJSON replaces name atomically: the document is written to a temp
// file in the same directory, synced, then renamed over the target.
func (s *StateStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(s.dir, name)); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", name, err)
	}

	return nil
}
