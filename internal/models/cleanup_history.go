// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/rdtm/internal/dbinterface"
)

// CleanupRecord is a cleanup task that reached a terminal status.
type CleanupRecord struct {
	ID            int64     `json:"id"`
	TorrentHash   string    `json:"torrentHash"`
	RDTorrentID   string    `json:"rdTorrentId,omitempty"`
	Filename      string    `json:"filename"`
	LocalPaths    []string  `json:"localPaths"`
	ErrorType     string    `json:"errorType"`
	DiscoveryDate time.Time `json:"discoveryDate"`
	RetryCount    int       `json:"retryCount"`
	Status        string    `json:"status"`
	LastError     string    `json:"lastError,omitempty"`
	FinishedAt    time.Time `json:"finishedAt"`
}

type CleanupRecordStore struct {
	db dbinterface.Querier
}

func NewCleanupRecordStore(db dbinterface.Querier) *CleanupRecordStore {
	return &CleanupRecordStore{db: db}
}

func (s *CleanupRecordStore) Create(ctx context.Context, rec *CleanupRecord) error {
	if rec == nil {
		return errors.New("cleanup record is nil")
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}

	paths := rec.LocalPaths
	if paths == nil {
		paths = []string{}
	}
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("marshal local paths: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO cleanup_history
			(torrent_hash, rd_torrent_id, filename, local_paths, error_type, discovery_date, retry_count, status, last_error, finished_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.TorrentHash, nullString(rec.RDTorrentID), rec.Filename, string(pathsJSON), rec.ErrorType,
		rec.DiscoveryDate.UTC(), rec.RetryCount, rec.Status, nullString(rec.LastError), rec.FinishedAt.UTC())
	if err != nil {
		return err
	}

	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}

	return nil
}

func (s *CleanupRecordStore) ListRecent(ctx context.Context, limit int) ([]*CleanupRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, torrent_hash, rd_torrent_id, filename, local_paths, error_type, discovery_date,
			retry_count, status, last_error, finished_at
		FROM cleanup_history
		ORDER BY finished_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*CleanupRecord
	for rows.Next() {
		var r CleanupRecord
		var remoteID, lastError sql.NullString
		var pathsJSON string

		if err := rows.Scan(&r.ID, &r.TorrentHash, &remoteID, &r.Filename, &pathsJSON, &r.ErrorType,
			&r.DiscoveryDate, &r.RetryCount, &r.Status, &lastError, &r.FinishedAt); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(pathsJSON), &r.LocalPaths); err != nil {
			return nil, fmt.Errorf("decode local paths for cleanup record %d: %w", r.ID, err)
		}
		r.RDTorrentID = remoteID.String
		r.LastError = lastError.String
		records = append(records, &r)
	}

	return records, rows.Err()
}

// Prune deletes records finished before the cutoff.
func (s *CleanupRecordStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cleanup_history WHERE finished_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
