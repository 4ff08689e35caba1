// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/autobrr/rdtm/internal/dbinterface"
)

// Test result types
const (
	TestResultSuccess = "success"
	TestResultFailure = "failure"
)

// TestHistoryEntry is one reinjection attempt. FailureKind is empty on success.
type TestHistoryEntry struct {
	ID             int64     `json:"id"`
	IdentifierHash string    `json:"identifierHash"`
	DisplayName    string    `json:"displayName"`
	TestDate       time.Time `json:"testDate"`
	ResultType     string    `json:"resultType"`
	FailureKind    string    `json:"failureKind,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	RemoteID       string    `json:"remoteId,omitempty"`
	ElapsedMs      int64     `json:"elapsedMs"`
}

type TestHistoryStore struct {
	db dbinterface.Querier
}

func NewTestHistoryStore(db dbinterface.Querier) *TestHistoryStore {
	return &TestHistoryStore{db: db}
}

func (s *TestHistoryStore) Create(ctx context.Context, entry *TestHistoryEntry) error {
	if entry == nil {
		return errors.New("history entry is nil")
	}
	if entry.TestDate.IsZero() {
		entry.TestDate = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO test_history
			(identifier_hash, display_name, test_date, result_type, failure_kind, detail, remote_id, elapsed_ms)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.IdentifierHash, entry.DisplayName, entry.TestDate.UTC(), entry.ResultType,
		nullString(entry.FailureKind), nullString(entry.Detail), nullString(entry.RemoteID), entry.ElapsedMs)
	if err != nil {
		return err
	}

	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}

	return nil
}

func (s *TestHistoryStore) ListRecent(ctx context.Context, limit int) ([]*TestHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identifier_hash, display_name, test_date, result_type, failure_kind, detail, remote_id, elapsed_ms
		FROM test_history
		ORDER BY test_date DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*TestHistoryEntry
	for rows.Next() {
		var e TestHistoryEntry
		var kind, detail, remoteID sql.NullString

		if err := rows.Scan(&e.ID, &e.IdentifierHash, &e.DisplayName, &e.TestDate, &e.ResultType,
			&kind, &detail, &remoteID, &e.ElapsedMs); err != nil {
			return nil, err
		}

		e.FailureKind = kind.String
		e.Detail = detail.String
		e.RemoteID = remoteID.String
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

// CountByFailureKind returns the number of failed attempts per failure kind.
func (s *TestHistoryStore) CountByFailureKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT failure_kind, COUNT(*)
		FROM test_history
		WHERE result_type = ?
		GROUP BY failure_kind
	`, TestResultFailure)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind sql.NullString
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind.String] = n
	}

	return counts, rows.Err()
}

// Prune deletes entries older than before.
func (s *TestHistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM test_history WHERE test_date < ?`, before.UTC())
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
