// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/autobrr/rdtm/internal/dbinterface"
	"github.com/autobrr/rdtm/pkg/hashutil"
)

var ErrTrackedTorrentNotFound = errors.New("tracked torrent not found")

// TrackedTorrent is a torrent known to the debrid account. ID is the remote
// torrent id.
type TrackedTorrent struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Filename  string    `json:"filename"`
	Status    string    `json:"status"`
	Size      int64     `json:"size"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

type TrackedTorrentStore struct {
	db dbinterface.Querier
}

func NewTrackedTorrentStore(db dbinterface.Querier) *TrackedTorrentStore {
	return &TrackedTorrentStore{db: db}
}

// Upsert inserts t or refreshes the existing row with the same remote id.
// FirstSeen is kept from the first insert.
func (s *TrackedTorrentStore) Upsert(ctx context.Context, t *TrackedTorrent) error {
	if t == nil {
		return errors.New("tracked torrent is nil")
	}
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("remote id is required")
	}

	now := time.Now().UTC()
	if t.FirstSeen.IsZero() {
		t.FirstSeen = now
	}
	if t.LastSeen.IsZero() {
		t.LastSeen = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO torrents (id, hash, filename, status, size, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			hash = excluded.hash,
			filename = excluded.filename,
			status = excluded.status,
			size = excluded.size,
			last_seen = excluded.last_seen
	`, t.ID, hashutil.Normalize(t.Hash), t.Filename, t.Status, t.Size, t.FirstSeen.UTC(), t.LastSeen.UTC())
	if err != nil {
		return fmt.Errorf("upsert torrent %s: %w", t.ID, err)
	}

	return nil
}

// FindLatestByName returns the most recently seen torrent whose filename
// matches name case-insensitively.
func (s *TrackedTorrentStore) FindLatestByName(ctx context.Context, name string) (*TrackedTorrent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, filename, status, size, first_seen, last_seen
		FROM torrents
		WHERE filename = ? COLLATE NOCASE
		ORDER BY last_seen DESC, rowid DESC
		LIMIT 1
	`, strings.TrimSpace(name))

	var t TrackedTorrent
	if err := row.Scan(&t.ID, &t.Hash, &t.Filename, &t.Status, &t.Size, &t.FirstSeen, &t.LastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTrackedTorrentNotFound
		}
		return nil, err
	}

	return &t, nil
}

func (s *TrackedTorrentStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM torrents WHERE id = ?`, id)
	return err
}
