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
)

var (
	ErrBrokenSymlinkNotFound = errors.New("broken symlink not found")
	ErrBrokenSymlinkExists   = errors.New("broken symlink already recorded")
)

// BrokenSymlink is a library symlink whose target disappeared. Name is the
// display name of the release it pointed into.
type BrokenSymlink struct {
	ID           int64      `json:"id"`
	Path         string     `json:"path"`
	Name         string     `json:"name"`
	Target       string     `json:"target,omitempty"`
	DiscoveredAt time.Time  `json:"discoveredAt"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	Success      *bool      `json:"success,omitempty"`
	Attempts     int        `json:"attempts"`
}

type BrokenSymlinkStore struct {
	db dbinterface.Querier
}

func NewBrokenSymlinkStore(db dbinterface.Querier) *BrokenSymlinkStore {
	return &BrokenSymlinkStore{db: db}
}

const brokenSymlinkColumns = `id, path, name, target, discovered_at, processed, processed_at, success, attempts`

// Create records a newly discovered broken symlink.
func (s *BrokenSymlinkStore) Create(ctx context.Context, ref *BrokenSymlink) (*BrokenSymlink, error) {
	if ref == nil {
		return nil, errors.New("broken symlink is nil")
	}
	if strings.TrimSpace(ref.Path) == "" {
		return nil, errors.New("path is required")
	}
	if strings.TrimSpace(ref.Name) == "" {
		return nil, errors.New("name is required")
	}
	if ref.DiscoveredAt.IsZero() {
		ref.DiscoveredAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO broken_symlinks (path, name, target, discovered_at)
		VALUES (?, ?, ?, ?)
	`, ref.Path, ref.Name, ref.Target, ref.DiscoveredAt.UTC())
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrBrokenSymlinkExists
		}
		return nil, fmt.Errorf("insert broken symlink: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *BrokenSymlinkStore) Get(ctx context.Context, id int64) (*BrokenSymlink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+brokenSymlinkColumns+` FROM broken_symlinks WHERE id = ?`, id)

	ref, err := scanBrokenSymlink(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBrokenSymlinkNotFound
		}
		return nil, err
	}

	return ref, nil
}

// NextBatch returns up to limit unprocessed references, oldest first.
func (s *BrokenSymlinkStore) NextBatch(ctx context.Context, limit int) ([]*BrokenSymlink, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+brokenSymlinkColumns+`
		FROM broken_symlinks
		WHERE processed = 0
		ORDER BY discovered_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBrokenSymlinks(rows)
}

// MarkProcessed flags ref as handled so NextBatch skips it.
func (s *BrokenSymlinkStore) MarkProcessed(ctx context.Context, ref *BrokenSymlink, success bool) error {
	if ref == nil {
		return errors.New("broken symlink is nil")
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE broken_symlinks
		SET processed = 1, processed_at = ?, success = ?, attempts = attempts + 1
		WHERE id = ?
	`, now, success, ref.ID)
	if err != nil {
		return fmt.Errorf("mark broken symlink %d processed: %w", ref.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBrokenSymlinkNotFound
	}

	ref.Processed = true
	ref.ProcessedAt = &now
	ref.Success = &success
	ref.Attempts++

	return nil
}

// ListByName returns every reference with the given display name.
func (s *BrokenSymlinkStore) ListByName(ctx context.Context, name string) ([]*BrokenSymlink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+brokenSymlinkColumns+`
		FROM broken_symlinks
		WHERE name = ? COLLATE NOCASE
		ORDER BY id ASC
	`, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBrokenSymlinks(rows)
}

// Search returns up to limit references whose name contains term.
func (s *BrokenSymlinkStore) Search(ctx context.Context, term string, limit int) ([]*BrokenSymlink, error) {
	term = strings.TrimSpace(term)
	if term == "" || limit <= 0 {
		return nil, nil
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+brokenSymlinkColumns+`
		FROM broken_symlinks
		WHERE name LIKE ? ESCAPE '\'
		ORDER BY id ASC
		LIMIT ?
	`, "%"+escaped+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBrokenSymlinks(rows)
}

// CountPending returns how many references are still unprocessed.
func (s *BrokenSymlinkStore) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM broken_symlinks WHERE processed = 0`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBrokenSymlink(row rowScanner) (*BrokenSymlink, error) {
	var (
		ref         BrokenSymlink
		processedAt sql.NullTime
		success     sql.NullBool
	)

	if err := row.Scan(
		&ref.ID,
		&ref.Path,
		&ref.Name,
		&ref.Target,
		&ref.DiscoveredAt,
		&ref.Processed,
		&processedAt,
		&success,
		&ref.Attempts,
	); err != nil {
		return nil, err
	}

	if processedAt.Valid {
		t := processedAt.Time
		ref.ProcessedAt = &t
	}
	if success.Valid {
		v := success.Bool
		ref.Success = &v
	}

	return &ref, nil
}

func scanBrokenSymlinks(rows *sql.Rows) ([]*BrokenSymlink, error) {
	var refs []*BrokenSymlink
	for rows.Next() {
		ref, err := scanBrokenSymlink(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}
