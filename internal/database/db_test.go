// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"torrents", "broken_symlinks", "test_history", "cleanup_history", "migrations"} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestNewIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWritesGoThroughWriter(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, "INSERT INTO torrents (id, hash, filename) VALUES (?, ?, ?)",
		"ABC", "0123456789abcdef0123456789abcdef01234567", "Movie.2020.1080p")
	require.NoError(t, err)

	var filename string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT filename FROM torrents WHERE id = ?", "ABC").Scan(&filename))
	assert.Equal(t, "Movie.2020.1080p", filename)
}

func countTorrents(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM torrents").Scan(&n))
	return n
}

func TestBeginTxCommitAndRollback(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	insert := "INSERT INTO torrents (id, hash, filename) VALUES (?, ?, ?)"

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, insert, "ROLLED", "0123456789abcdef0123456789abcdef01234567", "Rolled.Back")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Zero(t, countTorrents(t, db))

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, insert, "KEPT", "0123456789abcdef0123456789abcdef01234567", "Committed")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	// rollback after commit must not release the writer twice
	assert.Error(t, tx.Rollback())
	assert.Equal(t, 1, countTorrents(t, db))

	_, err = db.ExecContext(ctx, insert, "AFTER", "89abcdef0123456789abcdef0123456789abcdef", "After.Tx")
	require.NoError(t, err)
	assert.Equal(t, 2, countTorrents(t, db))
}

func TestWritesWaitForOpenTransaction(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := db.ExecContext(ctx, "INSERT INTO torrents (id, hash, filename) VALUES (?, ?, ?)",
			"QUEUED", "0123456789abcdef0123456789abcdef01234567", "Queued.Write")
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("write finished inside an open transaction: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Rollback())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("write did not resume after rollback")
	}
	// the queued write is not part of the rolled back transaction
	assert.Equal(t, 1, countTorrents(t, db))
}

func TestExecAfterCloseFails(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.ExecContext(context.Background(), "DELETE FROM torrents")
	assert.ErrorIs(t, err, ErrDBStopping)
}

func TestIsWriteQuery(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"INSERT INTO x VALUES (1)", true},
		{"  \n update x set a = 1", true},
		{"DELETE FROM x", true},
		{"REPLACE INTO x VALUES (1)", true},
		{"SELECT * FROM x", false},
		{"", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isWriteQuery(tt.query), tt.query)
	}
}
