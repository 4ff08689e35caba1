// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands out migrated SQLite databases to tests.
package testdb

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/autobrr/rdtm/internal/database"
)

var (
	templateOnce sync.Once
	templatePath string
	templateErr  error
)

// Open returns a database cloned from a migrated template. The database is
// closed when the test ends.
func Open(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(PathFromTemplate(t, "rdtm.db"))
	if err != nil {
		t.Fatalf("open test DB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// PathFromTemplate returns a fresh database file path holding a copy of the
// migrated template, so each test skips running migrations.
func PathFromTemplate(t *testing.T, filename string) string {
	t.Helper()

	templateOnce.Do(func() {
		templatePath, templateErr = createTemplate()
	})
	if templateErr != nil {
		t.Fatalf("prepare test DB template: %v", templateErr)
	}

	dst := filepath.Join(t.TempDir(), filename)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := copyFile(templatePath+suffix, dst+suffix, suffix != ""); err != nil {
			t.Fatalf("clone test DB template to %s: %v", dst, err)
		}
	}

	return dst
}

func createTemplate() (string, error) {
	dir, err := os.MkdirTemp("", "rdtm-template-")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "template.db")
	db, err := database.New(path)
	if err != nil {
		return "", err
	}

	return path, db.Close()
}

func copyFile(src, dst string, optional bool) error {
	in, err := os.Open(src)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
