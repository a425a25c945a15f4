// Package testutil holds shared helpers for package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/astromind-data/vigil.report/internal/store"
)

// MigrationsDir locates the migrations directory relative to the package
// under test. Tests run with the package directory as the working
// directory, so walk upward until the directory is found.
func MigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	for {
		candidate := filepath.Join(dir, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("migrations directory not found above %s", dir)
		}
		dir = parent
	}
}

// OpenTestStore opens a migrated store on a temp-dir database. The store
// is closed automatically when the test finishes.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil-test.db")
	s, err := store.NewStore(path)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.MigrateUp(MigrationsDir(t)); err != nil {
		t.Fatalf("failed to migrate test store: %v", err)
	}
	return s
}
