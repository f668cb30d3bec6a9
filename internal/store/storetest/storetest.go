// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"bibliotheca/internal/store"
)

// New opens a migrated SQLite store in t's temp dir and closes it on cleanup.
func New(t testing.TB) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(context.Background(), store.Options{
		Dialect:  store.SQLite,
		DSN:      dbPath,
		MaxConns: 4,
	})
	if err != nil {
		t.Fatalf("open store %q: %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}
