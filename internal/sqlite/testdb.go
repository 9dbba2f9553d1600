package sqlite

import (
	"testing"
)

// NewTestStore creates a fresh in-memory store with the schema applied.
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := EnsureSchema(db); err != nil {
		db.Close()
		t.Fatalf("creating test database schema: %v", err)
	}

	s := New(db)
	t.Cleanup(func() { s.Close() })
	return s
}
