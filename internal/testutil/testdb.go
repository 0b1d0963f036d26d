package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/flowstate/flowstate/internal/store"
)

// OpenTestDB creates an in-memory SQLite DB and applies the engine schema.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Every pooled connection to :memory: is a distinct database; pin to one.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if _, err := db.Exec(store.Schema()); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

// OpenTestStore wraps OpenTestDB in a Store.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(OpenTestDB(t))
}
