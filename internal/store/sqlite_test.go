package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"), 4)
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return openTestDB(t) })
}

func TestMemoryContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemory() })
}

func TestMigrateNewDB(t *testing.T) {
	s := openTestDB(t)

	version, err := getSchemaVersion(s.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrateFromVersion1(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "v1.db")

	// Simulate a database created before the metadata columns existed.
	raw, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	tx, err := raw.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := migrations[0].Up(tx); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := raw.Exec("PRAGMA user_version = 1"); err != nil {
		t.Fatalf("stamp v1: %v", err)
	}
	raw.Close()

	s, err := OpenSQLite(dbPath, 1)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()

	version, err := getSchemaVersion(s.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d after migration, got %d", latestVersion(), version)
	}

	rec := NewRecord(testEntry("x1", "T"), "", nil, nil)
	rec.DOI = "10.1/abc"
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("save after migration: %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	s1, err := OpenSQLite(dbPath, 1)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	s1.Close()

	s2, err := OpenSQLite(dbPath, 1)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	version, err := getSchemaVersion(s2.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestSQLiteRoundTripsMetadata(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	e := testEntry("2101.00002v1", "Meta")
	e.PrimaryCategory = "quant-ph"
	e.DOI = "10.1000/xyz"
	e.DocumentURL = "http://arxiv.org/pdf/2101.00002v1.pdf"
	if err := s.Save(ctx, NewRecord(e, "body", nil, []string{"k1"})); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Get(ctx, "2101.00002v1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.PrimaryCategory != "quant-ph" || got.DOI != "10.1000/xyz" {
		t.Errorf("metadata lost: %+v", got)
	}
	if got.Authors[0] != "Ada Lovelace" || got.Categories[0] != "quant-ph" {
		t.Errorf("lists lost: %+v", got)
	}
	if got.Images == nil {
		t.Error("expected empty, non-nil images")
	}
}

func TestSQLiteSaveOnClosedDB(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "closed.db"), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	err = s.Save(context.Background(), NewRecord(testEntry("a", "b"), "", nil, nil))
	var storeErr *Error
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if storeErr.Op != "save" {
		t.Errorf("expected op save, got %q", storeErr.Op)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: "memory"}, zap.NewNop())
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	s, err = Open(context.Background(), Options{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "a.db")}, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s.Close()

	_, err = Open(context.Background(), Options{Backend: "cassandra"}, zap.NewNop())
	var storeErr *Error
	if !errors.As(err, &storeErr) {
		t.Errorf("expected *Error for unknown backend, got %v", err)
	}
}
