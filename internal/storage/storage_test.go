package storage

import (
	"path/filepath"
	"testing"
)

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	if s.DB() == nil {
		t.Fatal("db handle is nil")
	}
	if s.Path() != "" {
		t.Errorf("Path() = %q, want empty for in-memory store", s.Path())
	}
}

func TestOpen_CreatesSchemaTables(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	for _, table := range []string{"counters", "locks", "jobs", "memory", "links", "link_clicks"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q missing: %v", table, err)
		}
	}
}

func TestOpen_CreatesFileAndDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tenant.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Path() != path {
		t.Errorf("Path() = %q, want %q", s.Path(), path)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen: migration must be idempotent.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s2.Close()
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenant.db")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.DB().Exec(
		"INSERT INTO counters (name, value, created_at, updated_at) VALUES (?, ?, ?, ?)",
		"visits", 42, 1000, 1000,
	)
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s2.Close() })

	var value int64
	if err := s2.DB().QueryRow("SELECT value FROM counters WHERE name = ?", "visits").Scan(&value); err != nil {
		t.Fatal(err)
	}
	if value != 42 {
		t.Errorf("value = %d, want 42", value)
	}
}
