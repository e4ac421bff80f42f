package sqlitedb

import (
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func TestOpenCreatesSchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("schema version = %d, want %d", version, currentSchemaVersion)
	}

	for _, table := range []string{"tasks", "responses"} {
		var name string
		err := db.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
	if db.Path() != filepath.Join(dir, FileName) {
		t.Errorf("Path() = %q", db.Path())
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := first.Conn().Exec(`INSERT INTO schema_meta (key, value) VALUES ('marker', 'kept')`); err != nil {
		t.Fatalf("insert marker: %v", err)
	}
	_ = first.Close()

	second, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()

	var value string
	if err := second.Conn().QueryRow(`SELECT value FROM schema_meta WHERE key = 'marker'`).Scan(&value); err != nil {
		t.Fatalf("marker lost across reopen: %v", err)
	}
	if value != "kept" {
		t.Errorf("marker = %q, want kept", value)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dir := t.TempDir()

	conn, err := sql.Open("sqlite", filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := conn.Exec(`CREATE TABLE schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		t.Fatalf("create schema_meta: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO schema_meta (key, value) VALUES ('schema_version', '99')`); err != nil {
		t.Fatalf("write version: %v", err)
	}
	_ = conn.Close()

	_, err = Open(dir)
	if err == nil {
		t.Fatal("expected error for newer schema")
	}
	if !strings.Contains(err.Error(), "newer than runtime") {
		t.Errorf("unexpected error: %v", err)
	}
}
