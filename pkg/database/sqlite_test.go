package database

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeCreatesDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "vault.db")

	db, err := Initialize(dbPath)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("expected database directory to exist: %v", err)
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "schema.db")

	db, err := Initialize(dbPath)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema first run failed: %v", err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema second run failed: %v", err)
	}

	for _, table := range []string{
		"users", "totp_devices", "backup_codes", "files",
		"file_permissions", "shareable_links", "revoked_tokens",
		"rate_limit_counters",
	} {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			t.Errorf("expected table %s to exist: %v", table, err)
		}
	}
}

func TestInitSchemaEnforcesUniqueEmailCaseInsensitive(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := Initialize(filepath.Join(tmpDir, "unique.db"))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()
	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	insert := `INSERT INTO users (id, email, name, password_hash) VALUES (?, ?, ?, ?)`
	if _, err := db.Exec(insert, "u1", "alice@example.com", "Alice", "hash"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := db.Exec(insert, "u2", "ALICE@EXAMPLE.COM", "Alice2", "hash"); err == nil {
		t.Fatal("expected unique constraint violation for case-variant email")
	}
}
