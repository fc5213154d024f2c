package db

import (
	"path/filepath"
	"testing"

	"github.com/aeo-labs/nous/internal/config"
)

func TestInit(t *testing.T) {
	baseDir := t.TempDir()

	database, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer database.Close()

	version, err := GetUserVersion(database)
	if err != nil {
		t.Fatalf("GetUserVersion() error = %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, CurrentSchemaVersion)
	}

	var journalMode string
	if err := database.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		t.Fatalf("journal_mode query error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}
}

func TestInit_Reopen(t *testing.T) {
	baseDir := t.TempDir()

	first, err := Init(baseDir)
	if err != nil {
		t.Fatalf("first Init() error = %v", err)
	}
	first.Close()

	// Migrations are idempotent; reopening an existing database must not fail.
	second, err := Init(baseDir)
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	defer second.Close()

	version, err := GetUserVersion(second)
	if err != nil {
		t.Fatal(err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("user_version after reopen = %d, want %d", version, CurrentSchemaVersion)
	}
}

func TestInit_CreatesNestedBaseDir(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "deeply", "nested", ".nous")

	database, err := Init(baseDir)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	database.Close()
}

func TestConfigurePool(t *testing.T) {
	database, err := Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	// Nil config and zero values must both be safe no-ops.
	ConfigurePool(database, nil)
	ConfigurePool(database, &config.Config{})
	ConfigurePool(database, &config.Config{DBMaxOpenConns: 1, DBMaxIdleConns: 1})

	if err := database.Ping(); err != nil {
		t.Errorf("Ping() after pool config error = %v", err)
	}
}
