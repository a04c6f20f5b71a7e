package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hpungsan/tabsynth/internal/config"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// SamplesDir is the subdirectory of baseDir that receives sampled CSVs by default.
const SamplesDir = "samples"

// Init initializes the SQLite registry at baseDir/tabsynth.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tabsynth.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	samplesDir := filepath.Join(baseDir, SamplesDir)
	if err := os.MkdirAll(samplesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create samples directory: %w", err)
	}
	_ = os.Chmod(samplesDir, 0700)

	// Pragmas in the DSN apply to every pooled connection.
	dbPath := filepath.Join(baseDir, "tabsynth.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: models and their loss history
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS models (
		  id           TEXT PRIMARY KEY,
		  name_raw     TEXT,
		  name_norm    TEXT,
		  source_path  TEXT NOT NULL DEFAULT '',
		  row_count    INTEGER NOT NULL,
		  column_count INTEGER NOT NULL,
		  width        INTEGER NOT NULL,
		  epochs       INTEGER NOT NULL,
		  state        TEXT NOT NULL,
		  config_json  TEXT NOT NULL,
		  schema_json  TEXT NOT NULL,
		  state_blob   BLOB NOT NULL,
		  created_at   INTEGER NOT NULL,
		  updated_at   INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_models_name_norm
		ON models(name_norm)
		WHERE name_norm IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_models_created
		ON models(created_at DESC);

		CREATE TABLE IF NOT EXISTS losses (
		  model_id            TEXT NOT NULL REFERENCES models(id) ON DELETE CASCADE,
		  epoch               INTEGER NOT NULL,
		  generator_loss      REAL NOT NULL,
		  discriminator_loss  REAL NOT NULL,
		  PRIMARY KEY (model_id, epoch)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
