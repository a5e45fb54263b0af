package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ugoodapp/ugood/internal/config"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/ugood.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.ugood.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	// _txlock=immediate makes BeginTx take the write lock up front, so
	// competing claim transactions wait on busy_timeout instead of failing
	// with SQLITE_BUSY on lock upgrade.
	dbPath := filepath.Join(baseDir, "ugood.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
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
	if cfg.Store.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
	}
	if cfg.Store.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Store.MaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: troubles, matches, blessings
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS troubles (
		  id          TEXT PRIMARY KEY,
		  author_id   TEXT NOT NULL,
		  content     TEXT NOT NULL,
		  status      TEXT NOT NULL CHECK (status IN ('active', 'matched')),
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_troubles_active_author
		ON troubles(author_id)
		WHERE status = 'active';

		CREATE INDEX IF NOT EXISTS idx_troubles_active_created
		ON troubles(created_at, id)
		WHERE status = 'active';

		CREATE INDEX IF NOT EXISTS idx_troubles_author_created
		ON troubles(author_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS matches (
		  id          TEXT PRIMARY KEY,
		  trouble_id  TEXT NOT NULL REFERENCES troubles(id),
		  matcher_id  TEXT NOT NULL,
		  author_id   TEXT NOT NULL,
		  match_date  TEXT NOT NULL,
		  status      TEXT NOT NULL CHECK (status IN ('active', 'completed', 'expired')),
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL,
		  CHECK (matcher_id <> author_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_trouble_matcher
		ON matches(trouble_id, matcher_id);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_active_trouble
		ON matches(trouble_id)
		WHERE status = 'active';

		CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_matcher_date
		ON matches(matcher_id, match_date);

		CREATE INDEX IF NOT EXISTS idx_matches_author_created
		ON matches(author_id, created_at DESC);

		CREATE INDEX IF NOT EXISTS idx_matches_active_date
		ON matches(match_date)
		WHERE status = 'active';

		CREATE TABLE IF NOT EXISTS blessings (
		  id            TEXT PRIMARY KEY,
		  match_id      TEXT NOT NULL REFERENCES matches(id),
		  from_user_id  TEXT NOT NULL,
		  to_user_id    TEXT NOT NULL,
		  audio_ref     TEXT NOT NULL,
		  text_content  TEXT,
		  created_at    INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_blessings_match_from
		ON blessings(match_id, from_user_id);

		CREATE INDEX IF NOT EXISTS idx_blessings_to_created
		ON blessings(to_user_id, created_at DESC);
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
