package catalog

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS trials (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       log_path     TEXT NOT NULL,
	       trial_index  INTEGER NOT NULL CHECK (trial_index >= 0),
	       samples      INTEGER NOT NULL CHECK (samples >= 0),
	       started_at   INTEGER NOT NULL,
	       finished_at  INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS trials_log_path ON trials (log_path);
	   CREATE TABLE IF NOT EXISTS captures (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       path         TEXT NOT NULL UNIQUE,
	       points       INTEGER NOT NULL CHECK (points > 0),
	       reason       TEXT NOT NULL,
	       started_at   INTEGER NOT NULL,
	       finished_at  INTEGER NOT NULL
	   );`

	insertTrialSQL = `
    INSERT INTO trials (
        log_path, trial_index, samples, started_at, finished_at
    ) VALUES (?, ?, ?, ?, ?)`

	insertCaptureSQL = `
    INSERT INTO captures (
        path, points, reason, started_at, finished_at
    ) VALUES (?, ?, ?, ?, ?)`
)

// initSchema creates the tables and records the schema version once.
func initSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin schema: %v", ErrCatalog, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("failed to rollback schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return fmt.Errorf("%w: create tables: %v", ErrCatalog, err)
	}

	if _, err := tx.Exec(`
        INSERT OR IGNORE INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return fmt.Errorf("%w: record schema version: %v", ErrCatalog, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit schema: %v", ErrCatalog, err)
	}
	committed = true

	return nil
}

// schemaVersion returns the newest recorded schema version, 0 if none.
func schemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: read schema version: %v", ErrCatalog, err)
	}
	return version, nil
}
