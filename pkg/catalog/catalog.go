// Package catalog keeps an optional sqlite index of persisted trials and
// captures.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/itohio/demolink/pkg/capture"
	"github.com/itohio/demolink/pkg/trial"
)

// ErrCatalog is returned for any catalog storage failure.
var ErrCatalog = errors.New("catalog failure")

// TrialEntry is a catalogued trial.
type TrialEntry struct {
	ID         int64
	LogPath    string
	Index      int
	Samples    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// CaptureEntry is a catalogued capture.
type CaptureEntry struct {
	ID         int64
	Path       string
	Points     int
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Catalog is a sqlite-backed index.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open opens or creates the catalog database at path.
func Open(path string) (*Catalog, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty database path", ErrCatalog)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory: %v", ErrCatalog, err)
		}
	}

	dsn := path + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrCatalog, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	version, err := schemaVersion(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Int("schema_version", version).Msg("catalog opened")

	return &Catalog{db: db, path: path}, nil
}

// Close checkpoints the WAL and closes the database.
func (c *Catalog) Close() error {
	if _, err := c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		log.Debug().Err(err).Msg("failed to checkpoint catalog")
	}
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("%w: close database: %v", ErrCatalog, err)
	}
	return nil
}

// RecordTrial indexes a trial persisted to the log at logPath.
func (c *Catalog) RecordTrial(logPath string, t *trial.Trial) error {
	_, err := c.db.Exec(insertTrialSQL,
		logPath,
		t.Index,
		len(t.Values),
		t.StartedAt.UnixMilli(),
		t.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: record trial: %v", ErrCatalog, err)
	}
	return nil
}

// RecordCapture indexes a persisted capture.
func (c *Catalog) RecordCapture(capt *capture.Capture) error {
	_, err := c.db.Exec(insertCaptureSQL,
		capt.Path,
		len(capt.Points),
		capt.Reason.String(),
		capt.StartedAt.UnixMilli(),
		capt.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("%w: record capture: %v", ErrCatalog, err)
	}
	return nil
}

// ClearTrials removes the entries of the log at logPath and returns how many
// were removed.
func (c *Catalog) ClearTrials(logPath string) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM trials WHERE log_path = ?`, logPath)
	if err != nil {
		return 0, fmt.Errorf("%w: clear trials: %v", ErrCatalog, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: clear trials: %v", ErrCatalog, err)
	}
	return n, nil
}

// MoveTrials re-keys the entries of the log at from to the log at to, after
// dropping the entries to previously held. It returns how many were moved.
func (c *Catalog) MoveTrials(from, to string) (int64, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: begin move: %v", ErrCatalog, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("failed to rollback move transaction")
			}
		}
	}()

	if _, err := tx.Exec(`DELETE FROM trials WHERE log_path = ?`, to); err != nil {
		return 0, fmt.Errorf("%w: drop replaced trials: %v", ErrCatalog, err)
	}
	res, err := tx.Exec(`UPDATE trials SET log_path = ? WHERE log_path = ?`, to, from)
	if err != nil {
		return 0, fmt.Errorf("%w: move trials: %v", ErrCatalog, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: move trials: %v", ErrCatalog, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit move: %v", ErrCatalog, err)
	}
	committed = true

	return n, nil
}

// Trials lists the entries of the log at logPath, oldest first.
func (c *Catalog) Trials(logPath string) ([]TrialEntry, error) {
	rows, err := c.db.Query(`
        SELECT id, log_path, trial_index, samples, started_at, finished_at
        FROM trials
        WHERE log_path = ?
        ORDER BY id
    `, logPath)
	if err != nil {
		return nil, fmt.Errorf("%w: query trials: %v", ErrCatalog, err)
	}
	defer rows.Close()

	var out []TrialEntry
	for rows.Next() {
		var e TrialEntry
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.LogPath, &e.Index, &e.Samples, &started, &finished); err != nil {
			return nil, fmt.Errorf("%w: scan trial: %v", ErrCatalog, err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query trials: %v", ErrCatalog, err)
	}
	return out, nil
}

// Captures lists catalogued captures, newest first, at most limit of them
// (all of them when limit <= 0).
func (c *Catalog) Captures(limit int) ([]CaptureEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.Query(`
        SELECT id, path, points, reason, started_at, finished_at
        FROM captures
        ORDER BY started_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query captures: %v", ErrCatalog, err)
	}
	defer rows.Close()

	var out []CaptureEntry
	for rows.Next() {
		var e CaptureEntry
		var started, finished int64
		if err := rows.Scan(&e.ID, &e.Path, &e.Points, &e.Reason, &started, &finished); err != nil {
			return nil, fmt.Errorf("%w: scan capture: %v", ErrCatalog, err)
		}
		e.StartedAt = time.UnixMilli(started)
		e.FinishedAt = time.UnixMilli(finished)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query captures: %v", ErrCatalog, err)
	}
	return out, nil
}
