// Package catalog keeps a SQLite index of saved detector archives and of the
// scoring runs made with them.
package catalog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/hed1ad/omniad/pkg/archive"
	"github.com/hed1ad/omniad/pkg/detectors"
)

// ErrNotFound is returned by Get for an unknown archive id.
var ErrNotFound = errors.New("archive not found in catalog")

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS archives (
    id              TEXT PRIMARY KEY,
    algorithm_id    TEXT NOT NULL,
    class_name      TEXT NOT NULL,
    threshold       REAL NOT NULL,
    contamination   REAL NOT NULL DEFAULT 0.0,
    n_features      INTEGER NOT NULL DEFAULT 0,
    hyperparameters TEXT NOT NULL DEFAULT '{}',
    path            TEXT NOT NULL,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_archives_algorithm ON archives(algorithm_id);
CREATE INDEX IF NOT EXISTS idx_archives_created_at ON archives(created_at DESC);
`,
	},
	// Migration 2: score_runs
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS score_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    archive_id  TEXT NOT NULL REFERENCES archives(id) ON DELETE CASCADE,
    input       TEXT NOT NULL DEFAULT '',
    row_count   INTEGER NOT NULL DEFAULT 0,
    flagged     INTEGER NOT NULL DEFAULT 0,
    scored_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_score_runs_archive ON score_runs(archive_id, scored_at DESC);
`,
	},
}

// Entry describes one saved archive.
type Entry struct {
	ArchiveID       string
	AlgorithmID     string
	ClassName       string
	Threshold       float64
	Contamination   float64
	NFeatures       int
	Hyperparameters detectors.Hyperparameters
	Path            string
	CreatedAt       time.Time
}

// Run records one scoring pass over an input.
type Run struct {
	ID        int64
	ArchiveID string
	Input     string
	Rows      int
	Flagged   int
	ScoredAt  time.Time
}

// Query filters List results. Zero values mean no filter.
type Query struct {
	AlgorithmID string
	Limit       int
}

// Catalog is a SQLite-backed archive index.
type Catalog struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path and runs pending
// migrations. Pass ":memory:" for an in-memory catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: SQLite serializes writers anyway and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

// migrate applies any unapplied migrations in order.
func (c *Catalog) migrate() error {
	_, err := c.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := c.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := c.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

// EntryFromMetadata builds a catalog entry for an archive saved at path.
func EntryFromMetadata(meta *archive.Metadata, path string, nFeatures int) *Entry {
	return &Entry{
		ArchiveID:       meta.ArchiveID,
		AlgorithmID:     meta.AlgorithmID,
		ClassName:       meta.ClassName,
		Threshold:       meta.Threshold,
		Contamination:   meta.Contamination,
		NFeatures:       nFeatures,
		Hyperparameters: meta.Hyperparameters,
		Path:            path,
		CreatedAt:       meta.CreatedAt,
	}
}

// Record inserts or replaces e. An empty ArchiveID is assigned a new UUID and
// a zero CreatedAt is set to now.
func (c *Catalog) Record(ctx context.Context, e *Entry) error {
	if e.ArchiveID == "" {
		e.ArchiveID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	params, err := json.Marshal(e.Hyperparameters.Clone())
	if err != nil {
		return fmt.Errorf("encode hyperparameters: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
        INSERT INTO archives(id, algorithm_id, class_name, threshold, contamination, n_features, hyperparameters, path, created_at)
        VALUES(?,?,?,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET
            path       = excluded.path,
            threshold  = excluded.threshold,
            created_at = excluded.created_at
    `,
		e.ArchiveID, e.AlgorithmID, e.ClassName, e.Threshold, e.Contamination,
		e.NFeatures, string(params), e.Path, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record archive %s: %w", e.ArchiveID, err)
	}
	return nil
}

const entryColumns = `id, algorithm_id, class_name, threshold, contamination, n_features, hyperparameters, path, created_at`

// Get returns the entry for archiveID.
func (c *Catalog) Get(ctx context.Context, archiveID string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM archives WHERE id = ?`, archiveID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, archiveID)
	}
	return e, err
}

// List returns entries newest first.
func (c *Catalog) List(ctx context.Context, q Query) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM archives WHERE 1=1`
	args := []any{}

	if q.AlgorithmID != "" {
		query += ` AND algorithm_id = ?`
		args = append(args, q.AlgorithmID)
	}
	query += ` ORDER BY created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RecordRun appends a scoring run for an archive already in the catalog.
func (c *Catalog) RecordRun(ctx context.Context, r *Run) error {
	if r.ScoredAt.IsZero() {
		r.ScoredAt = time.Now()
	}
	result, err := c.db.ExecContext(ctx, `
        INSERT INTO score_runs(archive_id, input, row_count, flagged, scored_at)
        VALUES(?,?,?,?,?)
    `, r.ArchiveID, r.Input, r.Rows, r.Flagged, formatTime(r.ScoredAt))
	if err != nil {
		return fmt.Errorf("record run for %s: %w", r.ArchiveID, err)
	}
	id, _ := result.LastInsertId()
	r.ID = id
	return nil
}

// Runs returns the scoring runs of archiveID, newest first.
func (c *Catalog) Runs(ctx context.Context, archiveID string) ([]*Run, error) {
	rows, err := c.db.QueryContext(ctx, `
        SELECT id, archive_id, input, row_count, flagged, scored_at
        FROM score_runs WHERE archive_id = ? ORDER BY scored_at DESC, id DESC
    `, archiveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		var (
			r        Run
			scoredAt string
		)
		if err := rows.Scan(&r.ID, &r.ArchiveID, &r.Input, &r.Rows, &r.Flagged, &scoredAt); err != nil {
			return nil, err
		}
		if r.ScoredAt, err = parseTime(scoredAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e         Entry
		params    string
		createdAt string
	)
	err := s.Scan(&e.ArchiveID, &e.AlgorithmID, &e.ClassName, &e.Threshold, &e.Contamination,
		&e.NFeatures, &params, &e.Path, &createdAt)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(params)))
	dec.UseNumber()
	if err := dec.Decode(&e.Hyperparameters); err != nil {
		return nil, fmt.Errorf("decode hyperparameters of %s: %w", e.ArchiveID, err)
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("decode created_at of %s: %w", e.ArchiveID, err)
	}
	return &e, nil
}

// Times are stored as fixed-width UTC RFC 3339 text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }
