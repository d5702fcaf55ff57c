package runlog

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	jamfreport "github.com/httprunner/JamfReport"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	runsTable    = "report_runs"
	defaultLimit = 20
	maxLimit     = 500
)

const createRunsTable = `CREATE TABLE IF NOT EXISTS report_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL UNIQUE,
	started_at INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	base_url TEXT,
	listed INTEGER NOT NULL DEFAULT 0,
	reported INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	error TEXT
);`

const createStartedAtIndex = `CREATE INDEX IF NOT EXISTS idx_report_runs_started_at ON report_runs (started_at);`

const insertRun = `INSERT INTO report_runs
	(run_id, started_at, elapsed_ms, base_url, listed, reported, skipped, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO NOTHING;`

const selectRecent = `SELECT run_id, started_at, elapsed_ms, base_url, listed, reported, skipped, error
	FROM report_runs ORDER BY started_at DESC, id DESC LIMIT ?;`

// Journal appends one row per report build to a SQLite database. It holds
// run counts only, never device data.
type Journal struct {
	db   *sql.DB
	stmt *sql.Stmt
	path string
}

var _ jamfreport.RunRecorder = (*Journal)(nil)

// Open opens or creates the journal at path, creating parent directories.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("runlog: database path is empty")
	}
	if err := ensureDirExists(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "runlog: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(insertRun)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "runlog: prepare insert failed")
	}
	log.Debug().Str("db", path).Msg("runlog: journal opened")
	return &Journal{db: db, stmt: stmt, path: path}, nil
}

// Path returns the database file backing the journal.
func (j *Journal) Path() string {
	return j.path
}

// RecordRun stores run. A run id that is already present is ignored.
func (j *Journal) RecordRun(ctx context.Context, run jamfreport.RunSummary) error {
	if j == nil || j.stmt == nil {
		return errors.New("runlog: journal closed")
	}
	_, err := j.stmt.ExecContext(ctx,
		run.RunID,
		run.StartedAt.UnixMilli(),
		run.Elapsed.Milliseconds(),
		nullString(run.BaseURL),
		run.Listed,
		run.Reported,
		run.Skipped,
		nullString(run.Error),
	)
	if err != nil {
		return errors.Wrapf(err, "runlog: insert run %s failed", run.RunID)
	}
	return nil
}

// Recent returns up to limit runs, newest first. A non-positive limit
// selects the default of 20; limits above 500 are capped.
func (j *Journal) Recent(ctx context.Context, limit int) ([]jamfreport.RunSummary, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("runlog: journal closed")
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	rows, err := j.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, errors.Wrapf(err, "runlog: query %s failed", runsTable)
	}
	defer rows.Close()

	runs := make([]jamfreport.RunSummary, 0, limit)
	for rows.Next() {
		var (
			run       jamfreport.RunSummary
			startedAt int64
			elapsedMS int64
			baseURL   sql.NullString
			runErr    sql.NullString
		)
		if err := rows.Scan(&run.RunID, &startedAt, &elapsedMS, &baseURL,
			&run.Listed, &run.Reported, &run.Skipped, &runErr); err != nil {
			return nil, errors.Wrapf(err, "runlog: scan %s row failed", runsTable)
		}
		run.StartedAt = time.UnixMilli(startedAt)
		run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		run.BaseURL = baseURL.String
		run.Error = runErr.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "runlog: iterate %s failed", runsTable)
	}
	return runs, nil
}

// Close releases the prepared statement and the database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	if j.stmt != nil {
		_ = j.stmt.Close()
		j.stmt = nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func ensureDirExists(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return errors.Wrapf(err, "runlog: create dir %s failed", path)
	}
	return nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Wrapf(err, "runlog: execute %s failed", pragma)
		}
	}
	// One writer; concurrent builds queue on the connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	for _, stmt := range []string{createRunsTable, createStartedAtIndex} {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrapf(err, "runlog: prepare %s schema failed", runsTable)
		}
	}
	return nil
}

func nullString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}
