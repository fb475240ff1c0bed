package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Group outcome states as persisted in the ledger.
const (
	GroupStatusMeasured = "measured"
	GroupStatusFailed   = "failed"
)

const (
	insertRunSQL = `INSERT INTO runs
		(run_id, started_at, finished_at, duration_ms, groups_total, groups_failed, devices_total, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	insertGroupSQL = `INSERT INTO run_groups
		(run_id, display_name, identifiers, status, reason, bezel, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
)

// RunRow is one pipeline run as persisted in the ledger.
type RunRow struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS int64
	Processed  int64
	Failed     int64
	Devices    int64
	Error      string
}

// GroupRow is one work group outcome within a run. Identifiers are stored
// comma-joined in the resolver's sorted order.
type GroupRow struct {
	RunID       string
	DisplayName string
	Identifiers string
	Status      string
	Reason      string
	Bezel       sql.NullFloat64
	Detail      string
}

// Ledger records completed runs in the shared SQLite database.
type Ledger struct {
	db          *sql.DB
	insertRun   *sql.Stmt
	insertGroup *sql.Stmt
	path        string
}

// Open resolves the ledger path from the environment and opens it.
func Open() (*Ledger, error) {
	path, err := ResolveDatabasePath()
	if err != nil {
		return nil, err
	}
	return OpenAt(path)
}

// OpenAt opens or creates the ledger database at path.
func OpenAt(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open ledger database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := ensureLedgerSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	insertRun, err := db.Prepare(insertRunSQL)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "storage: prepare run insert failed")
	}
	insertGroup, err := db.Prepare(insertGroupSQL)
	if err != nil {
		insertRun.Close()
		db.Close()
		return nil, errors.Wrap(err, "storage: prepare group insert failed")
	}
	return &Ledger{db: db, insertRun: insertRun, insertGroup: insertGroup, path: path}, nil
}

func ensureLedgerSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			groups_total INTEGER NOT NULL DEFAULT 0,
			groups_failed INTEGER NOT NULL DEFAULT 0,
			devices_total INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS run_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			identifiers TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			bezel REAL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_groups_run_id ON run_groups(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "storage: init ledger schema failed")
		}
	}
	return nil
}

// Path returns the database path the ledger was opened with.
func (l *Ledger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// RecordRun persists one run and its group outcomes in a single transaction.
func (l *Ledger) RecordRun(ctx context.Context, run RunRow, groups []GroupRow) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage: begin ledger transaction failed")
	}
	runArgs := []any{
		run.RunID,
		formatLedgerTime(run.StartedAt),
		formatLedgerTime(run.FinishedAt),
		run.DurationMS,
		run.Processed,
		run.Failed,
		run.Devices,
		run.Error,
	}
	log.Debug().Str("sql", formatSQLForLog(insertRunSQL, runArgs...)).Msg("storage: insert run")
	if _, err = tx.StmtContext(ctx, l.insertRun).ExecContext(ctx, runArgs...); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "storage: insert run %s failed", run.RunID)
	}
	for _, group := range groups {
		groupArgs := []any{
			group.RunID,
			group.DisplayName,
			group.Identifiers,
			group.Status,
			group.Reason,
			group.Bezel,
			group.Detail,
		}
		log.Debug().Str("sql", formatSQLForLog(insertGroupSQL, groupArgs...)).Msg("storage: insert group")
		if _, err = tx.StmtContext(ctx, l.insertGroup).ExecContext(ctx, groupArgs...); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "storage: insert group %s failed", group.DisplayName)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "storage: commit ledger transaction failed")
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `SELECT run_id, started_at, finished_at,
		duration_ms, groups_total, groups_failed, devices_total, error
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "storage: query recent runs failed")
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var run RunRow
		var started, finished string
		if err := rows.Scan(&run.RunID, &started, &finished,
			&run.DurationMS, &run.Processed, &run.Failed, &run.Devices, &run.Error); err != nil {
			return nil, errors.Wrap(err, "storage: scan run row failed")
		}
		run.StartedAt = parseLedgerTime(started)
		run.FinishedAt = parseLedgerTime(finished)
		out = append(out, run)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate runs failed")
}

// GroupsForRun returns the group outcomes of one run in insertion order.
func (l *Ledger) GroupsForRun(ctx context.Context, runID string) ([]GroupRow, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT run_id, display_name, identifiers,
		status, reason, bezel, detail
		FROM run_groups WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: query groups for run %s failed", runID)
	}
	defer rows.Close()

	var out []GroupRow
	for rows.Next() {
		var group GroupRow
		if err := rows.Scan(&group.RunID, &group.DisplayName, &group.Identifiers,
			&group.Status, &group.Reason, &group.Bezel, &group.Detail); err != nil {
			return nil, errors.Wrap(err, "storage: scan group row failed")
		}
		out = append(out, group)
	}
	return out, errors.Wrap(rows.Err(), "storage: iterate groups failed")
}

func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	if l.insertRun != nil {
		l.insertRun.Close()
	}
	if l.insertGroup != nil {
		l.insertGroup.Close()
	}
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func formatLedgerTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseLedgerTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
