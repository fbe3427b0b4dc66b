// Package journal keeps a SQLite history of print jobs
package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/thereceipt/pos-hardware/internal/printer"
	_ "modernc.org/sqlite"
)

const jobsTable = "print_jobs"

// Journal records every print job status change, one row per job
type Journal struct {
	db     *sql.DB
	upsert *sql.Stmt
	path   string
}

// Record is a journal row
type Record struct {
	JobID     string
	Status    printer.JobStatus
	Size      int
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Open opens or creates the journal database at path. ":memory:" is accepted.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "journal: create dir for %s failed", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "journal: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(`INSERT INTO ` + jobsTable + ` (job_id, status, size, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status=excluded.status,
			size=excluded.size,
			error=excluded.error,
			updated_at=excluded.updated_at;`)
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "journal: prepare upsert failed")
	}
	return &Journal{db: db, upsert: stmt, path: path}, nil
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
			return errors.Wrapf(err, "journal: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + jobsTable + ` (
			job_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_print_jobs_status ON ` + jobsTable + `(status);`,
		`CREATE INDEX IF NOT EXISTS idx_print_jobs_created_at ON ` + jobsTable + `(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "journal: prepare schema failed")
		}
	}
	return nil
}

// RecordJob stores the job's latest status
func (j *Journal) RecordJob(job printer.Job) error {
	_, err := j.upsert.Exec(
		job.ID,
		string(job.Status),
		job.Size,
		nullString(job.Error),
		job.CreatedAt.UnixMilli(),
		job.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "journal: record job %s failed", job.ID)
	}
	return nil
}

// Recent returns up to limit jobs, newest first
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `SELECT job_id, status, size, error, created_at, updated_at
		FROM `+jobsTable+` ORDER BY created_at DESC, job_id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "journal: query recent jobs failed")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r         Record
			status    string
			errText   sql.NullString
			createdMs int64
			updatedMs int64
		)
		if err := rows.Scan(&r.JobID, &status, &r.Size, &errText, &createdMs, &updatedMs); err != nil {
			return nil, errors.Wrap(err, "journal: scan job row failed")
		}
		r.Status = printer.JobStatus(status)
		r.Error = errText.String
		r.CreatedAt = time.UnixMilli(createdMs)
		r.UpdatedAt = time.UnixMilli(updatedMs)
		records = append(records, r)
	}
	return records, errors.Wrap(rows.Err(), "journal: iterate job rows failed")
}

// Counts returns the number of jobs per status
func (j *Journal) Counts(ctx context.Context) (map[printer.JobStatus]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+jobsTable+` GROUP BY status;`)
	if err != nil {
		return nil, errors.Wrap(err, "journal: count jobs failed")
	}
	defer rows.Close()

	counts := make(map[printer.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "journal: scan count row failed")
		}
		counts[printer.JobStatus(status)] = n
	}
	return counts, errors.Wrap(rows.Err(), "journal: iterate count rows failed")
}

// Prune deletes finished jobs last updated before cutoff
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx, `DELETE FROM `+jobsTable+` WHERE status IN (?, ?) AND updated_at < ?;`,
		string(printer.JobCompleted), string(printer.JobFailed), cutoff.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "journal: prune jobs failed")
	}
	return res.RowsAffected()
}

// Path is the database location
func (j *Journal) Path() string {
	return j.path
}

// Close releases the database
func (j *Journal) Close() error {
	if j.upsert != nil {
		j.upsert.Close()
	}
	return j.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
