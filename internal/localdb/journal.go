package localdb

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quantarax/netchunk/internal/ncerrors"
)

// Journal is a SQLite-backed audit trail of upload/download/delete/
// verify runs, one entry per completed operation, read back by the
// `health` verb to report recent activity. It is not
// authoritative: losing the journal loses history, never correctness.
// Operations are recorded in a single append-only `operations` table.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenJournal opens (creating if needed) a SQLite-backed journal at
// path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "open operation journal", err)
	}
	db.SetMaxOpenConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			verb TEXT NOT NULL,
			remote_name TEXT NOT NULL,
			success INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			recorded_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_operations_recorded_at ON operations(recorded_at);
		CREATE INDEX IF NOT EXISTS idx_operations_remote_name ON operations(remote_name);
	`
	if _, err := j.db.Exec(schema); err != nil {
		return ncerrors.Wrap(ncerrors.Io, "initialize operation journal schema", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (j *Journal) Close() error { return j.db.Close() }

// Ping confirms the underlying SQLite connection is still live, for
// the `health` verb's readiness check.
func (j *Journal) Ping(ctx context.Context) error {
	return j.db.PingContext(ctx)
}

// RecordOperation satisfies internal/engine's Journal interface. It is
// deliberately best-effort: a failure to write the journal must never
// fail the upload/download/delete/verify call it is recording, so
// errors are swallowed after logging is the caller's job, not this
// method's — callers that care can use Record directly instead.
func (j *Journal) RecordOperation(ctx context.Context, verb, remoteName string, success bool, duration time.Duration) {
	_ = j.Record(ctx, verb, remoteName, success, duration)
}

// Record is the non-swallowing form of RecordOperation, for callers
// (such as tests) that want to know whether the write
// succeeded.
func (j *Journal) Record(ctx context.Context, verb, remoteName string, success bool, duration time.Duration) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	successInt := 0
	if success {
		successInt = 1
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO operations (verb, remote_name, success, duration_ms, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		verb, remoteName, successInt, duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return ncerrors.Wrap(ncerrors.Io, "record operation journal entry", err)
	}
	return nil
}

// Entry is one journaled operation.
type Entry struct {
	Verb       string
	RemoteName string
	Success    bool
	Duration   time.Duration
	RecordedAt time.Time
}

// Recent returns the most recent n journal entries, newest first, used
// by the `health` verb's activity report.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT verb, remote_name, success, duration_ms, recorded_at FROM operations ORDER BY recorded_at DESC, id DESC LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "query recent operation journal entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			successInt int
			durationMs int64
		)
		if err := rows.Scan(&e.Verb, &e.RemoteName, &successInt, &durationMs, &e.RecordedAt); err != nil {
			return nil, ncerrors.Wrap(ncerrors.Io, "scan operation journal entry", err)
		}
		e.Success = successInt != 0
		e.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ncerrors.Wrap(ncerrors.Io, "iterate operation journal entries", err)
	}
	return out, nil
}
