package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteQueue struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteQueue opens (or creates) the queue in the given sqlite db file.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteQueue(filename string) (*SQLiteQueue, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS mutations (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			method TEXT NOT NULL,
			target TEXT NOT NULL,
			content_type TEXT,
			body BLOB,
			enqueued_at INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_attempt_at INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL DEFAULT 0,
			dead INTEGER NOT NULL DEFAULT 0
		)`,
		"CREATE INDEX IF NOT EXISTS dead_idx ON mutations (dead, seq)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init queue db: %w", err)
		}
	}
	return &SQLiteQueue{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, m Mutation) error {
	q.writeMutex.Lock()
	defer q.writeMutex.Unlock()
	_, err := q.db.ExecContext(ctx, `INSERT INTO mutations
		(id, method, target, content_type, body, enqueued_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Method, m.Target, m.ContentType, m.Body, toNanos(m.EnqueuedAt))
	return err
}

func (q *SQLiteQueue) List(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, false)
}

func (q *SQLiteQueue) DeadLetters(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, true)
}

const selectEntry = `SELECT seq, id, method, target, content_type, body, enqueued_at,
	attempts, last_error, last_attempt_at, next_attempt_at, dead FROM mutations`

func (q *SQLiteQueue) list(ctx context.Context, dead bool) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, selectEntry+" WHERE dead = ? ORDER BY seq", dead)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *SQLiteQueue) Remove(ctx context.Context, id string) error {
	q.writeMutex.Lock()
	defer q.writeMutex.Unlock()
	res, err := q.db.ExecContext(ctx, "DELETE FROM mutations WHERE id = ?", id)
	return affectedOne(res, err)
}

func (q *SQLiteQueue) RecordFailure(ctx context.Context, id string, at time.Time, reason string, next time.Time) (Entry, error) {
	q.writeMutex.Lock()
	defer q.writeMutex.Unlock()
	res, err := q.db.ExecContext(ctx, `UPDATE mutations SET
		attempts = attempts + 1, last_error = ?, last_attempt_at = ?, next_attempt_at = ?
		WHERE id = ?`, reason, toNanos(at), toNanos(next), id)
	if err := affectedOne(res, err); err != nil {
		return Entry{}, err
	}
	return scanEntry(q.db.QueryRowContext(ctx, selectEntry+" WHERE id = ?", id))
}

func (q *SQLiteQueue) DeadLetter(ctx context.Context, id string) error {
	q.writeMutex.Lock()
	defer q.writeMutex.Unlock()
	res, err := q.db.ExecContext(ctx, "UPDATE mutations SET dead = 1 WHERE id = ?", id)
	return affectedOne(res, err)
}

func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	var contentType sql.NullString
	var enqueued, lastAttempt, nextAttempt int64
	err := row.Scan(&e.Seq, &e.Mutation.ID, &e.Mutation.Method, &e.Mutation.Target,
		&contentType, &e.Mutation.Body, &enqueued,
		&e.Attempts, &e.LastError, &lastAttempt, &nextAttempt, &e.Dead)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	e.Mutation.ContentType = contentType.String
	e.Mutation.EnqueuedAt = fromNanos(enqueued)
	e.LastAttemptAt = fromNanos(lastAttempt)
	e.NextAttemptAt = fromNanos(nextAttempt)
	return e, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
