package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// IndexFileName is the SQLite result index inside the results directory.
const IndexFileName = "results.db"

// Index is a queryable SQLite copy of every recorded result.
type Index struct {
	db   *sql.DB
	path string
	mu   sync.Mutex // serializes writers; SQLite allows one at a time
}

var _ Recorder = (*Index)(nil)

// IndexPath returns the index location for a results directory.
func IndexPath(resultsDir string) string {
	return filepath.Join(resultsDir, IndexFileName)
}

// OpenIndex opens (or creates) the index database at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			file_name   TEXT    NOT NULL,
			stored_name TEXT    NOT NULL,
			line_count  INTEGER NOT NULL,
			word_count  INTEGER NOT NULL,
			char_count  INTEGER NOT NULL,
			size        INTEGER NOT NULL,
			digest      TEXT    NOT NULL,
			session     TEXT    NOT NULL,
			remote      TEXT    NOT NULL,
			analyzed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS results_analyzed_at ON results (analyzed_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Index{db: db, path: path}, nil
}

// Record inserts one row for e.
func (x *Index) Record(ctx context.Context, e Entry) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO results (file_name, stored_name, line_count, word_count, char_count,
			size, digest, session, remote, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Result.FileName, e.StoredName,
		e.Result.LineCount, e.Result.WordCount, e.Result.CharCount,
		e.Size, e.Digest, e.Session, e.Remote, e.Result.AnalyzedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("index %s: %w", e.Result.FileName, err)
	}
	return nil
}

// List returns up to limit results analyzed at or after since, oldest first.
// A limit of zero or less means no limit.
func (x *Index) List(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := x.db.QueryContext(ctx, `
		SELECT file_name, stored_name, line_count, word_count, char_count,
			size, digest, session, remote, analyzed_at
		FROM results WHERE analyzed_at >= ?
		ORDER BY analyzed_at, id LIMIT ?`,
		since.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		if err := rows.Scan(
			&e.Result.FileName, &e.StoredName,
			&e.Result.LineCount, &e.Result.WordCount, &e.Result.CharCount,
			&e.Size, &e.Digest, &e.Session, &e.Remote, &at,
		); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		e.Result.AnalyzedAt = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Count returns the number of indexed results.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM results").Scan(&n); err != nil {
		return 0, fmt.Errorf("count index: %w", err)
	}
	return n, nil
}

// Path returns the database file path.
func (x *Index) Path() string { return x.path }

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

// Summarize converts an indexed entry to the shape used by the result log,
// so callers can print both sources the same way.
func Summarize(e Entry) LogRecord {
	return LogRecord{
		Result:     e.Result,
		StoredName: e.StoredName,
		Size:       e.Size,
		Digest:     e.Digest,
		Session:    e.Session,
		Remote:     e.Remote,
	}
}
