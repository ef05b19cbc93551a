package messages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// appleEpochOffsetNanos is 2001-01-01T00:00:00Z in Unix nanoseconds.
const appleEpochOffsetNanos int64 = 978_307_200 * 1_000_000_000

// nanosecondDateThreshold separates second-resolution dates written by old
// clients from the nanosecond dates current clients write.
const nanosecondDateThreshold int64 = 1_000_000_000_000

const schema = `
CREATE TABLE IF NOT EXISTS handle (
    ROWID   INTEGER PRIMARY KEY AUTOINCREMENT,
    id      TEXT NOT NULL,
    service TEXT NOT NULL DEFAULT 'iMessage',
    UNIQUE (id, service)
);
CREATE TABLE IF NOT EXISTS message (
    ROWID      INTEGER PRIMARY KEY AUTOINCREMENT,
    guid       TEXT UNIQUE NOT NULL,
    text       TEXT,
    handle_id  INTEGER NOT NULL DEFAULT 0,
    date       INTEGER NOT NULL DEFAULT 0,
    is_from_me INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS message_date_idx ON message (date);
`

// SQLiteStore reads an iMessage-style chat database. The file is opened
// lazily on first use because it may not exist when the process starts.
type SQLiteStore struct {
	path     string
	writable bool

	mu sync.Mutex
	db *sql.DB
}

var (
	_ Store    = (*SQLiteStore)(nil)
	_ Appender = (*SQLiteStore)(nil)
)

// NewSQLiteStore builds a store for the database at path. A writable store
// creates the file and schema on first use and accepts Append.
func NewSQLiteStore(path string, writable bool) *SQLiteStore {
	return &SQLiteStore{path: filepath.Clean(path), writable: writable}
}

// Available reports whether the database exists or can be created.
func (s *SQLiteStore) Available(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if s.writable {
		return true
	}
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	var dsn string
	if s.writable {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		dsn = "file:" + s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	} else {
		if _, err := os.Stat(s.path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		dsn = "file:" + s.path + "?mode=ro&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite db: %v", ErrUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %v", ErrUnavailable, err)
	}
	if s.writable {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create message schema: %w", err)
		}
	}
	s.db = db
	return db, nil
}

// ReadRecent returns inbound messages newest first.
func (s *SQLiteStore) ReadRecent(ctx context.Context, limit, offset int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT COALESCE(h.id, ''), COALESCE(m.text, ''), m.date
        FROM message m
        LEFT JOIN handle h ON h.ROWID = m.handle_id
        WHERE m.is_from_me = 0
        ORDER BY m.date DESC, m.ROWID DESC
        LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var msg Message
		var date int64
		if err := rows.Scan(&msg.Identity, &msg.Text, &date); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Timestamp = AppleDateToUnixNano(date)
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// Append inserts an inbound message. Only writable stores accept it.
func (s *SQLiteStore) Append(ctx context.Context, msg Message) error {
	if !s.writable {
		return ErrReadOnly
	}
	if strings.TrimSpace(msg.Identity) == "" {
		return errors.New("identity is required")
	}
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO handle (id) VALUES (?)`, msg.Identity); err != nil {
		return fmt.Errorf("insert handle: %w", err)
	}
	var handleID int64
	if err := tx.QueryRowContext(ctx, `SELECT ROWID FROM handle WHERE id = ? AND service = 'iMessage'`, msg.Identity).Scan(&handleID); err != nil {
		return fmt.Errorf("lookup handle: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO message (guid, text, handle_id, date, is_from_me) VALUES (?, ?, ?, ?, 0)`,
		uuid.NewString(), msg.Text, handleID, UnixNanoToAppleDate(msg.Timestamp)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return tx.Commit()
}

// Close releases the database handle if it was opened.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// AppleDateToUnixNano converts a chat database date (nanoseconds, or seconds
// for old rows, since 2001-01-01 UTC) to Unix nanoseconds. Nanosecond dates
// keep their full resolution so messages arriving within the same
// millisecond stay distinct.
func AppleDateToUnixNano(date int64) int64 {
	if date == 0 {
		return 0
	}
	if date >= nanosecondDateThreshold || date <= -nanosecondDateThreshold {
		return date + appleEpochOffsetNanos
	}
	return date*1_000_000_000 + appleEpochOffsetNanos
}

// UnixNanoToAppleDate is the inverse of AppleDateToUnixNano for
// nanosecond-resolution dates.
func UnixNanoToAppleDate(ns int64) int64 {
	return ns - appleEpochOffsetNanos
}
