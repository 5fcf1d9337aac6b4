// Package database is the versioned SQLite store of motions, their content
// history and the review log.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps a SQLite database connection.
type DB struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time

	locksMu sync.Mutex
	locks   map[string]*motionLock
}

// motionLock is dropped from DB.locks once no writer holds or waits on it.
type motionLock struct {
	sync.Mutex
	refs int
}

// Option configures Open.
type Option func(*DB)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.logger = l.Named("store")
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string, opts ...Option) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer; also keeps PRAGMAs applied to the only connection.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	db := &DB{
		conn:   conn,
		path:   dbPath,
		logger: zap.NewNop(),
		now:    time.Now,
		locks:  make(map[string]*motionLock),
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := migrate(context.Background(), conn, db.logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// lockMotion serializes writers of one motion id.
func (db *DB) lockMotion(id string) func() {
	db.locksMu.Lock()
	l, ok := db.locks[id]
	if !ok {
		l = &motionLock{}
		db.locks[id] = l
	}
	l.refs++
	db.locksMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		db.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(db.locks, id)
		}
		db.locksMu.Unlock()
	}
}

func (db *DB) stamp() string {
	return formatTime(db.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
