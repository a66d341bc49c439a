package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.
)

// DB wraps the shared sqlite handle used by the cache, quota and kv stores.
type DB struct {
	*sql.DB
	path string
}

// Options tunes the connection pool and sqlite pragmas.
type Options struct {
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// Open opens (or creates) the sqlite database at path.
// An in-memory database is pinned to a single connection so every caller sees the same schema.
func Open(path string, opts ...Options) (*DB, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	db, err := sql.Open("sqlite", dsn(path, o.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	maxOpen := o.MaxOpenConns
	if path == ":memory:" || maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return &DB{DB: db, path: path}, nil
}

// dsn carries the pragmas as _pragma parameters so the driver applies them
// to every pooled connection, not only the first.
func dsn(path string, busy time.Duration) string {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()),
		"foreign_keys(1)",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "journal_mode(WAL)", "synchronous(NORMAL)")
	}

	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	// Read-then-write transactions take the write lock up front so they wait
	// on busy_timeout instead of failing on upgrade.
	params = append(params, "_txlock=immediate")
	return path + "?" + strings.Join(params, "&")
}

// Path returns the filesystem path the database was opened with.
func (db *DB) Path() string {
	return db.path
}
