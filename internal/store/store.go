// Package store owns the embedded DuckDB analytical store. Every
// rebuild writes a brand-new generation file; the CURRENT pointer is
// flipped atomically only after the whole build succeeds, so readers
// always see a fully consistent generation.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/openmetro/tripwarehouse/internal/config"
	"github.com/openmetro/tripwarehouse/internal/logging"
)

// DB wraps a DuckDB connection to one generation file.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (or opens) a generation file for writing, applying the
// DuckDB tuning options from configuration. preserve_insertion_order is
// disabled for faster bulk loads; row order inside the store carries no
// meaning, trip_id does.
func Open(cfg config.StoreConfig, path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", dir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=false",
		path, cfg.Threads, cfg.MemoryLimit)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping store %s: %w", path, err)
	}

	logging.Component("store").Debug("opened generation store",
		"path", path,
		"threads", cfg.Threads,
		"memory_limit", cfg.MemoryLimit,
	)
	return &DB{conn: conn, path: path}, nil
}

// OpenReadOnly opens an existing generation file for querying. This is
// the access mode the Query Service holds.
func OpenReadOnly(path string) (*DB, error) {
	conn, err := sql.Open("duckdb", path+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open store read-only %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping store %s: %w", path, err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenMemory opens an in-memory store. Used by tests.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	return &DB{conn: conn, path: ":memory:"}, nil
}

// Path returns the generation file path.
func (db *DB) Path() string {
	return db.path
}

// Conn exposes the underlying connection for package-internal SQL.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Exec runs one statement.
func (db *DB) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	return nil
}

// QueryInt64 runs a query returning a single integer value.
func (db *DB) QueryInt64(ctx context.Context, query string, args ...any) (int64, error) {
	var v sql.NullInt64
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return 0, fmt.Errorf("query %q: %w", query, err)
	}
	return v.Int64, nil
}

// Close closes the connection. A generation file becomes visible to
// readers only via the manager's Publish, never by Close.
func (db *DB) Close() error {
	return db.conn.Close()
}
