// Package cache provides the local durable snapshot store.
//
// The cache is a small embedded SQLite database holding a single row: the
// entire working set serialized as one blob. It is written on every sync
// tick and read back on startup, which is what powers offline and restart
// recovery.
package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// snapshotKey is the single key under which the working set is stored.
const snapshotKey = "blocks"

// Cache wraps the SQLite connection for the local snapshot store.
type Cache struct {
	conn *sql.DB
	path string
}

// Open creates or opens the snapshot database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// The caller MUST call Close() when done.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	c := &Cache{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := c.conn.Exec(pragma); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		saved_at TEXT NOT NULL
	);
	`
	if _, err := c.conn.Exec(schema); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	return c, nil
}

// Close closes the database connection after a WAL checkpoint.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}

	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}

	c.conn = nil
	return nil
}

// Get returns the stored working-set blob, or (nil, nil) when no snapshot
// has been written yet.
func (c *Cache) Get() ([]byte, error) {
	var data []byte
	err := c.conn.QueryRow(
		"SELECT data FROM snapshots WHERE key = ?", snapshotKey,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Set overwrites the stored working-set blob.
func (c *Cache) Set(blob []byte) error {
	query := `
	INSERT INTO snapshots (key, data, saved_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		data = excluded.data,
		saved_at = excluded.saved_at
	`
	_, err := c.conn.Exec(query, snapshotKey, blob, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SavedAt returns when the snapshot was last written, or the zero time when
// no snapshot exists.
func (c *Cache) SavedAt() (time.Time, error) {
	var savedAt string
	err := c.conn.QueryRow(
		"SELECT saved_at FROM snapshots WHERE key = ?", snapshotKey,
	).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read snapshot time: %w", err)
	}

	t, err := time.Parse(time.RFC3339, savedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse snapshot time: %w", err)
	}
	return t, nil
}
