// Package remote provides a SQLite-backed implementation of the remote
// store boundary.
//
// The backend runs in embedded mode with WAL, the same way a hosted libSQL
// endpoint would be addressed, so a shared file (or a future network DSN)
// can stand in for the cloud backend without changing the sync engine.
// Blocks are stored one row per block with a position column so FetchAll
// returns display order; the property list is an opaque JSON value to the
// store, understood only by the block package.
//
// All writes are unconditional overwrites keyed by id. There is no
// compare-and-swap or version check; conflict policy is last-write-wins.
package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blockflow/blockflow/internal/block"
	"github.com/blockflow/blockflow/internal/sync"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store implements sync.RemoteStore against a SQLite database.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the remote block database at the specified path.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open remote database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping remote database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the blocks table if it doesn't exist. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		indent INTEGER NOT NULL DEFAULT 0,
		is_collapsed INTEGER NOT NULL DEFAULT 0,
		is_pinned INTEGER NOT NULL DEFAULT 0,
		board_column TEXT NOT NULL DEFAULT 'inbox',
		properties TEXT,  -- opaque JSON, owned by the block package
		position INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_blocks_position ON blocks(position);
	CREATE INDEX IF NOT EXISTS idx_blocks_column ON blocks(board_column);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize remote schema: %w", err)
	}
	return nil
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close remote database: %w", err)
	}

	s.conn = nil
	return nil
}

// Probe implements sync.RemoteStore with a connection ping.
func (s *Store) Probe(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("remote unreachable: %w", err)
	}
	return nil
}

// FetchAll returns the full remote working set in display order.
func (s *Store) FetchAll(ctx context.Context) ([]*block.Block, error) {
	query := `
	SELECT id, name, content, indent, is_collapsed, is_pinned, board_column,
	       properties, created_at, updated_at, is_deleted, deleted_at
	FROM blocks
	ORDER BY position ASC, created_at ASC
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blocks: %w", err)
	}
	defer rows.Close()

	return scanBlocks(rows)
}

// UpsertBatch inserts or overwrites the given records in one transaction,
// keyed by block id.
func (s *Store) UpsertBatch(ctx context.Context, records []sync.Record) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO blocks (
		id, name, content, indent, is_collapsed, is_pinned, board_column,
		properties, position, created_at, updated_at, is_deleted, deleted_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		content = excluded.content,
		indent = excluded.indent,
		is_collapsed = excluded.is_collapsed,
		is_pinned = excluded.is_pinned,
		board_column = excluded.board_column,
		properties = excluded.properties,
		position = excluded.position,
		updated_at = excluded.updated_at,
		is_deleted = excluded.is_deleted,
		deleted_at = excluded.deleted_at
	`

	for _, rec := range records {
		b := rec.Block
		if err := b.Validate(); err != nil {
			return fmt.Errorf("invalid block %s: %w", b.ID, err)
		}

		props, err := encodeProperties(b.Properties)
		if err != nil {
			return fmt.Errorf("failed to encode properties of %s: %w", b.ID, err)
		}

		_, err = tx.ExecContext(ctx, query,
			b.ID,
			b.Name,
			b.Content,
			b.Indent,
			boolToInt(b.IsCollapsed),
			boolToInt(b.IsPinned),
			string(b.Column),
			props,
			rec.Position,
			b.CreatedAt.Format(time.RFC3339Nano),
			b.UpdatedAt.Format(time.RFC3339Nano),
			boolToInt(b.IsDeleted),
			timeToNullString(b.DeletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert block %s: %w", b.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert batch: %w", err)
	}
	return nil
}

// DeleteBatch removes the blocks with the given ids in one transaction.
// Unknown ids are ignored (idempotent).
func (s *Store) DeleteBatch(ctx context.Context, ids []string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM blocks WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete block %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete batch: %w", err)
	}
	return nil
}

// Count returns the total number of blocks in the remote store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM blocks").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return count, nil
}

// scanBlocks scans query rows back into block values.
func scanBlocks(rows *sql.Rows) ([]*block.Block, error) {
	var blocks []*block.Block

	for rows.Next() {
		var b block.Block
		var isCollapsed, isPinned, isDeleted int
		var column string
		var props sql.NullString
		var createdAt, updatedAt string
		var deletedAt sql.NullString

		err := rows.Scan(
			&b.ID,
			&b.Name,
			&b.Content,
			&b.Indent,
			&isCollapsed,
			&isPinned,
			&column,
			&props,
			&createdAt,
			&updatedAt,
			&isDeleted,
			&deletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}

		b.IsCollapsed = isCollapsed != 0
		b.IsPinned = isPinned != 0
		b.IsDeleted = isDeleted != 0
		b.Column = block.Column(column)

		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			b.CreatedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			b.UpdatedAt = t
		}
		b.DeletedAt = nullStringToTime(deletedAt)

		if props.Valid && props.String != "" && props.String != "null" {
			properties, err := decodeProperties(props.String)
			if err != nil {
				return nil, fmt.Errorf("failed to decode properties of %s: %w", b.ID, err)
			}
			b.Properties = properties
		}

		blocks = append(blocks, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocks: %w", err)
	}

	return blocks, nil
}

// encodeProperties serializes a property list for storage. Empty lists are
// stored as NULL.
func encodeProperties(props []block.Property) (sql.NullString, error) {
	if len(props) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// decodeProperties parses a stored property list.
func decodeProperties(raw string) ([]block.Property, error) {
	var props []block.Property
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, err
	}
	return props, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
