package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Compile-time interface check.
var _ KV = (*SQLiteKV)(nil)

// SQLiteKV implements KV over a single-table sqlite database, giving callers
// a durable, file-backed blob store without cgo.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (creating if needed) the sqlite database at dbPath and
// initializes its schema.
func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	const op = "store.NewSQLiteKV"
	if dbPath == "" {
		return nil, fmt.Errorf("%s: db path is empty: %w", op, ErrInvalidParameter)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open database: %w", op, err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			key    TEXT PRIMARY KEY,
			value  BLOB NOT NULL
		);`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: failed to init 'blobs' table schema: %w", op, err)
	}

	return &SQLiteKV{db: db}, nil
}

// Put stores value under key, replacing any existing value.
func (s *SQLiteKV) Put(ctx context.Context, key string, value []byte) error {
	const op = "store.(SQLiteKV).Put"
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, value) VALUES (?1, ?2)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value;`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("%s: couldn't insert into blobs: %w", op, err)
	}
	return nil
}

// Get retrieves the value stored under key.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	const op = "store.(SQLiteKV).Get"
	row := s.db.QueryRowContext(ctx, `
		SELECT value FROM blobs WHERE key=?1;`,
		key,
	)

	var value []byte
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %q: %w", op, key, ErrKeyNotFound)
		}
		return nil, fmt.Errorf("%s: couldn't scan blob: %w", op, err)
	}
	return value, nil
}

// Delete removes key.
func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	const op = "store.(SQLiteKV).Delete"
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM blobs WHERE key=?1;`,
		key,
	); err != nil {
		return fmt.Errorf("%s: couldn't delete from blobs: %w", op, err)
	}
	return nil
}

// ListKeys returns every stored key.
func (s *SQLiteKV) ListKeys(ctx context.Context) ([]string, error) {
	const op = "store.(SQLiteKV).ListKeys"
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM blobs;`)
	if err != nil {
		return nil, fmt.Errorf("%s: couldn't query blobs: %w", op, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%s: couldn't scan key: %w", op, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
