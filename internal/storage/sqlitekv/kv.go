// Package sqlitekv implements the general on-device storage.Store on a single
// SQLite key/value table.
package sqlitekv

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/and161185/fitpanda/internal/errs"
	"github.com/and161185/fitpanda/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
  key        TEXT PRIMARY KEY,
  value      BLOB NOT NULL,
  updated_at INTEGER NOT NULL
)`

// KV is a SQLite-backed storage.Store.
type KV struct {
	pool *sqlitex.Pool
	path string
	log  *zap.Logger
}

var _ storage.Store = (*KV)(nil)

// Open opens (or creates) the database at path and ensures the kv table exists.
func Open(ctx context.Context, path string, log *zap.Logger) (*KV, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errs.Validation("sqlite: empty path")
	}
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    2,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	kv := &KV{pool: pool, path: path, log: log}

	conn, err := pool.Take(ctx)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	err = sqlitex.ExecuteTransient(conn, schema, nil)
	pool.Put(conn)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}
	log.Info("kv store opened", zap.String("path", path))
	return kv, nil
}

// Close releases the connection pool.
func (s *KV) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlite: close %s: %w", s.path, err)
	}
	return nil
}

// Get returns the value stored under key or errs.ErrNotFound.
func (s *KV) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	var (
		out   []byte
		found bool
	)
	err = sqlitex.Execute(conn, `SELECT value FROM kv WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			out = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, out)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %q: %w", key, err)
	}
	if !found {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

// Set upserts the value stored under key.
func (s *KV) Set(ctx context.Context, key string, value []byte) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	if value == nil {
		value = []byte{}
	}
	const q = `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	err = sqlitex.Execute(conn, q, &sqlitex.ExecOptions{
		Args: []any{key, value, time.Now().UnixMilli()},
	})
	if err != nil {
		return fmt.Errorf("sqlite: set %q: %w", key, err)
	}
	return nil
}

// Delete removes key; a missing key is not an error.
func (s *KV) Delete(ctx context.Context, key string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, `DELETE FROM kv WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
	}); err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", key, err)
	}
	return nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}
