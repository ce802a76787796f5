// Package storage provides the key-value/deque/map persistence abstraction
// the bridge façade is built on. A single SQLite database backs three
// namespaces: singleton values, named deques, and named maps, mirroring the
// "Storage abstraction" the core logic is specified against.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store is the persistence surface the bridge façade and its components are
// written against. A *DB satisfies it directly (auto-commit); a *Tx
// satisfies it for the duration of one façade call.
type Store interface {
	Load(ctx context.Context, key string, out any) (bool, error)
	Save(ctx context.Context, key string, v any) error
	Remove(ctx context.Context, key string) error
	Deque(name string) Deque
	Map(name string) KVMap
}

// DB wraps the sql.DB connection and exposes the Store surface directly,
// each call auto-committing. Use Begin to batch several calls atomically.
type DB struct {
	conn *sql.DB
	path string
}

// New opens a SQLite database at path with WAL mode and a busy timeout,
// creating its directory and schema if necessary.
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %q: %w", dir, err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage %q: %w", path, err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping storage: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate storage schema: %w", err)
	}

	return db, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	slog.Info("closing storage", "path", d.path)
	return d.conn.Close()
}

func (d *DB) migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := d.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Begin starts a single SQL transaction spanning a façade call; every
// read/write issued through the returned *Tx commits or rolls back together.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	sqlTx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin storage transaction: %w", err)
	}
	return &Tx{tx: sqlTx}, nil
}

func (d *DB) Load(ctx context.Context, key string, out any) (bool, error) {
	return loadSingleton(ctx, d.conn, key, out)
}

func (d *DB) Save(ctx context.Context, key string, v any) error {
	return saveSingleton(ctx, d.conn, key, v)
}

func (d *DB) Remove(ctx context.Context, key string) error {
	return removeSingleton(ctx, d.conn, key)
}

func (d *DB) Deque(name string) Deque {
	return &sqlDeque{name: name, q: d.conn}
}

func (d *DB) Map(name string) KVMap {
	return &sqlMap{name: name, q: d.conn}
}

// Tx is a Store bound to one in-flight SQL transaction. Obtain one via
// DB.Begin, issue façade-level reads/writes through it, then Commit or
// Rollback.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

func (t *Tx) Load(ctx context.Context, key string, out any) (bool, error) {
	return loadSingleton(ctx, t.tx, key, out)
}

func (t *Tx) Save(ctx context.Context, key string, v any) error {
	return saveSingleton(ctx, t.tx, key, v)
}

func (t *Tx) Remove(ctx context.Context, key string) error {
	return removeSingleton(ctx, t.tx, key)
}

func (t *Tx) Deque(name string) Deque {
	return &sqlDeque{name: name, q: t.tx}
}

func (t *Tx) Map(name string) KVMap {
	return &sqlMap{name: name, q: t.tx}
}

// querier is the subset of *sql.DB / *sql.Tx the namespace implementations
// need, letting DB and Tx share one code path.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadSingleton(ctx context.Context, q querier, key string, out any) (bool, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, "SELECT value FROM kv_singletons WHERE key = ?", key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return true, nil
}

func saveSingleton(ctx context.Context, q querier, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO kv_singletons (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, raw)
	if err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}

func removeSingleton(ctx context.Context, q querier, key string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM kv_singletons WHERE key = ?", key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS kv_singletons (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS kv_deque_meta (
		name TEXT PRIMARY KEY,
		head INTEGER NOT NULL DEFAULT 0,
		len  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS kv_deque_items (
		name  TEXT NOT NULL,
		idx   INTEGER NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (name, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS kv_maps (
		name  TEXT NOT NULL,
		key   TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (name, key)
	)`,
}
