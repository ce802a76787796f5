package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// KVMap is a named, persisted string-keyed map, used for per-validator and
// per-outpoint bookkeeping (signatory declarations, outpoint reservations,
// sig-key lookups by sigset index).
type KVMap interface {
	Load(ctx context.Context, key string, out any) (bool, error)
	Save(ctx context.Context, key string, v any) error
	Remove(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Range(ctx context.Context, fn func(key string, raw []byte) error) error
}

type sqlMap struct {
	name string
	q    querier
}

func (m *sqlMap) Load(ctx context.Context, key string, out any) (bool, error) {
	var raw []byte
	err := m.q.QueryRowContext(ctx,
		"SELECT value FROM kv_maps WHERE name = ? AND key = ?", m.name, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("map %q load %q: %w", m.name, key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("map %q unmarshal %q: %w", m.name, key, err)
	}
	return true, nil
}

func (m *sqlMap) Save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("map %q marshal %q: %w", m.name, key, err)
	}
	_, err = m.q.ExecContext(ctx,
		`INSERT INTO kv_maps (name, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(name, key) DO UPDATE SET value = excluded.value`,
		m.name, key, raw)
	if err != nil {
		return fmt.Errorf("map %q save %q: %w", m.name, key, err)
	}
	return nil
}

func (m *sqlMap) Remove(ctx context.Context, key string) error {
	if _, err := m.q.ExecContext(ctx,
		"DELETE FROM kv_maps WHERE name = ? AND key = ?", m.name, key); err != nil {
		return fmt.Errorf("map %q remove %q: %w", m.name, key, err)
	}
	return nil
}

func (m *sqlMap) Has(ctx context.Context, key string) (bool, error) {
	var count int
	err := m.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM kv_maps WHERE name = ? AND key = ?", m.name, key,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("map %q has %q: %w", m.name, key, err)
	}
	return count > 0, nil
}

func (m *sqlMap) Range(ctx context.Context, fn func(key string, raw []byte) error) error {
	rows, err := m.q.QueryContext(ctx, "SELECT key, value FROM kv_maps WHERE name = ?", m.name)
	if err != nil {
		return fmt.Errorf("map %q range: %w", m.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return fmt.Errorf("map %q range scan: %w", m.name, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	return rows.Err()
}
