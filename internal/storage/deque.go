package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Deque is an ordered sequence persisted over the key-value store. Indexed
// access (Get/Set) is 0-based from the front; callers that need to map a
// monotonic logical index (e.g. a checkpoint's position in the overall
// numbering) onto this 0-based space do the translation themselves.
type Deque interface {
	Len(ctx context.Context) (int, error)
	Front(ctx context.Context, out any) (bool, error)
	Back(ctx context.Context, out any) (bool, error)
	PushFront(ctx context.Context, v any) error
	PushBack(ctx context.Context, v any) error
	PopFront(ctx context.Context, out any) error
	PopBack(ctx context.Context, out any) error
	Get(ctx context.Context, i int, out any) (bool, error)
	Set(ctx context.Context, i int, v any) error
}

type sqlDeque struct {
	name string
	q    querier
}

type dequeMeta struct {
	head int64
	len  int64
}

func (d *sqlDeque) meta(ctx context.Context) (dequeMeta, error) {
	var m dequeMeta
	err := d.q.QueryRowContext(ctx,
		"SELECT head, len FROM kv_deque_meta WHERE name = ?", d.name,
	).Scan(&m.head, &m.len)
	if err == sql.ErrNoRows {
		return dequeMeta{}, nil
	}
	if err != nil {
		return dequeMeta{}, fmt.Errorf("deque %q meta: %w", d.name, err)
	}
	return m, nil
}

func (d *sqlDeque) saveMeta(ctx context.Context, m dequeMeta) error {
	_, err := d.q.ExecContext(ctx,
		`INSERT INTO kv_deque_meta (name, head, len) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET head = excluded.head, len = excluded.len`,
		d.name, m.head, m.len)
	if err != nil {
		return fmt.Errorf("deque %q save meta: %w", d.name, err)
	}
	return nil
}

func (d *sqlDeque) Len(ctx context.Context) (int, error) {
	m, err := d.meta(ctx)
	if err != nil {
		return 0, err
	}
	return int(m.len), nil
}

func (d *sqlDeque) itemAt(ctx context.Context, idx int64, out any) (bool, error) {
	var raw []byte
	err := d.q.QueryRowContext(ctx,
		"SELECT value FROM kv_deque_items WHERE name = ? AND idx = ?", d.name, idx,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("deque %q item %d: %w", d.name, idx, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("deque %q item %d unmarshal: %w", d.name, idx, err)
	}
	return true, nil
}

func (d *sqlDeque) Front(ctx context.Context, out any) (bool, error) {
	m, err := d.meta(ctx)
	if err != nil || m.len == 0 {
		return false, err
	}
	return d.itemAt(ctx, m.head, out)
}

func (d *sqlDeque) Back(ctx context.Context, out any) (bool, error) {
	m, err := d.meta(ctx)
	if err != nil || m.len == 0 {
		return false, err
	}
	return d.itemAt(ctx, m.head+m.len-1, out)
}

func (d *sqlDeque) PushFront(ctx context.Context, v any) error {
	m, err := d.meta(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("deque %q push_front marshal: %w", d.name, err)
	}
	newHead := m.head - 1
	if _, err := d.q.ExecContext(ctx,
		"INSERT INTO kv_deque_items (name, idx, value) VALUES (?, ?, ?)",
		d.name, newHead, raw); err != nil {
		return fmt.Errorf("deque %q push_front: %w", d.name, err)
	}
	return d.saveMeta(ctx, dequeMeta{head: newHead, len: m.len + 1})
}

func (d *sqlDeque) PushBack(ctx context.Context, v any) error {
	m, err := d.meta(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("deque %q push_back marshal: %w", d.name, err)
	}
	tailIdx := m.head + m.len
	if _, err := d.q.ExecContext(ctx,
		"INSERT INTO kv_deque_items (name, idx, value) VALUES (?, ?, ?)",
		d.name, tailIdx, raw); err != nil {
		return fmt.Errorf("deque %q push_back: %w", d.name, err)
	}
	return d.saveMeta(ctx, dequeMeta{head: m.head, len: m.len + 1})
}

func (d *sqlDeque) PopFront(ctx context.Context, out any) error {
	m, err := d.meta(ctx)
	if err != nil {
		return err
	}
	if m.len == 0 {
		return fmt.Errorf("deque %q pop_front: empty", d.name)
	}
	if out != nil {
		if _, err := d.itemAt(ctx, m.head, out); err != nil {
			return err
		}
	}
	if _, err := d.q.ExecContext(ctx,
		"DELETE FROM kv_deque_items WHERE name = ? AND idx = ?", d.name, m.head); err != nil {
		return fmt.Errorf("deque %q pop_front: %w", d.name, err)
	}
	return d.saveMeta(ctx, dequeMeta{head: m.head + 1, len: m.len - 1})
}

func (d *sqlDeque) PopBack(ctx context.Context, out any) error {
	m, err := d.meta(ctx)
	if err != nil {
		return err
	}
	if m.len == 0 {
		return fmt.Errorf("deque %q pop_back: empty", d.name)
	}
	tailIdx := m.head + m.len - 1
	if out != nil {
		if _, err := d.itemAt(ctx, tailIdx, out); err != nil {
			return err
		}
	}
	if _, err := d.q.ExecContext(ctx,
		"DELETE FROM kv_deque_items WHERE name = ? AND idx = ?", d.name, tailIdx); err != nil {
		return fmt.Errorf("deque %q pop_back: %w", d.name, err)
	}
	return d.saveMeta(ctx, dequeMeta{head: m.head, len: m.len - 1})
}

func (d *sqlDeque) Get(ctx context.Context, i int, out any) (bool, error) {
	m, err := d.meta(ctx)
	if err != nil {
		return false, err
	}
	if i < 0 || int64(i) >= m.len {
		return false, nil
	}
	return d.itemAt(ctx, m.head+int64(i), out)
}

func (d *sqlDeque) Set(ctx context.Context, i int, v any) error {
	m, err := d.meta(ctx)
	if err != nil {
		return err
	}
	if i < 0 || int64(i) >= m.len {
		return fmt.Errorf("deque %q set: index %d out of range (len %d)", d.name, i, m.len)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("deque %q set marshal: %w", d.name, err)
	}
	if _, err := d.q.ExecContext(ctx,
		"UPDATE kv_deque_items SET value = ? WHERE name = ? AND idx = ?",
		raw, d.name, m.head+int64(i)); err != nil {
		return fmt.Errorf("deque %q set: %w", d.name, err)
	}
	return nil
}
