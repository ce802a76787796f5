package storage

import (
	"context"
	"path/filepath"
	"testing"
)

type testCheckpoint struct {
	Status string `json:"status"`
	Index  int    `json:"index"`
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDeque_EmptyState(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	l, err := q.Len(ctx)
	if err != nil || l != 0 {
		t.Fatalf("Len() = %d, %v, want 0, nil", l, err)
	}

	var out testCheckpoint
	if ok, err := q.Front(ctx, &out); ok || err != nil {
		t.Fatalf("Front() = %v, %v, want false, nil", ok, err)
	}
	if ok, err := q.Back(ctx, &out); ok || err != nil {
		t.Fatalf("Back() = %v, %v, want false, nil", ok, err)
	}
}

func TestDeque_PushBackAndIndexedAccess(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	for i := 0; i < 5; i++ {
		if err := q.PushBack(ctx, testCheckpoint{Status: "building", Index: i}); err != nil {
			t.Fatalf("PushBack(%d) error = %v", i, err)
		}
	}

	l, _ := q.Len(ctx)
	if l != 5 {
		t.Fatalf("Len() = %d, want 5", l)
	}

	for i := 0; i < 5; i++ {
		var out testCheckpoint
		ok, err := q.Get(ctx, i, &out)
		if err != nil || !ok {
			t.Fatalf("Get(%d) = %v, %v, want true, nil", i, ok, err)
		}
		if out.Index != i {
			t.Errorf("Get(%d).Index = %d, want %d", i, out.Index, i)
		}
	}

	var front, back testCheckpoint
	q.Front(ctx, &front)
	q.Back(ctx, &back)
	if front.Index != 0 || back.Index != 4 {
		t.Errorf("Front/Back = %d/%d, want 0/4", front.Index, back.Index)
	}
}

func TestDeque_PushFrontPreservesOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	if err := q.PushFront(ctx, testCheckpoint{Index: 2}); err != nil {
		t.Fatal(err)
	}
	if err := q.PushFront(ctx, testCheckpoint{Index: 1}); err != nil {
		t.Fatal(err)
	}
	if err := q.PushFront(ctx, testCheckpoint{Index: 0}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		var out testCheckpoint
		q.Get(ctx, i, &out)
		if out.Index != i {
			t.Errorf("Get(%d).Index = %d, want %d", i, out.Index, i)
		}
	}
}

func TestDeque_PopFrontAndPopBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	for i := 0; i < 3; i++ {
		q.PushBack(ctx, testCheckpoint{Index: i})
	}

	var front testCheckpoint
	if err := q.PopFront(ctx, &front); err != nil {
		t.Fatalf("PopFront() error = %v", err)
	}
	if front.Index != 0 {
		t.Errorf("PopFront() = %d, want 0", front.Index)
	}

	var back testCheckpoint
	if err := q.PopBack(ctx, &back); err != nil {
		t.Fatalf("PopBack() error = %v", err)
	}
	if back.Index != 2 {
		t.Errorf("PopBack() = %d, want 2", back.Index)
	}

	l, _ := q.Len(ctx)
	if l != 1 {
		t.Fatalf("Len() = %d, want 1", l)
	}

	var remaining testCheckpoint
	q.Get(ctx, 0, &remaining)
	if remaining.Index != 1 {
		t.Errorf("remaining element = %d, want 1", remaining.Index)
	}
}

func TestDeque_PopEmptyErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	var out testCheckpoint
	if err := q.PopFront(ctx, &out); err == nil {
		t.Error("expected error popping from empty deque")
	}
	if err := q.PopBack(ctx, &out); err == nil {
		t.Error("expected error popping from empty deque")
	}
}

func TestDeque_Set(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	q.PushBack(ctx, testCheckpoint{Status: "building", Index: 0})
	q.PushBack(ctx, testCheckpoint{Status: "building", Index: 1})

	if err := q.Set(ctx, 1, testCheckpoint{Status: "signing", Index: 1}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var out testCheckpoint
	q.Get(ctx, 1, &out)
	if out.Status != "signing" {
		t.Errorf("Set() did not persist, got status %q", out.Status)
	}
}

func TestDeque_SetOutOfRangeErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	if err := q.Set(ctx, 0, testCheckpoint{}); err == nil {
		t.Error("expected error setting index on empty deque")
	}
}

func TestDeque_MixedFrontBackAfterPops(t *testing.T) {
	// Regression guard for the logical->physical offset math across repeated
	// push_back/pop_front cycles (the checkpoint queue's steady-state pattern).
	ctx := context.Background()
	db := newTestDB(t)
	q := db.Deque("checkpoint_queue")

	for i := 0; i < 10; i++ {
		q.PushBack(ctx, testCheckpoint{Index: i})
		if i >= 3 {
			var popped testCheckpoint
			q.PopFront(ctx, &popped)
			if popped.Index != i-3 {
				t.Fatalf("PopFront() at step %d = %d, want %d", i, popped.Index, i-3)
			}
		}
	}

	l, _ := q.Len(ctx)
	if l != 3 {
		t.Fatalf("Len() = %d, want 3", l)
	}
	var front testCheckpoint
	q.Front(ctx, &front)
	if front.Index != 7 {
		t.Errorf("Front().Index = %d, want 7", front.Index)
	}
}
