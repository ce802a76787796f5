package storage

import (
	"context"
	"testing"
)

type testSignatory struct {
	VotingPower uint64 `json:"voting_power"`
	Xpub        string `json:"xpub"`
}

func TestMap_SaveLoadHasRemove(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := db.Map("signatories")

	if has, err := m.Has(ctx, "validator-a"); has || err != nil {
		t.Fatalf("Has() = %v, %v, want false, nil", has, err)
	}

	want := testSignatory{VotingPower: 100, Xpub: "xpub-a"}
	if err := m.Save(ctx, "validator-a", want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	has, err := m.Has(ctx, "validator-a")
	if err != nil || !has {
		t.Fatalf("Has() = %v, %v, want true, nil", has, err)
	}

	var got testSignatory
	ok, err := m.Load(ctx, "validator-a", &got)
	if err != nil || !ok {
		t.Fatalf("Load() = %v, %v, want true, nil", ok, err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}

	if err := m.Remove(ctx, "validator-a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if has, _ := m.Has(ctx, "validator-a"); has {
		t.Error("expected key to be gone after Remove()")
	}
}

func TestMap_RangeIteratesAllEntries(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	m := db.Map("signatories")

	entries := map[string]testSignatory{
		"validator-a": {VotingPower: 100, Xpub: "xpub-a"},
		"validator-b": {VotingPower: 200, Xpub: "xpub-b"},
		"validator-c": {VotingPower: 300, Xpub: "xpub-c"},
	}
	for k, v := range entries {
		if err := m.Save(ctx, k, v); err != nil {
			t.Fatalf("Save(%q) error = %v", k, err)
		}
	}

	seen := make(map[string]bool)
	err := m.Range(ctx, func(key string, raw []byte) error {
		seen[key] = true
		return nil
	})
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(seen) != len(entries) {
		t.Fatalf("Range() visited %d keys, want %d", len(seen), len(entries))
	}
}

func TestMap_IsolatedByName(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	a := db.Map("signatories")
	b := db.Map("outpoints")

	if err := a.Save(ctx, "key", testSignatory{VotingPower: 1}); err != nil {
		t.Fatal(err)
	}
	if has, _ := b.Has(ctx, "key"); has {
		t.Error("expected maps with different names to be isolated")
	}
}
