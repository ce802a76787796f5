package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReconciler_FlagsConfirmedDrift(t *testing.T) {
	const txid = "aaaa1111aaaa1111aaaa1111aaaa1111aaaa1111aaaa1111aaaa1111aaaa1111"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, txid) {
			w.Write([]byte(`{"confirmed":true,"block_height":700050}`))
			return
		}
		w.Write([]byte(`{"confirmed":false}`))
	}))
	defer server.Close()

	pool := NewPool(server.Client(), []string{server.URL}, 100)
	r := NewReconciler(pool)

	drifts, err := r.Reconcile(context.Background(), []PendingCheckpoint{{Index: 7, TxID: txid}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(drifts) != 1 {
		t.Fatalf("expected 1 drift, got %d", len(drifts))
	}
	if drifts[0].Status != DriftConfirmed {
		t.Errorf("Status = %v, want DriftConfirmed", drifts[0].Status)
	}
	if drifts[0].BtcHeight != 700050 {
		t.Errorf("BtcHeight = %d, want 700050", drifts[0].BtcHeight)
	}
}

func TestReconciler_NoDriftWhenStillUnconfirmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"confirmed":false}`))
	}))
	defer server.Close()

	pool := NewPool(server.Client(), []string{server.URL}, 100)
	r := NewReconciler(pool)

	drifts, err := r.Reconcile(context.Background(), []PendingCheckpoint{{Index: 1, TxID: "abcd"}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no drift for still-unconfirmed tx, got %d", len(drifts))
	}
}

func TestReconciler_MerkleProof(t *testing.T) {
	const txid = "bbbb2222bbbb2222bbbb2222bbbb2222bbbb2222bbbb2222bbbb2222bbbb2222"
	want := []byte(`{"block_height":700050,"merkle":["aa","bb"],"pos":3}`)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "merkle-proof") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write(want)
	}))
	defer server.Close()

	pool := NewPool(server.Client(), []string{server.URL}, 100)
	r := NewReconciler(pool)

	got, err := r.MerkleProof(context.Background(), txid)
	if err != nil {
		t.Fatalf("MerkleProof() error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("MerkleProof() = %s, want %s", got, want)
	}
}

func TestReconciler_FlagsMissingTx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	pool := NewPool(server.Client(), []string{server.URL}, 100)
	r := NewReconciler(pool)

	drifts, err := r.Reconcile(context.Background(), []PendingCheckpoint{{Index: 2, TxID: "deadbeef"}})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(drifts) != 1 || drifts[0].Status != DriftMissing {
		t.Fatalf("expected 1 DriftMissing, got %+v", drifts)
	}
}
