package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// PendingCheckpoint is the minimal view a Reconciler needs of a queued
// checkpoint: its index and the txid of its Bitcoin transaction. Callers
// build these from internal/queue.Queue.Unconfirmed, pairing each
// checkpoint's index with its BitcoinTx.TxID().
type PendingCheckpoint struct {
	Index uint32
	TxID  string
}

// Drift describes a mismatch between a node's local view of a pending
// checkpoint broadcast and what the Bitcoin network actually reports.
type Drift struct {
	Index     uint32
	TxID      string
	Status    DriftStatus
	BtcHeight uint32
}

// DriftStatus classifies the kind of mismatch Reconcile found.
type DriftStatus int

const (
	// DriftConfirmed means the local node still lists the checkpoint as
	// unconfirmed but the provider pool already reports it confirmed.
	DriftConfirmed DriftStatus = iota
	// DriftMissing means no provider has ever seen this transaction,
	// suggesting the broadcast was dropped and should be resent.
	DriftMissing
)

type esploraTxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height"`
}

// Reconciler checks locally-tracked pending checkpoint broadcasts against
// a provider pool on relayer startup and reports any drift.
type Reconciler struct {
	pool *Pool
}

// NewReconciler binds a reconciler to a provider pool.
func NewReconciler(pool *Pool) *Reconciler {
	return &Reconciler{pool: pool}
}

// Reconcile checks each pending checkpoint's txid against the provider
// pool and returns the ones whose on-chain status disagrees with the
// local node's unconfirmed view.
func (r *Reconciler) Reconcile(ctx context.Context, pending []PendingCheckpoint) ([]Drift, error) {
	var drifts []Drift

	for _, cp := range pending {
		status, err := r.txStatus(ctx, cp.TxID)
		if err != nil {
			slog.Warn("relay: reconcile could not check pending checkpoint", "index", cp.Index, "txid", cp.TxID, "error", err)
			drifts = append(drifts, Drift{Index: cp.Index, TxID: cp.TxID, Status: DriftMissing})
			continue
		}
		if status.Confirmed {
			drifts = append(drifts, Drift{Index: cp.Index, TxID: cp.TxID, Status: DriftConfirmed, BtcHeight: status.BlockHeight})
		}
	}

	return drifts, nil
}

// MerkleProof fetches the inclusion proof for a confirmed transaction, the
// bytes a caller passes straight through to Bitcoin.RelayCheckpoint once
// Reconcile reports a DriftConfirmed checkpoint.
func (r *Reconciler) MerkleProof(ctx context.Context, txid string) ([]byte, error) {
	var proof []byte
	err := r.pool.Do(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		body, err := getRaw(ctx, client, baseURL+"/tx/"+txid+"/merkle-proof")
		if err != nil {
			return err
		}
		proof = body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("relay: merkle proof %s: %w", txid, err)
	}
	return proof, nil
}

func (r *Reconciler) txStatus(ctx context.Context, txid string) (esploraTxStatus, error) {
	var status esploraTxStatus
	err := r.pool.Do(ctx, func(ctx context.Context, client *http.Client, baseURL string) error {
		body, err := getRaw(ctx, client, baseURL+"/tx/"+txid+"/status")
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &status)
	})
	if err != nil {
		return esploraTxStatus{}, fmt.Errorf("relay: tx status %s: %w", txid, err)
	}
	return status, nil
}
