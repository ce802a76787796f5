package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Fantasim/nbtcbridge/internal/storage"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

const txMapName = "recovery/txs"

// Manager persists pending and signed Recovery Transactions, and applies
// SubmitRecoverySignature across every one that still needs the given
// signatory's signature.
type Manager struct {
	store storage.Store
}

// NewManager binds a Manager to store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) kvmap() storage.KVMap {
	return m.store.Map(txMapName)
}

func txKey(t *Tx) string {
	in := t.Tx.Inputs[0]
	return outpointKey(in.Prevout)
}

// Queue persists a newly built Recovery Transaction so it can be signed and
// later broadcast.
func (m *Manager) Queue(ctx context.Context, t *Tx) error {
	return m.kvmap().Save(ctx, txKey(t), t)
}

// All returns every queued Recovery Transaction, ordered by outpoint key
// for deterministic sign ordering.
func (m *Manager) All(ctx context.Context) ([]*Tx, error) {
	var out []*Tx
	err := m.kvmap().Range(ctx, func(key string, raw []byte) error {
		var t Tx
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return txKey(out[i]) < txKey(out[j]) })
	return out, nil
}

// Pending returns every queued Recovery Transaction not yet fully signed.
func (m *Manager) Pending(ctx context.Context) ([]*Tx, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Tx
	for _, t := range all {
		if !t.Signed() {
			out = append(out, t)
		}
	}
	return out, nil
}

// Signed returns every queued Recovery Transaction that has crossed its
// old sigset's signing threshold, ready for an off-chain relayer to
// broadcast (query SignedRecoveryTxs).
func (m *Manager) Signed(ctx context.Context) ([]*Tx, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Tx
	for _, t := range all {
		if t.Signed() {
			out = append(out, t)
		}
	}
	return out, nil
}

// Sign applies one signatory's signatures across every queued Recovery
// Transaction whose input still needs a signature from pubkey, consuming
// sigs in order. Unlike checkpoint signing, no index selects a single
// target — every pending recovery tx is a candidate.
func (m *Manager) Sign(ctx context.Context, pubkey threshold.Pubkey, sigs []threshold.Sig) error {
	all, err := m.All(ctx)
	if err != nil {
		return err
	}

	sigIndex := 0
	for _, t := range all {
		in := t.Tx.Inputs[0]
		if in.Signatures == nil || !in.Signatures.NeedsSig(pubkey) {
			continue
		}
		if sigIndex >= len(sigs) {
			return fmt.Errorf("%w: recovery tx %s", ErrNotEnoughSignatures, txKey(t))
		}
		sig := sigs[sigIndex]
		sigIndex++

		wasInputSigned := in.Signatures.Signed()
		if err := t.Sign(pubkey, sig); err != nil {
			return fmt.Errorf("sign recovery tx %s: %w", txKey(t), err)
		}
		if !wasInputSigned && in.Signatures.Signed() {
			t.Tx.SignedInputs++
		}
		if err := m.Queue(ctx, t); err != nil {
			return err
		}
	}

	if sigIndex < len(sigs) {
		return ErrExcessSignatures
	}
	return nil
}
