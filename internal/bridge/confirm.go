package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
)

// RelayCheckpoint records SPV proof that the checkpoint at cpIndex's
// transaction confirmed on Bitcoin, advancing the confirmation pointer.
func (b *Bitcoin) RelayCheckpoint(ctx context.Context, btcHeight uint32, btcProof []byte, cpIndex uint32) error {
	slog.Info("relay checkpoint requested", "cp_index", cpIndex, "btc_height", btcHeight)

	confirmedIndex, err := b.checkpoints.ConfirmedIndex(ctx)
	if err != nil {
		return err
	}
	if confirmedIndex != nil && cpIndex <= *confirmedIndex {
		slog.Warn("relay checkpoint rejected: already relayed", "cp_index", cpIndex, "confirmed_index", *confirmedIndex)
		return ErrCheckpointAlreadyRelayed
	}

	sidechainHeight, err := b.spv.HeaderHeight(ctx)
	if err != nil {
		return fmt.Errorf("query light client header height: %w", err)
	}
	if sidechainHeight < btcHeight || sidechainHeight-btcHeight < b.btcCfg.MinCheckpointConfirmations {
		slog.Warn("relay checkpoint rejected: insufficient confirmations", "cp_index", cpIndex, "btc_height", btcHeight)
		return ErrInsufficientConfirmations
	}

	cp, err := b.checkpoints.Get(ctx, cpIndex)
	if err != nil {
		return fmt.Errorf("load checkpoint %d: %w", cpIndex, err)
	}
	msgTx, err := cp.Tx().ApplyWitnesses()
	if err != nil {
		return fmt.Errorf("assemble checkpoint tx for proof verification: %w", err)
	}
	var buf bytes.Buffer
	if err := msgTx.Serialize(&buf); err != nil {
		return fmt.Errorf("serialize checkpoint tx: %w", err)
	}
	if err := b.spv.VerifyTxWithProof(ctx, buf.Bytes(), btcHeight, btcProof); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	if err := b.checkpoints.SetConfirmedIndex(ctx, cpIndex); err != nil {
		return err
	}
	slog.Info("checkpoint confirmed", "cp_index", cpIndex)
	return nil
}

// PendingBatch is one confirmed checkpoint's drained credit list, paired
// with the index it came from for the caller's bookkeeping.
type PendingBatch struct {
	Index   uint32
	Credits []checkpoint.PendingCredit
}

// TakePending drains the pending-credit lists of every checkpoint between
// first_unhandled_confirmed_index and confirmed_index (inclusive), then
// previews (without clearing) the pending lists of any Complete-but-
// unconfirmed checkpoints. The caller is expected to mint token-sink coins
// for each returned credit.
func (b *Bitcoin) TakePending(ctx context.Context) ([]PendingBatch, []PendingBatch, error) {
	confirmedIndex, err := b.checkpoints.ConfirmedIndex(ctx)
	if err != nil {
		return nil, nil, err
	}
	if confirmedIndex == nil {
		return nil, nil, nil
	}

	firstUnhandled, err := b.checkpoints.FirstUnhandledConfirmedIndex(ctx)
	if err != nil {
		return nil, nil, err
	}

	var confirmed []PendingBatch
	for i := firstUnhandled; i <= *confirmedIndex; i++ {
		cp, err := b.checkpoints.Get(ctx, i)
		if err != nil {
			return nil, nil, err
		}
		if len(cp.Pending) > 0 {
			confirmed = append(confirmed, PendingBatch{Index: i, Credits: cp.Pending})
			cp.Pending = nil
			if err := b.checkpoints.Set(ctx, i, cp); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := b.checkpoints.SetFirstUnhandledConfirmedIndex(ctx, *confirmedIndex+1); err != nil {
		return nil, nil, err
	}

	unconfirmed, err := b.checkpoints.Unconfirmed(ctx)
	if err != nil {
		return nil, nil, err
	}
	var preview []PendingBatch
	for _, cp := range unconfirmed {
		if len(cp.Pending) > 0 {
			preview = append(preview, PendingBatch{Credits: cp.Pending})
		}
	}

	slog.Info("pending credits drained", "confirmed_batches", len(confirmed), "preview_batches", len(preview))
	return confirmed, preview, nil
}
