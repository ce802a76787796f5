package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// SubmitCheckpointSignature derives xpub's per-input pubkeys against the
// checkpoint at checkpointIndex and applies sigs to every input that needs
// one, in input order.
func (b *Bitcoin) SubmitCheckpointSignature(ctx context.Context, xpub *signatory.Xpub, sigs []threshold.Sig, checkpointIndex uint32, btcHeight uint32) error {
	slog.Info("submit checkpoint signature", "cp_index", checkpointIndex, "btc_height", btcHeight, "num_sigs", len(sigs))

	cp, err := b.checkpoints.Get(ctx, checkpointIndex)
	if err != nil {
		return fmt.Errorf("load checkpoint %d: %w", checkpointIndex, err)
	}

	pubkey, err := xpub.DeriveChildPubkey(cp.Sigset.Index)
	if err != nil {
		return fmt.Errorf("derive signing pubkey: %w", err)
	}

	if err := b.checkpoints.Sign(ctx, pubkey, sigs, checkpointIndex, btcHeight); err != nil {
		slog.Warn("submit checkpoint signature failed", "cp_index", checkpointIndex, "error", err)
		return err
	}
	slog.Info("checkpoint signature applied", "cp_index", checkpointIndex)
	return nil
}

// SubmitRecoverySignature applies xpub's derived-at-old-sigset signatures
// across every queued Recovery Transaction still needing one.
func (b *Bitcoin) SubmitRecoverySignature(ctx context.Context, xpub *signatory.Xpub, sigs []threshold.Sig) error {
	slog.Info("submit recovery signature", "num_sigs", len(sigs))

	pending, err := b.recoveryMgr.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	sigIndex := 0
	for _, tx := range pending {
		pubkey, err := xpub.DeriveChildPubkey(tx.OldSigsetIndex)
		if err != nil {
			return fmt.Errorf("derive recovery signing pubkey at old sigset %d: %w", tx.OldSigsetIndex, err)
		}
		in := tx.Tx.Inputs[0]
		if in.Signatures == nil || !in.Signatures.NeedsSig(pubkey) {
			continue
		}
		if sigIndex >= len(sigs) {
			return fmt.Errorf("%w: recovery tx at old sigset %d", ErrNotEnoughRecoverySignatures, tx.OldSigsetIndex)
		}
		if err := b.recoveryMgr.Sign(ctx, pubkey, sigs[sigIndex:sigIndex+1]); err != nil {
			return err
		}
		sigIndex++
	}
	if sigIndex < len(sigs) {
		return ErrExcessRecoverySignatures
	}

	slog.Info("recovery signatures applied", "consumed", sigIndex)
	return nil
}

// SetSignatoryKey declares xpub as the caller's signatory account key.
// consensusKey identifies the caller's validator identity.
func (b *Bitcoin) SetSignatoryKey(ctx context.Context, consensusKey [32]byte, xpub *signatory.Xpub) error {
	existing, found, err := b.validators.SignatoryKey(ctx, consensusKey)
	if err != nil {
		return err
	}
	if found && existing.String() != xpub.String() {
		slog.Warn("signatory key rejected: already declared", "consensus_key", fmt.Sprintf("%x", consensusKey))
		return ErrDuplicateSignatoryKey
	}
	if err := b.validators.SetSignatoryKey(ctx, consensusKey, xpub); err != nil {
		return err
	}
	slog.Info("signatory key declared", "consensus_key", fmt.Sprintf("%x", consensusKey))
	return nil
}
