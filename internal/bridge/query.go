package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/queue"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
)

// CheckpointByIndex returns the checkpoint at index, whatever its status.
func (b *Bitcoin) CheckpointByIndex(ctx context.Context, index uint32) (*checkpoint.Checkpoint, error) {
	return b.checkpoints.Get(ctx, index)
}

// BuildingIndex is the index of the checkpoint currently accepting
// deposits and withdrawals.
func (b *Bitcoin) BuildingIndex(ctx context.Context) (uint32, error) {
	return b.checkpoints.Index(ctx)
}

// ConfirmedIndex is the highest checkpoint index with a relayed SPV proof,
// if any.
func (b *Bitcoin) ConfirmedIndex(ctx context.Context) (*uint32, error) {
	return b.checkpoints.ConfirmedIndex(ctx)
}

// CompletedCheckpointTxs returns the fully-signed Bitcoin transactions of
// up to the last limit completed checkpoints, oldest first, ready for a
// relayer to broadcast.
func (b *Bitcoin) CompletedCheckpointTxs(ctx context.Context, limit int) ([]*checkpointtx.BitcoinTx, error) {
	completed, err := b.checkpoints.Completed(ctx, limit)
	if err != nil {
		return nil, err
	}
	txs := make([]*checkpointtx.BitcoinTx, len(completed))
	for i, cp := range completed {
		txs[i] = cp.Tx()
	}
	return txs, nil
}

// ToSign pairs one unsigned input's sighash with the sigset index it must
// be signed against, the unit xpub's DeriveSignatoryChildPrivKey-backed
// signer consumes to produce each threshold.Sig.
type ToSign struct {
	Sighash     [32]byte
	SigsetIndex uint32
}

// SigningTxsAtCheckpointIndex lists every input of the checkpoint at index
// that xpub still needs to sign, in input order. The returned order is
// exactly the order SubmitCheckpointSignature expects its sigs argument in.
func (b *Bitcoin) SigningTxsAtCheckpointIndex(ctx context.Context, xpub *signatory.Xpub, index uint32) ([]ToSign, error) {
	cp, err := b.checkpoints.Get(ctx, index)
	if err != nil {
		return nil, err
	}
	tx := cp.Tx()
	sighashes, err := tx.Sighashes()
	if err != nil {
		return nil, fmt.Errorf("compute sighashes for checkpoint %d: %w", index, err)
	}

	var out []ToSign
	for i, in := range tx.Inputs {
		if in.Signatures == nil {
			continue
		}
		pubkey, err := xpub.DeriveChildPubkey(in.SigsetIndex)
		if err != nil {
			return nil, fmt.Errorf("derive child pubkey at sigset index %d: %w", in.SigsetIndex, err)
		}
		if in.Signatures.NeedsSig(pubkey) {
			out = append(out, ToSign{Sighash: sighashes[i], SigsetIndex: in.SigsetIndex})
		}
	}
	return out, nil
}

// SignedRecoveryTxs returns every queued recovery transaction that has
// collected enough signatures to broadcast.
func (b *Bitcoin) SignedRecoveryTxs(ctx context.Context) ([]*checkpointtx.BitcoinTx, error) {
	signed, err := b.recoveryMgr.Signed(ctx)
	if err != nil {
		return nil, err
	}
	txs := make([]*checkpointtx.BitcoinTx, len(signed))
	for i, t := range signed {
		txs[i] = t.Tx
	}
	return txs, nil
}

// ValueLocked is the reserve value, in sats, carried by the reserve output
// of the most recently completed checkpoint.
func (b *Bitcoin) ValueLocked(ctx context.Context) (uint64, error) {
	last, err := b.checkpoints.LastCompleted(ctx)
	if errors.Is(err, queue.ErrNoCompletedCheckpoints) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Tx().Outputs[0].Value, nil
}

// ChangeRates reports the proportion of reserve value and signatory voting
// power that has turned over across the last interval's worth of
// checkpoints, in basis points: a consumer (e.g. a risk dashboard) uses
// this to gauge how quickly the bridge's economic backing is rotating.
type ChangeRates struct {
	Withdrawal   uint16
	SigsetChange uint16
}

// ChangeRates compares the Signing checkpoint (or, absent one, the
// Building checkpoint) against the most recent prior checkpoint whose
// creation time is at least interval seconds older, reporting how much of
// its reserve value was withdrawn and how much of its signatory voting
// power turned over since then.
func (b *Bitcoin) ChangeRates(ctx context.Context, interval uint64) (ChangeRates, error) {
	reference, err := b.checkpoints.Signing(ctx)
	if err != nil {
		return ChangeRates{}, err
	}
	if reference == nil {
		reference, err = b.checkpoints.Building(ctx)
		if err != nil {
			return ChangeRates{}, err
		}
	}

	buildingIndex, err := b.checkpoints.Index(ctx)
	if err != nil {
		return ChangeRates{}, err
	}

	var historical *checkpoint.Checkpoint
	cutoff := reference.Sigset.CreateTime - interval
	for i := int64(buildingIndex) - 1; i >= 0; i-- {
		cp, err := b.checkpoints.Get(ctx, uint32(i))
		if err != nil {
			return ChangeRates{}, err
		}
		if cp.Sigset.CreateTime <= cutoff {
			historical = cp
			break
		}
	}
	if historical == nil {
		return ChangeRates{}, nil
	}

	referenceValue := reference.Tx().Outputs[0].Value
	historicalValue := historical.Tx().Outputs[0].Value
	var withdrawalBP uint16
	if historicalValue > 0 && historicalValue > referenceValue {
		withdrawalBP = uint16((historicalValue - referenceValue) * 10_000 / historicalValue)
	}

	var turnedOverVP uint64
	historicalKeys := make(map[string]uint64, len(historical.Sigset.Signatories))
	for _, s := range historical.Sigset.Signatories {
		historicalKeys[string(s.Pubkey[:])] = s.VotingPower
	}
	for _, s := range reference.Sigset.Signatories {
		if _, stillPresent := historicalKeys[string(s.Pubkey[:])]; !stillPresent {
			turnedOverVP += s.VotingPower
		}
	}
	var sigsetChangeBP uint16
	if reference.Sigset.PresentVP > 0 {
		sigsetChangeBP = uint16(turnedOverVP * 10_000 / reference.Sigset.PresentVP)
	}

	return ChangeRates{Withdrawal: withdrawalBP, SigsetChange: sigsetChangeBP}, nil
}
