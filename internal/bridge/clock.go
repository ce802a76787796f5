package bridge

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Fantasim/nbtcbridge/internal/queue"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/validatorset"
)

// BeginBlockStep drives the checkpoint queue's per-block state machine:
// it pushes a new checkpoint or advances the Building one when due,
// pausing new deposits once the
// reserve has reached the configured capacity limit, then reports any
// signatory that missed every signature in the last window of completed
// checkpoints.
func (b *Bitcoin) BeginBlockStep(ctx context.Context, btcHeight uint32, commitment []byte, nowUnixSeconds uint64) ([][32]byte, error) {
	reachedCapacityLimit, err := b.reachedCapacityLimit(ctx)
	if err != nil {
		return nil, err
	}

	pushed, feesPaid, err := b.checkpoints.MaybeStep(ctx, btcHeight, !reachedCapacityLimit, commitment, nowUnixSeconds)
	if err != nil {
		return nil, err
	}
	if !pushed {
		return nil, nil
	}
	if feesPaid > 0 {
		if err := b.addFeePool(ctx, -int64(feesPaid*b.btcCfg.UnitsPerSat)); err != nil {
			return nil, err
		}
	}

	offline, err := b.offlineSigners(ctx)
	if err != nil {
		return nil, err
	}
	if len(offline) > 0 {
		slog.Info("offline signers detected", "count", len(offline))
	}
	return offline, nil
}

func (b *Bitcoin) reachedCapacityLimit(ctx context.Context) (bool, error) {
	last, err := b.checkpoints.LastCompleted(ctx)
	if errors.Is(err, queue.ErrNoCompletedCheckpoints) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	locked := last.Tx().Outputs[0].Value
	return locked >= b.btcCfg.CapacityLimitSats, nil
}

func (b *Bitcoin) offlineSigners(ctx context.Context) ([][32]byte, error) {
	candidates, err := b.validators.Candidates(ctx)
	if err != nil {
		return nil, err
	}
	oracleValidators := make([]validatorset.OracleValidator, len(candidates))
	declared := make(map[[32]byte]*signatory.Xpub, len(candidates))
	for i, c := range candidates {
		oracleValidators[i] = validatorset.OracleValidator{ConsensusKey: c.ConsensusKey, VotingPower: c.VotingPower}
		if c.Xpub != nil {
			declared[c.ConsensusKey] = c.Xpub
		}
	}
	declaredXpub := func(consensusKey [32]byte) (*signatory.Xpub, bool) {
		xpub, ok := declared[consensusKey]
		return xpub, ok
	}

	activeSigset, err := b.checkpoints.ActiveSigset(ctx)
	if err != nil {
		return nil, err
	}
	if activeSigset == nil {
		return nil, nil
	}
	completed, err := b.checkpoints.Completed(ctx, b.btcCfg.MaxOfflineCheckpoints)
	if err != nil {
		return nil, err
	}

	return validatorset.OfflineSigners(oracleValidators, declaredXpub, activeSigset, completed, b.btcCfg.MaxOfflineCheckpoints)
}
