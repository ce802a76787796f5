package bridge

import (
	"context"
	"log/slog"

	"github.com/Fantasim/nbtcbridge/internal/config"
)

// WithdrawToBitcoin appends a withdrawal output to the Building
// checkpoint's tx, paid out once that checkpoint is fully signed and
// confirmed. burnedAmount is the caller's already-burned nBTC balance, in
// sidechain denom units.
func (b *Bitcoin) WithdrawToBitcoin(ctx context.Context, scriptPubkey []byte, burnedAmount uint64) error {
	slog.Info("withdraw to bitcoin requested", "burned_amount", burnedAmount, "script_len", len(scriptPubkey))

	if len(scriptPubkey) > b.btcCfg.MaxWithdrawalScriptLen {
		slog.Warn("withdrawal rejected: script too long", "script_len", len(scriptPubkey))
		return ErrScriptTooLong
	}

	queueLen, err := b.checkpoints.Len(ctx)
	if err != nil {
		return err
	}
	if queueLen < b.btcCfg.MinWithdrawalCheckpoints {
		slog.Warn("withdrawal rejected: too few checkpoints produced so far", "queue_len", queueLen)
		return ErrWithdrawalsDisabled
	}

	building, err := b.checkpoints.Building(ctx)
	if err != nil {
		return err
	}

	feeAmount := (9 + uint64(len(scriptPubkey))) * building.FeeRate * b.checkpointCfg.UserFeeFactorBP / 10_000 * b.btcCfg.UnitsPerSat
	if feeAmount > burnedAmount {
		slog.Warn("withdrawal rejected: amount too small for fee", "burned_amount", burnedAmount, "fee", feeAmount)
		return ErrAmountTooSmallForFee
	}
	netAmount := burnedAmount - feeAmount

	valueSats := netAmount / b.btcCfg.UnitsPerSat
	if valueSats <= config.DustValueSats {
		slog.Warn("withdrawal rejected: below dust limit", "value_sats", valueSats)
		return ErrDustBelowLimit
	}

	if err := building.AddWithdrawal(scriptPubkey, valueSats); err != nil {
		return err
	}
	building.FeesCollected += feeAmount / b.btcCfg.UnitsPerSat
	if err := b.checkpoints.Set(ctx, building.Sigset.Index, building); err != nil {
		return err
	}
	if err := b.addFeePool(ctx, int64(feeAmount)); err != nil {
		return err
	}

	slog.Info("withdrawal queued", "value_sats", valueSats, "fee", feeAmount, "building_sigset", building.Sigset.Index)
	return nil
}
