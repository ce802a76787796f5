package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/Fantasim/nbtcbridge/internal/queue"
)

// SetWhitelistValidator toggles consensusKey's whitelist membership.
// Wraps internal/validatorset.Registry directly; the façade adds only the
// log line.
func (b *Bitcoin) SetWhitelistValidator(ctx context.Context, consensusKey [32]byte, whitelisted bool) error {
	if err := b.validators.SetWhitelistValidator(ctx, consensusKey, whitelisted); err != nil {
		return err
	}
	slog.Info("whitelist validator updated", "consensus_key_set", true, "whitelisted", whitelisted)
	return nil
}

// PunishValidator marks or clears consensusKey's punished status, excluding
// it from future signatory sets while punished.
func (b *Bitcoin) PunishValidator(ctx context.Context, consensusKey [32]byte, punished bool) error {
	if err := b.validators.PunishValidator(ctx, consensusKey, punished); err != nil {
		return err
	}
	slog.Info("validator punished status updated", "punished", punished)
	return nil
}

// UpdateCheckpointConfig replaces the checkpoint-queue tunables (interval
// bounds, fee-rate bounds, input/output limits) used by every subsequent
// MaybeStep/Advance call.
func (b *Bitcoin) UpdateCheckpointConfig(ctx context.Context, cfg CheckpointConfigUpdate) {
	if cfg.MinCheckpointInterval != nil {
		b.checkpointCfg.MinCheckpointInterval = *cfg.MinCheckpointInterval
	}
	if cfg.MaxCheckpointInterval != nil {
		b.checkpointCfg.MaxCheckpointInterval = *cfg.MaxCheckpointInterval
	}
	if cfg.MinFeeRate != nil {
		b.checkpointCfg.MinFeeRate = *cfg.MinFeeRate
	}
	if cfg.MaxFeeRate != nil {
		b.checkpointCfg.MaxFeeRate = *cfg.MaxFeeRate
	}
	if cfg.MaxInputs != nil {
		b.checkpointCfg.MaxInputs = *cfg.MaxInputs
	}
	if cfg.MaxOutputs != nil {
		b.checkpointCfg.MaxOutputs = *cfg.MaxOutputs
	}
	// The queue holds its own copy of the config; rebind it so the new
	// values reach MaybeStep/Advance. Queue state lives in the store.
	b.checkpoints = queue.New(b.store, b.checkpointCfg, b.validators)
	slog.Info("checkpoint config updated")
}

// CheckpointConfigUpdate carries the governance-settable subset of
// config.CheckpointConfig; nil fields leave the current value untouched.
type CheckpointConfigUpdate struct {
	MinCheckpointInterval *time.Duration
	MaxCheckpointInterval *time.Duration
	MinFeeRate            *uint64
	MaxFeeRate            *uint64
	MaxInputs             *int
	MaxOutputs            *int
}

// UpdateBitcoinConfig replaces the reserve/withdrawal tunables (capacity
// limit, confirmation requirements, withdrawal script length) used by the deposit
// and withdrawal entry points.
func (b *Bitcoin) UpdateBitcoinConfig(ctx context.Context, cfg BitcoinConfigUpdate) {
	if cfg.MinConfirmations != nil {
		b.btcCfg.MinConfirmations = *cfg.MinConfirmations
	}
	if cfg.MinCheckpointConfirmations != nil {
		b.btcCfg.MinCheckpointConfirmations = *cfg.MinCheckpointConfirmations
	}
	if cfg.CapacityLimitSats != nil {
		b.btcCfg.CapacityLimitSats = *cfg.CapacityLimitSats
	}
	if cfg.MaxWithdrawalScriptLen != nil {
		b.btcCfg.MaxWithdrawalScriptLen = *cfg.MaxWithdrawalScriptLen
	}
	slog.Info("bitcoin config updated")
}

// BitcoinConfigUpdate carries the governance-settable subset of
// config.BitcoinConfig; nil fields leave the current value untouched.
type BitcoinConfigUpdate struct {
	MinConfirmations           *uint32
	MinCheckpointConfirmations *uint32
	CapacityLimitSats          *uint64
	MaxWithdrawalScriptLen     *int
}
