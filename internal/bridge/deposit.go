package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/btcsuite/btcd/wire"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/recovery"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// nbtcDenom is the sidechain asset this bridge mints against its Bitcoin
// reserve. Denom registration itself is out of scope.
const nbtcDenom = "nbtc"

// RelayDepositRequest carries the arguments of the RelayDeposit entry
// point. BtcTx is the raw Bitcoin transaction bytes; BtcProof is the SPV
// inclusion proof handed to the light client verbatim.
type RelayDepositRequest struct {
	BtcTx       []byte
	BtcHeight   uint32
	BtcProof    []byte
	Vout        uint32
	SigsetIndex uint32
	Dest        checkpoint.Dest
	Now         uint64
}

// RelayDeposit verifies a Bitcoin deposit's SPV proof and script, then
// either credits the Building checkpoint directly or, if the deposit's
// sigset has expired, enqueues a Recovery Transaction for it.
func (b *Bitcoin) RelayDeposit(ctx context.Context, req RelayDepositRequest) error {
	slog.Info("relay deposit requested", "btc_height", req.BtcHeight, "vout", req.Vout, "sigset_index", req.SigsetIndex)

	sidechainHeight, err := b.spv.HeaderHeight(ctx)
	if err != nil {
		return fmt.Errorf("query light client header height: %w", err)
	}
	if sidechainHeight < req.BtcHeight || sidechainHeight-req.BtcHeight < b.btcCfg.MinConfirmations {
		slog.Warn("deposit rejected: insufficient confirmations", "btc_height", req.BtcHeight, "header_height", sidechainHeight)
		return ErrInsufficientConfirmations
	}
	if err := b.spv.VerifyTxWithProof(ctx, req.BtcTx, req.BtcHeight, req.BtcProof); err != nil {
		slog.Warn("deposit rejected: SPV proof verification failed", "error", err)
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(req.BtcTx)); err != nil {
		return fmt.Errorf("decode deposit transaction: %w", err)
	}
	if int(req.Vout) >= len(msgTx.TxOut) {
		return ErrOutOfBounds
	}
	output := msgTx.TxOut[req.Vout]

	cp, err := b.checkpoints.Get(ctx, req.SigsetIndex)
	if err != nil {
		return fmt.Errorf("load checkpoint at sigset index %d: %w", req.SigsetIndex, err)
	}
	sigset := cp.Sigset

	destBytes, err := req.Dest.CommitmentBytes()
	if err != nil {
		return fmt.Errorf("encode deposit dest: %w", err)
	}
	thresholdVP := sigset.Threshold(b.checkpointCfg.SigsetThresholdNum, b.checkpointCfg.SigsetThresholdDen)
	expectedScript, err := sigset.OutputScript(destBytes, thresholdVP, config.ScriptIntBits)
	if err != nil {
		return fmt.Errorf("build expected deposit script: %w", err)
	}
	if !bytes.Equal(output.PkScript, expectedScript) {
		slog.Warn("deposit rejected: script mismatch", "sigset_index", req.SigsetIndex)
		return ErrScriptMismatch
	}

	prevout := checkpointtx.Prevout{TxID: msgTx.TxHash(), Vout: req.Vout}
	expiry := sigset.CreateTime + uint64(b.btcCfg.MaxDepositAge.Seconds())
	if err := b.outpoints.Insert(ctx, prevout, expiry); err != nil {
		slog.Warn("deposit rejected: outpoint already relayed", "error", err)
		return err
	}

	if !cp.DepositsEnabled {
		slog.Warn("deposit rejected: deposits disabled for checkpoint", "sigset_index", req.SigsetIndex)
		return ErrDepositsDisabled
	}

	if req.Now > expiry {
		slog.Info("deposit expired, routing to recovery builder", "sigset_index", req.SigsetIndex)
		return b.buildRecoveryTx(ctx, prevout, uint64(output.Value), sigset, destBytes)
	}

	return b.creditDeposit(ctx, prevout, uint64(output.Value), sigset, destBytes, req.Dest)
}

// creditDeposit appends the deposit as an Input to the Building
// checkpoint's tx and credits its pending list.
func (b *Bitcoin) creditDeposit(ctx context.Context, prevout checkpointtx.Prevout, value uint64, sigset *signatory.SignatorySet, destBytes []byte, dest checkpoint.Dest) error {
	building, err := b.checkpoints.Building(ctx)
	if err != nil {
		return err
	}

	thresholdVP := sigset.Threshold(b.checkpointCfg.SigsetThresholdNum, b.checkpointCfg.SigsetThresholdDen)
	redeemScript, err := sigset.RedeemScript(destBytes, thresholdVP, config.ScriptIntBits)
	if err != nil {
		return fmt.Errorf("build deposit redeem script: %w", err)
	}
	scriptPubkey, err := sigset.OutputScript(destBytes, thresholdVP, config.ScriptIntBits)
	if err != nil {
		return fmt.Errorf("build deposit output script: %w", err)
	}

	in := &checkpointtx.Input{
		Prevout:         prevout,
		ScriptPubkey:    scriptPubkey,
		RedeemScript:    redeemScript,
		SigsetIndex:     sigset.Index,
		Dest:            destBytes,
		Amount:          value,
		EstWitnessVsize: sigset.EstWitnessVsize(),
		Signatures:      threshold.New(sigset.ToThresholdSignatories(), sigset.PresentVP, b.checkpointCfg.SigsetThresholdNum, b.checkpointCfg.SigsetThresholdDen),
	}
	inputVsize := checkpointtx.EstimateVsize([]*checkpointtx.Input{in}, nil)

	mintAmount := value * b.btcCfg.UnitsPerSat
	minerFee := inputVsize * building.FeeRate * b.checkpointCfg.UserFeeFactorBP / 10_000 * b.btcCfg.UnitsPerSat
	depositFee := checkpoint.CalcDepositFee()
	fee := minerFee + depositFee
	if fee > mintAmount {
		slog.Warn("deposit rejected: amount too small for fee", "value", value, "fee", fee)
		return ErrAmountTooSmallForFee
	}
	mintAmount -= fee

	if err := building.AddDeposit(in, dest, checkpoint.Coin{Denom: nbtcDenom, Amount: mintAmount}); err != nil {
		return err
	}
	building.FeesCollected += fee / b.btcCfg.UnitsPerSat
	if err := b.checkpoints.Set(ctx, building.Sigset.Index, building); err != nil {
		return err
	}
	if err := b.addFeePool(ctx, int64(fee)); err != nil {
		return err
	}

	slog.Info("deposit credited", "mint_amount", mintAmount, "fee", fee, "building_sigset", building.Sigset.Index)
	return nil
}

// buildRecoveryTx constructs and queues the standalone Recovery Transaction
// for an expired deposit, spending it forward to the current sigset for
// the same dest.
func (b *Bitcoin) buildRecoveryTx(ctx context.Context, prevout checkpointtx.Prevout, value uint64, oldSigset *signatory.SignatorySet, destBytes []byte) error {
	building, err := b.checkpoints.Building(ctx)
	if err != nil {
		return err
	}
	tx, err := recovery.Build(oldSigset, building.Sigset, destBytes, prevout, value, building.FeeRate,
		b.checkpointCfg.SigsetThresholdNum, b.checkpointCfg.SigsetThresholdDen, config.ScriptIntBits)
	if err != nil {
		return fmt.Errorf("build recovery tx: %w", err)
	}
	if err := b.recoveryMgr.Queue(ctx, tx); err != nil {
		return fmt.Errorf("queue recovery tx: %w", err)
	}
	slog.Info("recovery tx queued", "old_sigset", oldSigset.Index, "new_sigset", building.Sigset.Index)
	return nil
}
