package bridge

import (
	"context"
	"testing"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

func TestValueLocked_ZeroWithNoCompletedCheckpoints(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	v, err := tb.b.ValueLocked(ctx)
	if err != nil {
		t.Fatalf("ValueLocked() error = %v", err)
	}
	if v != 0 {
		t.Errorf("ValueLocked() = %d, want 0", v)
	}
}

func TestValueLocked_ReturnsLastCompletedReserveValue(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	cp := tb.completeCheckpoint(t, 0)
	ctx := context.Background()

	if _, err := tb.b.Queue().MaybePush(ctx, 2_000_000_000, true); err != nil {
		t.Fatalf("MaybePush() error = %v", err)
	}

	v, err := tb.b.ValueLocked(ctx)
	if err != nil {
		t.Fatalf("ValueLocked() error = %v", err)
	}
	if v != cp.Tx().Outputs[0].Value {
		t.Errorf("ValueLocked() = %d, want %d", v, cp.Tx().Outputs[0].Value)
	}
}

func TestSigningTxsAtCheckpointIndex_ListsThenClearsOutstandingInput(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	_, message := tb.advanceToSigning(t, 0)
	ctx := context.Background()

	xpub := testXpub(t, 7)
	toSign, err := tb.b.SigningTxsAtCheckpointIndex(ctx, xpub, 0)
	if err != nil {
		t.Fatalf("SigningTxsAtCheckpointIndex() error = %v", err)
	}
	if len(toSign) != 1 || toSign[0].Sighash != message {
		t.Fatalf("toSign = %+v, want one entry matching the frozen sighash", toSign)
	}

	sig := tb.signMessage(t, toSign[0].SigsetIndex, toSign[0].Sighash)
	if err := tb.b.SubmitCheckpointSignature(ctx, xpub, []threshold.Sig{sig}, 0, 900_000); err != nil {
		t.Fatalf("SubmitCheckpointSignature() error = %v", err)
	}

	toSignAfter, err := tb.b.SigningTxsAtCheckpointIndex(ctx, xpub, 0)
	if err != nil {
		t.Fatalf("SigningTxsAtCheckpointIndex() (post-sign) error = %v", err)
	}
	if len(toSignAfter) != 0 {
		t.Errorf("toSignAfter = %+v, want empty once the only signatory has signed", toSignAfter)
	}
}

// buildSigningCheckpoint advances the checkpoint at index to Signing with a
// single deposit of depositAmount sats, so ChangeRates has a reserve value
// and creation time to compare across checkpoints.
func buildSigningCheckpoint(t *testing.T, tb *testBridge, index uint32, depositAmount uint64) *checkpoint.Checkpoint {
	t.Helper()
	ctx := context.Background()
	cp, err := tb.b.Queue().Get(ctx, index)
	if err != nil {
		t.Fatalf("Get(%d) error = %v", index, err)
	}
	in := &checkpointtx.Input{
		ScriptPubkey:    []byte{0x00, 0x20},
		RedeemScript:    []byte{0x51},
		Amount:          depositAmount,
		EstWitnessVsize: cp.Sigset.EstWitnessVsize(),
		Signatures:      threshold.New(cp.Sigset.ToThresholdSignatories(), cp.Sigset.PresentVP, config.SigsetThresholdNum, config.SigsetThresholdDen),
	}
	if err := cp.AddDeposit(in, checkpoint.NewAddressDest("addr1"), checkpoint.Coin{Denom: "nbtc", Amount: depositAmount - 1000}); err != nil {
		t.Fatalf("AddDeposit() error = %v", err)
	}
	cfg := config.DefaultCheckpointConfig()
	if _, err := cp.Advance([]byte("commitment"), 100, cfg.MaxInputs, cfg.MaxOutputs, config.ScriptIntBits, config.SigsetThresholdNum, config.SigsetThresholdDen); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if err := tb.b.Queue().Set(ctx, index, cp); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	return cp
}

func TestChangeRates_ReportsWithdrawalAndNoSigsetTurnover(t *testing.T) {
	tb := newTestBridge(t)
	ctx := context.Background()

	const t0 = 1_700_000_000
	if _, err := tb.b.Queue().MaybePush(ctx, t0, true); err != nil {
		t.Fatalf("MaybePush(t0) error = %v", err)
	}
	buildSigningCheckpoint(t, tb, 0, 200_000)

	const t1 = t0 + 1_000
	if _, err := tb.b.Queue().MaybePush(ctx, t1, true); err != nil {
		t.Fatalf("MaybePush(t1) error = %v", err)
	}
	buildSigningCheckpoint(t, tb, 1, 100_000)

	const t2 = t1 + 1_000
	if _, err := tb.b.Queue().MaybePush(ctx, t2, true); err != nil {
		t.Fatalf("MaybePush(t2) error = %v", err)
	}

	rates, err := tb.b.ChangeRates(ctx, 500)
	if err != nil {
		t.Fatalf("ChangeRates() error = %v", err)
	}
	if rates.Withdrawal == 0 {
		t.Error("expected a nonzero withdrawal basis-point rate: the historical reserve was larger")
	}
	if rates.SigsetChange != 0 {
		t.Errorf("SigsetChange = %d, want 0 (the same single validator secures both checkpoints)", rates.SigsetChange)
	}
}
