package bridge

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// advanceToSigning pushes a deposit onto the Building checkpoint at index
// and advances it to Signing, returning the frozen checkpoint and the
// sighash message its single input needs signed.
func (tb *testBridge) advanceToSigning(t *testing.T, index uint32) (*checkpoint.Checkpoint, [32]byte) {
	t.Helper()
	ctx := context.Background()
	cp, err := tb.b.Queue().Get(ctx, index)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	in := &checkpointtx.Input{
		ScriptPubkey:    []byte{0x00, 0x20},
		RedeemScript:    []byte{0x51},
		Amount:          100_000,
		EstWitnessVsize: cp.Sigset.EstWitnessVsize(),
		Signatures:      threshold.New(cp.Sigset.ToThresholdSignatories(), cp.Sigset.PresentVP, config.SigsetThresholdNum, config.SigsetThresholdDen),
	}
	dest := checkpoint.NewAddressDest("addr1")
	if err := cp.AddDeposit(in, dest, checkpoint.Coin{Denom: "nbtc", Amount: 90_000}); err != nil {
		t.Fatalf("AddDeposit() error = %v", err)
	}

	cfg := config.DefaultCheckpointConfig()
	if _, err := cp.Advance([]byte("commitment"), 100, cfg.MaxInputs, cfg.MaxOutputs, config.ScriptIntBits, config.SigsetThresholdNum, config.SigsetThresholdDen); err != nil {
		t.Fatalf("Advance() error = %v", err)
	}
	if err := tb.b.Queue().Set(ctx, index, cp); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	return cp, cp.Tx().Inputs[0].Signatures.Message
}

func (tb *testBridge) signMessage(t *testing.T, sigsetIndex uint32, message [32]byte) threshold.Sig {
	t.Helper()
	childKey, err := signatory.DeriveSignatoryChildPrivKey(tb.master, config.BIP32SignatoryPurpose, config.BTCCoinType, sigsetIndex)
	if err != nil {
		t.Fatalf("DeriveSignatoryChildPrivKey() error = %v", err)
	}
	priv, err := childKey.ECPrivKey()
	if err != nil {
		t.Fatalf("ECPrivKey() error = %v", err)
	}
	compact := ecdsa.SignCompact(priv, message[:], true)
	var sig threshold.Sig
	copy(sig[:], compact[1:])
	return sig
}

func TestSubmitCheckpointSignature_CompletesCheckpoint(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	cp, message := tb.advanceToSigning(t, 0)
	ctx := context.Background()

	sig := tb.signMessage(t, cp.Sigset.Index, message)
	xpub := testXpub(t, 7)
	if err := tb.b.SubmitCheckpointSignature(ctx, xpub, []threshold.Sig{sig}, 0, 900_000); err != nil {
		t.Fatalf("SubmitCheckpointSignature() error = %v", err)
	}

	updated, err := tb.b.Queue().Get(ctx, 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if updated.Status != checkpoint.StatusComplete {
		t.Fatalf("Status = %v, want Complete", updated.Status)
	}
}

func TestSubmitRecoverySignature_SignsQueuedTx(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	dest := checkpoint.NewAddressDest("addr1")
	txBytes := depositTx(t, building, dest, 1_000_000)
	req := RelayDepositRequest{
		BtcTx:       txBytes,
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         building.Sigset.CreateTime + uint64(tb.b.btcCfg.MaxDepositAge.Seconds()) + 1,
	}
	if err := tb.b.RelayDeposit(ctx, req); err != nil {
		t.Fatalf("RelayDeposit() error = %v", err)
	}

	pending, err := tb.b.RecoveryManager().Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("Pending() = %+v, err = %v, want one queued recovery tx", pending, err)
	}
	rtx := pending[0]
	message := rtx.Tx.Inputs[0].Signatures.Message
	sig := tb.signMessage(t, rtx.OldSigsetIndex, message)

	xpub := testXpub(t, 7)
	if err := tb.b.SubmitRecoverySignature(ctx, xpub, []threshold.Sig{sig}); err != nil {
		t.Fatalf("SubmitRecoverySignature() error = %v", err)
	}

	signed, err := tb.b.RecoveryManager().Signed(ctx)
	if err != nil {
		t.Fatalf("Signed() error = %v", err)
	}
	if len(signed) != 1 {
		t.Fatalf("len(Signed) = %d, want 1", len(signed))
	}
}

func TestSubmitRecoverySignature_RejectsTooFewSignatures(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	dest := checkpoint.NewAddressDest("addr1")
	txBytes := depositTx(t, building, dest, 1_000_000)
	req := RelayDepositRequest{
		BtcTx:       txBytes,
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         building.Sigset.CreateTime + uint64(tb.b.btcCfg.MaxDepositAge.Seconds()) + 1,
	}
	if err := tb.b.RelayDeposit(ctx, req); err != nil {
		t.Fatalf("RelayDeposit() error = %v", err)
	}

	xpub := testXpub(t, 7)
	if err := tb.b.SubmitRecoverySignature(ctx, xpub, nil); err != ErrNotEnoughRecoverySignatures {
		t.Fatalf("error = %v, want ErrNotEnoughRecoverySignatures", err)
	}
}

func TestSetSignatoryKey_RejectsDuplicateDifferentXpub(t *testing.T) {
	tb := newTestBridge(t)
	ctx := context.Background()

	if err := tb.b.SetSignatoryKey(ctx, tb.key, testXpub(t, 99)); err != ErrDuplicateSignatoryKey {
		t.Fatalf("error = %v, want ErrDuplicateSignatoryKey", err)
	}
}

func TestSetSignatoryKey_AllowsReDeclaringSameXpub(t *testing.T) {
	tb := newTestBridge(t)
	ctx := context.Background()

	if err := tb.b.SetSignatoryKey(ctx, tb.key, testXpub(t, 7)); err != nil {
		t.Fatalf("SetSignatoryKey() error = %v", err)
	}
}
