package bridge

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/Fantasim/nbtcbridge/internal/checkpoint"
	"github.com/Fantasim/nbtcbridge/internal/config"
)

// depositTx builds a one-output Bitcoin transaction paying value sats to
// the given sigset/dest's expected deposit script, returning the raw
// serialized bytes RelayDeposit expects as BtcTx.
func depositTx(t *testing.T, cp *checkpoint.Checkpoint, dest checkpoint.Dest, value uint64) []byte {
	t.Helper()
	destBytes, err := dest.CommitmentBytes()
	if err != nil {
		t.Fatalf("CommitmentBytes() error = %v", err)
	}
	thresholdVP := cp.Sigset.Threshold(config.SigsetThresholdNum, config.SigsetThresholdDen)
	script, err := cp.Sigset.OutputScript(destBytes, thresholdVP, config.ScriptIntBits)
	if err != nil {
		t.Fatalf("OutputScript() error = %v", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(int64(value), script))
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}
	return buf.Bytes()
}

func TestRelayDeposit_CreditsBuildingCheckpoint(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, err := tb.b.Queue().Building(ctx)
	if err != nil {
		t.Fatalf("Building() error = %v", err)
	}
	dest := checkpoint.NewAddressDest("addr1")
	req := RelayDepositRequest{
		BtcTx:       depositTx(t, building, dest, 1_000_000),
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         uint64(time.Now().Unix()),
	}
	if err := tb.b.RelayDeposit(ctx, req); err != nil {
		t.Fatalf("RelayDeposit() error = %v", err)
	}

	updated, err := tb.b.Queue().Building(ctx)
	if err != nil {
		t.Fatalf("Building() error = %v", err)
	}
	if len(updated.Pending) != 1 {
		t.Fatalf("len(Pending) = %d, want 1", len(updated.Pending))
	}
	if updated.FeesCollected == 0 {
		t.Error("expected FeesCollected to increase")
	}
	pool, err := tb.b.feePool(ctx)
	if err != nil {
		t.Fatalf("feePool() error = %v", err)
	}
	if pool == 0 {
		t.Error("expected fee pool to accumulate the deposit's miner fee")
	}
}

func TestRelayDeposit_RejectsInsufficientConfirmations(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	dest := checkpoint.NewAddressDest("addr1")
	req := RelayDepositRequest{
		BtcTx:       depositTx(t, building, dest, 1_000_000),
		BtcHeight:   tb.spv.height, // 0 confirmations, MinConfirmations = 1
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         uint64(time.Now().Unix()),
	}
	if err := tb.b.RelayDeposit(ctx, req); err != ErrInsufficientConfirmations {
		t.Fatalf("error = %v, want ErrInsufficientConfirmations", err)
	}
}

func TestRelayDeposit_RejectsInvalidProof(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	tb.spv.verify = ErrInvalidProof
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	dest := checkpoint.NewAddressDest("addr1")
	req := RelayDepositRequest{
		BtcTx:       depositTx(t, building, dest, 1_000_000),
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         uint64(time.Now().Unix()),
	}
	err := tb.b.RelayDeposit(ctx, req)
	if err == nil {
		t.Fatal("expected RelayDeposit to reject a failed SPV proof")
	}
}

func TestRelayDeposit_RejectsOutOfBoundsVout(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	dest := checkpoint.NewAddressDest("addr1")
	req := RelayDepositRequest{
		BtcTx:       depositTx(t, building, dest, 1_000_000),
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        5, // the fixture tx has a single output (index 0)
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         uint64(time.Now().Unix()),
	}
	if err := tb.b.RelayDeposit(ctx, req); err != ErrOutOfBounds {
		t.Fatalf("error = %v, want ErrOutOfBounds", err)
	}
}

func TestRelayDeposit_RejectsScriptMismatch(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	// Build the tx against one dest but claim a different one in the request.
	txBytes := depositTx(t, building, checkpoint.NewAddressDest("addr1"), 1_000_000)
	req := RelayDepositRequest{
		BtcTx:       txBytes,
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        checkpoint.NewAddressDest("addr2"),
		Now:         uint64(time.Now().Unix()),
	}
	if err := tb.b.RelayDeposit(ctx, req); err != ErrScriptMismatch {
		t.Fatalf("error = %v, want ErrScriptMismatch", err)
	}
}

func TestRelayDeposit_RejectsWhenDepositsDisabled(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	building.DepositsEnabled = false
	if err := tb.b.Queue().Set(ctx, building.Sigset.Index, building); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	dest := checkpoint.NewAddressDest("addr1")
	req := RelayDepositRequest{
		BtcTx:       depositTx(t, building, dest, 1_000_000),
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         uint64(time.Now().Unix()),
	}
	if err := tb.b.RelayDeposit(ctx, req); err != ErrDepositsDisabled {
		t.Fatalf("error = %v, want ErrDepositsDisabled", err)
	}
}

func TestRelayDeposit_RejectsAmountTooSmallForFee(t *testing.T) {
	tb := newTestBridge(t)
	tb.pushBuilding(t)
	ctx := context.Background()

	building, _ := tb.b.Queue().Building(ctx)
	dest := checkpoint.NewAddressDest("addr1")
	req := RelayDepositRequest{
		BtcTx:       depositTx(t, building, dest, 1), // 1 sat, dwarfed by the miner fee share
		BtcHeight:   tb.spv.height - 1,
		BtcProof:    []byte("proof"),
		Vout:        0,
		SigsetIndex: building.Sigset.Index,
		Dest:        dest,
		Now:         uint64(time.Now().Unix()),
	}
	if err := tb.b.RelayDeposit(ctx, req); err != ErrAmountTooSmallForFee {
		t.Fatalf("error = %v, want ErrAmountTooSmallForFee", err)
	}
}

func TestRelayDeposit_RejectsReplayedOutpoint(t *testing.T) {
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
		Now:         uint64(time.Now().Unix()),
	}
	if err := tb.b.RelayDeposit(ctx, req); err != nil {
		t.Fatalf("first RelayDeposit() error = %v", err)
	}
	if err := tb.b.RelayDeposit(ctx, req); err == nil {
		t.Fatal("expected second RelayDeposit of the same outpoint to fail")
	}
}

func TestRelayDeposit_RoutesExpiredDepositToRecovery(t *testing.T) {
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
		// Now far beyond the sigset's deposit expiry window.
		Now: building.Sigset.CreateTime + uint64((tb.b.btcCfg.MaxDepositAge).Seconds()) + 1,
	}
	if err := tb.b.RelayDeposit(ctx, req); err != nil {
		t.Fatalf("RelayDeposit() error = %v", err)
	}

	pending, err := tb.b.RecoveryManager().Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("len(pending recovery txs) = %d, want 1", len(pending))
	}

	updated, err := tb.b.Queue().Building(ctx)
	if err != nil {
		t.Fatalf("Building() error = %v", err)
	}
	if len(updated.Pending) != 0 {
		t.Error("expected the expired deposit to skip crediting the checkpoint directly")
	}
}
