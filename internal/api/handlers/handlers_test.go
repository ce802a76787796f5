package handlers

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/nbtcbridge/internal/api"
	"github.com/Fantasim/nbtcbridge/internal/bridge"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/storage"
	"github.com/Fantasim/nbtcbridge/internal/validatorset"
)

// jsonBody wraps a JSON literal as an io.Reader for httptest.NewRequest.
func jsonBody(s string) *strings.Reader {
	return strings.NewReader(s)
}

// fakeSPV is a no-op internal/bridge.SPV implementation: the handler tests
// exercise request binding and validation, not Bitcoin header verification.
type fakeSPV struct{}

func (fakeSPV) HeaderHeight(ctx context.Context) (uint32, error) { return 800000, nil }
func (fakeSPV) Network(ctx context.Context) (string, error)      { return "testnet", nil }
func (fakeSPV) VerifyTxWithProof(ctx context.Context, btcTx []byte, btcHeight uint32, proof []byte) error {
	return nil
}

// fakeSink is a no-op internal/bridge.TokenSink implementation.
type fakeSink struct{}

func (fakeSink) Mint(ctx context.Context, denom string, to []byte, amount uint64) error { return nil }
func (fakeSink) Burn(ctx context.Context, denom string, amount uint64) error            { return nil }

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "handlers_test.sqlite"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestHub() *api.ProgressHub {
	return api.NewProgressHub()
}

func testXpubString(t *testing.T, seed byte) string {
	t.Helper()
	return testXpub(t, seed).String()
}

func testXpub(t *testing.T, seed byte) *signatory.Xpub {
	t.Helper()
	s := make([]byte, 32)
	for i := range s {
		s[i] = seed
	}
	master, err := hdkeychain.NewMaster(s, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("NewMaster() error = %v", err)
	}
	xpub, err := signatory.DeriveSignatoryXpub(master, &chaincfg.MainNetParams, config.BIP32SignatoryPurpose, config.BTCCoinType)
	if err != nil {
		t.Fatalf("DeriveSignatoryXpub() error = %v", err)
	}
	return xpub
}

// newTestBridge wires a *bridge.Bitcoin against a fresh on-disk sqlite
// store, a single-validator static oracle and no-op SPV/sink collaborators.
func newTestBridge(t *testing.T) *bridge.Bitcoin {
	t.Helper()
	store := newTestStore(t)
	key := [32]byte{7}
	oracle := validatorset.NewStaticOracle([]validatorset.OracleValidator{
		{ConsensusKey: key, VotingPower: 10, OperatorAddr: "validator-a"},
	})
	validators := validatorset.NewRegistry(oracle, store)
	if err := validators.SetSignatoryKey(context.Background(), key, testXpub(t, 7)); err != nil {
		t.Fatalf("SetSignatoryKey() error = %v", err)
	}
	return bridge.New(store, config.DefaultCheckpointConfig(), config.DefaultBitcoinConfig(), validators, fakeSPV{}, fakeSink{})
}

// pushBuildingCheckpoint drives BeginBlockStep once so the queue holds a
// checkpoint at index 0, the minimum fixture GetCheckpoint/building-index
// handlers need.
func pushBuildingCheckpoint(t *testing.T, b *bridge.Bitcoin) {
	t.Helper()
	if _, err := b.BeginBlockStep(context.Background(), 800000, []byte("commitment"), uint64(time.Now().Unix())); err != nil {
		t.Fatalf("BeginBlockStep() error = %v", err)
	}
}
