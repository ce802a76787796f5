package bridge

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/storage"
	"github.com/Fantasim/nbtcbridge/internal/validatorset"
)

// fakeSPV is a no-op SPV implementation: most tests exercise façade logic,
// not Bitcoin header validation.
type fakeSPV struct {
	height  uint32
	network string
	verify  error
}

func (f *fakeSPV) HeaderHeight(ctx context.Context) (uint32, error) { return f.height, nil }
func (f *fakeSPV) Network(ctx context.Context) (string, error)      { return f.network, nil }
func (f *fakeSPV) VerifyTxWithProof(ctx context.Context, btcTx []byte, btcHeight uint32, proof []byte) error {
	return f.verify
}

func newFakeSPV() *fakeSPV {
	return &fakeSPV{height: 800_000, network: "mainnet"}
}

// fakeSink is a no-op TokenSink implementation.
type fakeSink struct{}

func (fakeSink) Mint(ctx context.Context, denom string, to []byte, amount uint64) error { return nil }
func (fakeSink) Burn(ctx context.Context, denom string, amount uint64) error            { return nil }

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "bridge_test.sqlite"))
	if err != nil {
		t.Fatalf("storage.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testMaster derives a real BIP32 master key from a 32-byte repeated-seed,
// so tests can produce real signatures and xpubs rather than fixtures.
func testMaster(t *testing.T, seed byte) *hdkeychain.ExtendedKey {
	t.Helper()
	s := make([]byte, 32)
	for i := range s {
		s[i] = seed
	}
	master, err := hdkeychain.NewMaster(s, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("NewMaster() error = %v", err)
	}
	return master
}

func testXpub(t *testing.T, seed byte) *signatory.Xpub {
	t.Helper()
	xpub, err := signatory.DeriveSignatoryXpub(testMaster(t, seed), &chaincfg.MainNetParams, config.BIP32SignatoryPurpose, config.BTCCoinType)
	if err != nil {
		t.Fatalf("DeriveSignatoryXpub() error = %v", err)
	}
	return xpub
}

// testBridge bundles a *Bitcoin façade with the validator fixture and spy
// collaborators backing it, so tests can both call façade methods and
// inspect/tune the fakes underneath.
type testBridge struct {
	b          *Bitcoin
	store      storage.Store
	oracle     *validatorset.StaticOracle
	validators *validatorset.Registry
	spv        *fakeSPV
	master     *hdkeychain.ExtendedKey
	key        [32]byte
}

// newTestBridge wires a *Bitcoin against a fresh on-disk sqlite store and a
// single-validator static oracle carrying 100% voting power, declared
// under seed 7 — enough to clear the 90% quorum threshold alone.
func newTestBridge(t *testing.T) *testBridge {
	t.Helper()
	store := newTestStore(t)
	key := [32]byte{7}
	oracle := validatorset.NewStaticOracle([]validatorset.OracleValidator{
		{ConsensusKey: key, VotingPower: 100, OperatorAddr: "validator-a"},
	})
	validators := validatorset.NewRegistry(oracle, store)
	master := testMaster(t, 7)
	if err := validators.SetSignatoryKey(context.Background(), key, testXpub(t, 7)); err != nil {
		t.Fatalf("SetSignatoryKey() error = %v", err)
	}
	spv := newFakeSPV()
	b := New(store, config.DefaultCheckpointConfig(), config.DefaultBitcoinConfig(), validators, spv, fakeSink{})
	return &testBridge{b: b, store: store, oracle: oracle, validators: validators, spv: spv, master: master, key: key}
}

// pushBuilding drives BeginBlockStep once so the queue holds a Building
// checkpoint at index 0.
func (tb *testBridge) pushBuilding(t *testing.T) {
	t.Helper()
	if _, err := tb.b.BeginBlockStep(context.Background(), tb.spv.height, []byte("commitment"), uint64(time.Now().Unix())); err != nil {
		t.Fatalf("BeginBlockStep() error = %v", err)
	}
}
