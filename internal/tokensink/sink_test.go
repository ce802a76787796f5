package tokensink

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Fantasim/nbtcbridge/internal/config"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

type mockEthClient struct {
	pendingNonce uint64
	gasPrice     *big.Int
	sendTxErr    error
	receipt      *types.Receipt
	receiptErr   error
	callResult   []byte

	sentTxs []*types.Transaction
}

func (m *mockEthClient) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	return m.pendingNonce, nil
}

func (m *mockEthClient) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.gasPrice), nil
}

func (m *mockEthClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.sentTxs = append(m.sentTxs, tx)
	return m.sendTxErr
}

func (m *mockEthClient) TransactionReceipt(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	if m.receiptErr != nil {
		return nil, m.receiptErr
	}
	return m.receipt, nil
}

func (m *mockEthClient) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return m.callResult, nil
}

func writeMnemonic(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mnemonic.txt")
	if err := os.WriteFile(path, []byte(testMnemonic), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestSink(t *testing.T, client EthClient) *Sink {
	t.Helper()
	sink, err := New(client, "0x1234567890AbcdEF1234567890aBcdef12345678", writeMnemonic(t), "testnet", 97)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sink
}

func TestNew_RejectsInvalidContract(t *testing.T) {
	if _, err := New(&mockEthClient{}, "not-an-address", "", "testnet", 97); err == nil {
		t.Fatal("expected error for invalid contract address")
	}
	if _, err := New(&mockEthClient{}, "", "", "testnet", 97); !errors.Is(err, ErrContractNotConfigured) {
		t.Fatalf("expected ErrContractNotConfigured, got %v", err)
	}
}

func TestMint_BroadcastsSignedTx(t *testing.T) {
	mock := &mockEthClient{
		pendingNonce: 4,
		gasPrice:     big.NewInt(1_000_000_000),
		receipt:      &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)},
	}
	sink := newTestSink(t, mock)

	to := make([]byte, common.AddressLength)
	to[19] = 0x42

	if err := sink.Mint(context.Background(), "nbtc", to, 50_000); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if len(mock.sentTxs) != 1 {
		t.Fatalf("expected 1 broadcast tx, got %d", len(mock.sentTxs))
	}
	tx := mock.sentTxs[0]
	if tx.Nonce() != 4 {
		t.Errorf("nonce = %d, want 4", tx.Nonce())
	}
	wantGasPrice := bufferedGasPrice(mock.gasPrice)
	if tx.GasPrice().Cmp(wantGasPrice) != 0 {
		t.Errorf("gas price = %s, want %s", tx.GasPrice(), wantGasPrice)
	}
	data := tx.Data()
	if len(data) != 4+32+32+32 {
		t.Fatalf("mint calldata length = %d, want %d", len(data), 4+32+32+32)
	}
	for i, b := range mintSelector {
		if data[i] != b {
			t.Fatalf("mint calldata selector mismatch at byte %d", i)
		}
	}
}

func TestMint_RejectsWrongAddressLength(t *testing.T) {
	sink := newTestSink(t, &mockEthClient{})
	err := sink.Mint(context.Background(), "nbtc", []byte{0x01, 0x02}, 1)
	if err == nil {
		t.Fatal("expected error for malformed destination address")
	}
}

func TestBurn_BroadcastsSignedTx(t *testing.T) {
	mock := &mockEthClient{
		pendingNonce: 0,
		gasPrice:     big.NewInt(5_000_000_000),
		receipt:      &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1)},
	}
	sink := newTestSink(t, mock)

	if err := sink.Burn(context.Background(), "nbtc", 1_000); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if len(mock.sentTxs) != 1 {
		t.Fatalf("expected 1 broadcast tx, got %d", len(mock.sentTxs))
	}
	data := mock.sentTxs[0].Data()
	if len(data) != 4+32+32 {
		t.Fatalf("burn calldata length = %d, want %d", len(data), 4+32+32)
	}
}

func TestMint_RevertedReceipt(t *testing.T) {
	mock := &mockEthClient{
		gasPrice: big.NewInt(1),
		receipt:  &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(9)},
	}
	sink := newTestSink(t, mock)

	err := sink.Mint(context.Background(), "nbtc", make([]byte, common.AddressLength), 1)
	if !errors.Is(err, config.ErrTxReverted) {
		t.Fatalf("expected ErrTxReverted, got %v", err)
	}
}

func TestBurn_ReceiptTimeout(t *testing.T) {
	mock := &mockEthClient{
		gasPrice:   big.NewInt(1),
		receiptErr: ethereum.NotFound,
	}
	sink := newTestSink(t, mock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := sink.Burn(ctx, "nbtc", 1)
	if !errors.Is(err, config.ErrReceiptTimeout) {
		t.Fatalf("expected ErrReceiptTimeout, got %v", err)
	}
}

func TestBufferedGasPrice(t *testing.T) {
	got := bufferedGasPrice(big.NewInt(100))
	if got.Cmp(big.NewInt(120)) != 0 {
		t.Errorf("bufferedGasPrice(100) = %s, want 120", got)
	}
}
