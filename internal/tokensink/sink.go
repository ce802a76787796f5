// Package tokensink mints and burns the sidechain's nBTC asset against a
// contract on an EVM-compatible sidechain, the bridge.TokenSink
// collaborator. Transaction construction, signing and receipt polling
// follow a standard EVM send path; the contract itself is the bridge's own
// token factory rather than a BEP-20 token, so mint/burn replace transfer
// as the encoded call.
package tokensink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Fantasim/nbtcbridge/internal/config"
)

// Sink implements bridge.TokenSink against a single EVM sidechain contract,
// signed by one admin key derived on demand from a mnemonic file.
type Sink struct {
	client           EthClient
	contract         common.Address
	chainID          *big.Int
	mnemonicFilePath string
	network          string
}

// New binds a Sink to an RPC client and contract address. mnemonicFilePath
// may be empty at construction time — the key is only required when Mint
// or Burn is actually called.
func New(client EthClient, contractAddr string, mnemonicFilePath, network string, chainID int64) (*Sink, error) {
	if contractAddr == "" {
		return nil, ErrContractNotConfigured
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("%w: %q is not a valid address", ErrContractNotConfigured, contractAddr)
	}

	return &Sink{
		client:           client,
		contract:         common.HexToAddress(contractAddr),
		chainID:          big.NewInt(chainID),
		mnemonicFilePath: mnemonicFilePath,
		network:          network,
	}, nil
}

// Mint credits amount of denom to the EVM address encoded in to.
func (s *Sink) Mint(ctx context.Context, denom string, to []byte, amount uint64) error {
	if len(to) != common.AddressLength {
		return fmt.Errorf("tokensink: mint destination is %d bytes, want %d", len(to), common.AddressLength)
	}
	dest := common.BytesToAddress(to)

	data := encodeMint(denom, dest, new(big.Int).SetUint64(amount))
	txHash, err := s.send(ctx, data)
	if err != nil {
		return fmt.Errorf("tokensink: mint %d %s to %s: %w", amount, denom, dest.Hex(), err)
	}

	slog.Info("tokensink mint broadcast", "denom", denom, "to", dest.Hex(), "amount", amount, "txHash", txHash.Hex())
	return s.waitForReceipt(ctx, txHash)
}

// Burn debits amount of denom from the bridge's sidechain reserve.
func (s *Sink) Burn(ctx context.Context, denom string, amount uint64) error {
	data := encodeBurn(denom, new(big.Int).SetUint64(amount))
	txHash, err := s.send(ctx, data)
	if err != nil {
		return fmt.Errorf("tokensink: burn %d %s: %w", amount, denom, err)
	}

	slog.Info("tokensink burn broadcast", "denom", denom, "amount", amount, "txHash", txHash.Hex())
	return s.waitForReceipt(ctx, txHash)
}

// send signs and broadcasts a call to the sink contract, returning the
// transaction hash.
func (s *Sink) send(ctx context.Context, data []byte) (common.Hash, error) {
	privKey, from, err := adminKey(s.mnemonicFilePath, s.network)
	if err != nil {
		return common.Hash{}, fmt.Errorf("derive admin key: %w", err)
	}

	nonce, err := s.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce for %s: %w", from.Hex(), err)
	}

	suggested, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	gasPrice := bufferedGasPrice(suggested)

	contract := s.contract
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    big.NewInt(0),
		Gas:      config.TokenSinkGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), privKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast transaction: %w", err)
	}

	return signed.Hash(), nil
}

// bufferedGasPrice applies a flat buffer over the node's suggested gas
// price before broadcasting a transaction.
func bufferedGasPrice(suggested *big.Int) *big.Int {
	buffered := new(big.Int).Mul(suggested, big.NewInt(config.TokenSinkGasPriceBufferNumerator))
	return buffered.Div(buffered, big.NewInt(config.TokenSinkGasPriceBufferDenominator))
}

// waitForReceipt polls for a mined receipt until success, revert, or
// timeout.
func (s *Sink) waitForReceipt(ctx context.Context, txHash common.Hash) error {
	pollCtx, cancel := context.WithTimeout(ctx, config.TokenSinkReceiptPollTimeout)
	defer cancel()

	for {
		receipt, err := s.client.TransactionReceipt(pollCtx, txHash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("%w: tx %s reverted in block %d", config.ErrTxReverted, txHash.Hex(), receipt.BlockNumber.Uint64())
			}
			slog.Debug("tokensink receipt confirmed", "txHash", txHash.Hex(), "blockNumber", receipt.BlockNumber)
			return nil
		}

		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("query receipt for %s: %w", txHash.Hex(), err)
		}

		select {
		case <-pollCtx.Done():
			return fmt.Errorf("%w: tx %s not mined within timeout", config.ErrReceiptTimeout, txHash.Hex())
		case <-time.After(config.TokenSinkReceiptPollInterval):
		}
	}
}
