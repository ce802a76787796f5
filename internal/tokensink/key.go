package tokensink

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/wallet"
)

// adminKey reads the mnemonic fresh and derives the sink's single EVM
// signing key at m/44'/60'/0'/0/TokenSinkKeyIndex, pinned to one fixed
// index instead of one per customer address.
func adminKey(mnemonicFilePath, network string) (*ecdsa.PrivateKey, common.Address, error) {
	if mnemonicFilePath == "" {
		return nil, common.Address{}, ErrMnemonicNotConfigured
	}

	masterKey, err := wallet.MasterKeyFromMnemonicFile(mnemonicFilePath, network)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive admin master key: %w", err)
	}

	purpose, err := masterKey.Derive(hdkeychain.HardenedKeyStart + uint32(config.BIP44Purpose))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive purpose key: %w", err)
	}
	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + uint32(config.EVMCoinType))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive coin key: %w", err)
	}
	account, err := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive account key: %w", err)
	}
	change, err := account.Derive(0)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive change key: %w", err)
	}
	child, err := change.Derive(uint32(config.TokenSinkKeyIndex))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("derive admin key at index %d: %w", config.TokenSinkKeyIndex, err)
	}

	privKey, err := child.ECPrivKey()
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("extract admin private key: %w", err)
	}

	ecdsaKey := privKey.ToECDSA()
	addr := crypto.PubkeyToAddress(ecdsaKey.PublicKey)
	return ecdsaKey, addr, nil
}
