// Package signerkey derives a validator's own signatory key material from a
// mnemonic file and produces the compact signatures the bridge's signing
// entry points (SubmitCheckpointSignature, SubmitRecoverySignature) expect.
// It is the off-chain counterpart to internal/signatory's on-chain xpub
// bookkeeping: the same derivation path, walked with the private half.
package signerkey

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
	"github.com/Fantasim/nbtcbridge/internal/wallet"
)

// Signer derives signatory keys on demand from a mnemonic file, keeping
// the decoded seed alive only for the duration of a single derivation
// call.
type Signer struct {
	mnemonicFilePath string
	network          string
}

// New binds a Signer to the mnemonic file holding a validator's signing
// seed.
func New(mnemonicFilePath, network string) *Signer {
	return &Signer{mnemonicFilePath: mnemonicFilePath, network: network}
}

// Xpub derives the account-level signatory xpub (m/9999'/coin'/0') this
// validator should declare via Bitcoin.SetSignatoryKey.
func (s *Signer) Xpub() (*signatory.Xpub, error) {
	masterKey, err := wallet.MasterKeyFromMnemonicFile(s.mnemonicFilePath, s.network)
	if err != nil {
		return nil, fmt.Errorf("signerkey: derive master key: %w", err)
	}

	net := wallet.NetworkParams(s.network)
	xpub, err := signatory.DeriveSignatoryXpub(masterKey, net, config.BIP32SignatoryPurpose, coinType(net))
	if err != nil {
		return nil, fmt.Errorf("signerkey: derive xpub: %w", err)
	}
	return xpub, nil
}

// SignSighash signs a single sighash with the signatory key for the given
// sigset index, returning the 64-byte compact signature Bitcoin.
// SubmitCheckpointSignature and SubmitRecoverySignature expect. Recovery
// signatures must pass the old sigset's index (Tx.OldSigsetIndex), not the
// current one — callers derive the index from whichever entry point they
// are feeding.
func (s *Signer) SignSighash(sigsetIndex uint32, sighash [32]byte) (threshold.Sig, error) {
	var sig threshold.Sig

	masterKey, err := wallet.MasterKeyFromMnemonicFile(s.mnemonicFilePath, s.network)
	if err != nil {
		return sig, fmt.Errorf("signerkey: derive master key: %w", err)
	}

	net := wallet.NetworkParams(s.network)
	childKey, err := signatory.DeriveSignatoryChildPrivKey(masterKey, config.BIP32SignatoryPurpose, coinType(net), sigsetIndex)
	if err != nil {
		return sig, fmt.Errorf("signerkey: derive signing key at sigset %d: %w", sigsetIndex, err)
	}

	privKey, err := childKey.ECPrivKey()
	if err != nil {
		return sig, fmt.Errorf("signerkey: extract signing key at sigset %d: %w", sigsetIndex, err)
	}

	compact := ecdsa.SignCompact(privKey, sighash[:], true)
	copy(sig[:], compact[1:]) // strip the leading recovery byte
	return sig, nil
}

// SignBatch signs every sighash in order against the same sigset index, the
// shape Bitcoin.SigningTxsAtCheckpointIndex's []ToSign slice needs filled in.
func (s *Signer) SignBatch(sigsetIndex uint32, sighashes [][32]byte) ([]threshold.Sig, error) {
	sigs := make([]threshold.Sig, len(sighashes))
	for i, sighash := range sighashes {
		sig, err := s.SignSighash(sigsetIndex, sighash)
		if err != nil {
			return nil, fmt.Errorf("signerkey: sign sighash %d/%d: %w", i+1, len(sighashes), err)
		}
		sigs[i] = sig
	}
	return sigs, nil
}

func coinType(net *chaincfg.Params) uint32 {
	if net == &chaincfg.TestNet3Params {
		return config.BTCTestCoinType
	}
	return config.BTCCoinType
}
