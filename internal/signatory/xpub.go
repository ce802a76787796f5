package signatory

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// Xpub is a BIP-32 extended public key declared by a validator as its
// signatory account. The per-sigset signing pubkey is the non-hardened
// child at index = sigset.Index.
type Xpub struct {
	key *hdkeychain.ExtendedKey
}

// ParseXpub parses a base58-encoded extended public key. It rejects
// extended private keys — a declared signatory key must never carry
// private material.
func ParseXpub(s string) (*Xpub, error) {
	key, err := hdkeychain.NewKeyFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse xpub: %w", err)
	}
	if key.IsPrivate() {
		return nil, fmt.Errorf("parse xpub: extended key is private, expected public")
	}
	return &Xpub{key: key}, nil
}

// String returns the base58 serialization of the extended public key.
func (x *Xpub) String() string {
	return x.key.String()
}

// DeriveChildPubkey derives the non-hardened child at the given index and
// returns its compressed public key.
func (x *Xpub) DeriveChildPubkey(index uint32) (threshold.Pubkey, error) {
	var pk threshold.Pubkey
	if index >= hdkeychain.HardenedKeyStart {
		return pk, fmt.Errorf("derive child pubkey: index %d is in the hardened range", index)
	}
	child, err := x.key.Derive(index)
	if err != nil {
		return pk, fmt.Errorf("derive child pubkey at index %d: %w", index, err)
	}
	ecPub, err := child.ECPubKey()
	if err != nil {
		return pk, fmt.Errorf("extract child pubkey at index %d: %w", index, err)
	}
	copy(pk[:], ecPub.SerializeCompressed())
	return pk, nil
}

// DeriveSignatoryXpub derives the account-level signatory xpub from a
// master extended key, at path m/9999'/coin'/0' (BIP32SignatoryPurpose),
// under a purpose dedicated to signatory keys so it can never collide with
// an ordinary receive address.
func DeriveSignatoryXpub(masterKey *hdkeychain.ExtendedKey, net *chaincfg.Params, purpose, coinType uint32) (*Xpub, error) {
	account, err := deriveSignatoryAccountKey(masterKey, purpose, coinType)
	if err != nil {
		return nil, err
	}
	neutered, err := account.Neuter()
	if err != nil {
		return nil, fmt.Errorf("neuter signatory account key: %w", err)
	}
	return &Xpub{key: neutered}, nil
}

// DeriveSignatoryChildPrivKey derives the private key matching
// DeriveSignatoryXpub's child at the given sigset index, for use by the
// off-chain signer process. The caller owns zeroing the returned key.
func DeriveSignatoryChildPrivKey(masterKey *hdkeychain.ExtendedKey, purpose, coinType, index uint32) (*hdkeychain.ExtendedKey, error) {
	account, err := deriveSignatoryAccountKey(masterKey, purpose, coinType)
	if err != nil {
		return nil, err
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("derive signatory child key: index %d is in the hardened range", index)
	}
	child, err := account.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive signatory child key at index %d: %w", index, err)
	}
	return child, nil
}

// deriveSignatoryAccountKey walks m/purpose'/coin'/0'.
func deriveSignatoryAccountKey(masterKey *hdkeychain.ExtendedKey, purpose, coinType uint32) (*hdkeychain.ExtendedKey, error) {
	p, err := masterKey.Derive(hdkeychain.HardenedKeyStart + purpose)
	if err != nil {
		return nil, fmt.Errorf("derive signatory purpose key: %w", err)
	}
	coin, err := p.Derive(hdkeychain.HardenedKeyStart + coinType)
	if err != nil {
		return nil, fmt.Errorf("derive signatory coin key: %w", err)
	}
	account, err := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("derive signatory account key: %w", err)
	}
	return account, nil
}
