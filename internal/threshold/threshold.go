// Package threshold implements the per-sighash multi-signer aggregator that
// tracks, for one Bitcoin transaction input, which signatories in its
// sigset have contributed a valid signature and whether their combined
// voting power has crossed the quorum threshold.
package threshold

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Pubkey is a 33-byte compressed secp256k1 public key.
type Pubkey [33]byte

// MarshalText renders the pubkey as hex, so a ThresholdSig persists as
// readable JSON rather than an array of byte values.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p[:])), nil
}

// UnmarshalText parses a hex-encoded pubkey.
func (p *Pubkey) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parse pubkey hex: %w", err)
	}
	if len(b) != 33 {
		return fmt.Errorf("pubkey must be 33 bytes, got %d", len(b))
	}
	copy(p[:], b)
	return nil
}

// Sig is a 64-byte compact ECDSA signature: 32-byte R followed by 32-byte S,
// low-S normalized. It carries no recovery byte — the signer is identified
// by the Pubkey the caller supplies, not recovered from the signature.
type Sig [64]byte

func (s Sig) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

func (s *Sig) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parse sig hex: %w", err)
	}
	if len(b) != 64 {
		return fmt.Errorf("sig must be 64 bytes, got %d", len(b))
	}
	copy(s[:], b)
	return nil
}

// Entry tracks one signatory's standing against a single sighash. Entries
// are kept as an ordered slice (not a map) so the sigset order — voting
// power descending — is preserved for ToWitness without a separate index.
type Entry struct {
	Pubkey      Pubkey `json:"pubkey"`
	VotingPower uint64 `json:"voting_power"`
	Signed      bool   `json:"signed"`
	Sig         Sig    `json:"sig"`
}

// ThresholdSig is the aggregator for one transaction input: the sighash it
// must be signed against, the signatories entitled to sign it, and the
// voting power collected so far.
type ThresholdSig struct {
	Message     [32]byte `json:"message"`
	MessageSet  bool     `json:"message_set"`
	Entries     []Entry  `json:"entries"`
	SignedVP    uint64   `json:"signed_vp"`
	ThresholdVP uint64   `json:"threshold_vp"`
}

// Signatory is the minimal shape New needs from a sigset member;
// internal/signatory.Signatory satisfies it structurally.
type Signatory struct {
	Pubkey      Pubkey
	VotingPower uint64
}

// New builds a ThresholdSig entry table from a sigset's signatories (already
// sorted voting-power descending) and a (num, den) quorum ratio, e.g.
// (9, 10) for 90%.
func New(signatories []Signatory, presentVP uint64, thresholdNum, thresholdDen uint64) *ThresholdSig {
	ts := &ThresholdSig{
		ThresholdVP: ceilDiv(presentVP*thresholdNum, thresholdDen),
	}
	for _, s := range signatories {
		ts.Entries = append(ts.Entries, Entry{Pubkey: s.Pubkey, VotingPower: s.VotingPower})
	}
	return ts
}

func ceilDiv(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return (num + den - 1) / den
}

func (ts *ThresholdSig) find(pubkey Pubkey) *Entry {
	for i := range ts.Entries {
		if ts.Entries[i].Pubkey == pubkey {
			return &ts.Entries[i]
		}
	}
	return nil
}

// SetMessage freezes the sighash this aggregator signs against. Called
// exactly once, when the containing checkpoint transitions Building to
// Signing.
func (ts *ThresholdSig) SetMessage(message [32]byte) error {
	if ts.MessageSet {
		return ErrMessageAlreadySet
	}
	ts.Message = message
	ts.MessageSet = true
	return nil
}

// NeedsSig reports whether pubkey is a known signatory that has not yet
// signed.
func (ts *ThresholdSig) NeedsSig(pubkey Pubkey) bool {
	e := ts.find(pubkey)
	return e != nil && !e.Signed
}

// Sign verifies sig against (message, pubkey) and, on success, records the
// signature and adds the signatory's voting power to SignedVP.
func (ts *ThresholdSig) Sign(pubkey Pubkey, sig Sig) error {
	e := ts.find(pubkey)
	if e == nil {
		return fmt.Errorf("%w: %x", ErrUnknownSigner, pubkey)
	}
	if e.Signed {
		return fmt.Errorf("%w: %x", ErrAlreadySigned, pubkey)
	}
	if !ts.MessageSet {
		return ErrMessageNotSet
	}

	pk, err := btcec.ParsePubKey(pubkey[:])
	if err != nil {
		return fmt.Errorf("%w: parse pubkey: %v", ErrInvalidSignature, err)
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sig[:32]); overflow {
		return fmt.Errorf("%w: R out of range", ErrInvalidSignature)
	}
	if overflow := s.SetByteSlice(sig[32:]); overflow {
		return fmt.Errorf("%w: S out of range", ErrInvalidSignature)
	}

	ecdsaSig := ecdsa.NewSignature(&r, &s)
	if !ecdsaSig.Verify(ts.Message[:], pk) {
		return fmt.Errorf("%w: verification failed", ErrInvalidSignature)
	}

	e.Signed = true
	e.Sig = sig
	ts.SignedVP += e.VotingPower
	return nil
}

// Signed reports whether collected voting power has reached the quorum
// threshold.
func (ts *ThresholdSig) Signed() bool {
	return ts.SignedVP >= ts.ThresholdVP
}

// ToWitness emits one push per signatory, in the reverse of sigset order
// (voting power ascending): the signature for signers who signed, an empty
// push otherwise. The redeem script itself is appended by the caller as the
// trailing witness item.
//
// The reversal matters: BIP141 loads witness items onto the initial
// execution stack in listed order, so the last item pushed ends up on top.
// RedeemScript's accumulator checks the highest-voting-power pubkey
// (Entries[0]) first via a plain <pk0> OP_CHECKSIG against whatever is then
// on top of the stack, so Entries[0]'s signature must be the last item
// pushed — i.e. the last slot in this reversed witness array.
func (ts *ThresholdSig) ToWitness() [][]byte {
	witness := make([][]byte, len(ts.Entries))
	for i, e := range ts.Entries {
		slot := len(ts.Entries) - 1 - i
		if e.Signed {
			sig := e.Sig
			witness[slot] = sig[:]
		}
	}
	return witness
}
