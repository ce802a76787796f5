// Package signatory builds and compiles the rotating weighted-multisig
// signatory set that secures the Bitcoin-side reserve: an ordered,
// voting-power-sorted list of pubkeys that compiles to a single Bitcoin
// P2WSH redeem script.
package signatory

import (
	"fmt"
	"sort"

	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// Signatory is one member of a SignatorySet: a pubkey and the voting power
// it carries into the weighted-multisig quorum check.
type Signatory struct {
	Pubkey      threshold.Pubkey `json:"pubkey"`
	VotingPower uint64           `json:"voting_power"`
}

// SignatorySet is one checkpoint's weighted-multisig membership: an
// ordered, voting-power-descending list of signatories, truncated to
// MaxSignatories, plus the voting-power accounting needed for the quorum
// test and deposit-expiry clock.
type SignatorySet struct {
	Index       uint32      `json:"index"`
	CreateTime  uint64      `json:"create_time"`
	Signatories []Signatory `json:"signatories"`
	PresentVP   uint64      `json:"present_vp"`
	PossibleVP  uint64      `json:"possible_vp"`
}

// ValidatorCandidate is one entry from the validator oracle, carrying the
// signatory xpub declared against its consensus key (nil if none declared).
type ValidatorCandidate struct {
	ConsensusKey [32]byte
	VotingPower  uint64
	Xpub         *Xpub
}

// Build constructs a SignatorySet for the given checkpoint index and
// creation time from the current validator oracle snapshot: validators
// without a declared Xpub are excluded from the signing set (but still
// count toward PossibleVP), the remainder derive their per-sigset child
// pubkey, are sorted by (voting power desc, pubkey desc as tie-break), and
// truncated to maxSignatories.
func Build(candidates []ValidatorCandidate, index uint32, createTime uint64, maxSignatories int) (*SignatorySet, error) {
	var possibleVP uint64
	for _, c := range candidates {
		possibleVP += c.VotingPower
	}
	if possibleVP == 0 {
		return nil, ErrEmptyValidatorSet
	}

	signatories := make([]Signatory, 0, len(candidates))
	for _, c := range candidates {
		if c.Xpub == nil {
			continue
		}
		pubkey, err := c.Xpub.DeriveChildPubkey(index)
		if err != nil {
			return nil, fmt.Errorf("derive signatory pubkey for consensus key %x: %w", c.ConsensusKey, err)
		}
		signatories = append(signatories, Signatory{Pubkey: pubkey, VotingPower: c.VotingPower})
	}

	sort.Slice(signatories, func(i, j int) bool {
		if signatories[i].VotingPower != signatories[j].VotingPower {
			return signatories[i].VotingPower > signatories[j].VotingPower
		}
		return pubkeyGreater(signatories[i].Pubkey, signatories[j].Pubkey)
	})

	if len(signatories) > maxSignatories {
		signatories = signatories[:maxSignatories]
	}

	var presentVP uint64
	for _, s := range signatories {
		presentVP += s.VotingPower
	}

	if presentVP < possibleVP/2 {
		return nil, fmt.Errorf("%w: present_vp=%d possible_vp=%d", ErrNoQuorum, presentVP, possibleVP)
	}

	return &SignatorySet{
		Index:       index,
		CreateTime:  createTime,
		Signatories: signatories,
		PresentVP:   presentVP,
		PossibleVP:  possibleVP,
	}, nil
}

func pubkeyGreater(a, b threshold.Pubkey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// EstWitnessVsize estimates the witness-data vsize contribution of an input
// secured by this sigset, used only for fee estimation.
func (s *SignatorySet) EstWitnessVsize() uint64 {
	return 79*uint64(len(s.Signatories)) + 39
}

// Threshold returns the quorum voting power required to spend an output
// secured by this sigset, at the given (num, den) ratio.
func (s *SignatorySet) Threshold(num, den uint64) uint64 {
	if den == 0 {
		return 0
	}
	return (s.PresentVP*num + den - 1) / den
}

// ToThresholdSignatories adapts this sigset's members to threshold.Signatory
// for constructing a ThresholdSig aggregator.
func (s *SignatorySet) ToThresholdSignatories() []threshold.Signatory {
	out := make([]threshold.Signatory, len(s.Signatories))
	for i, sig := range s.Signatories {
		out[i] = threshold.Signatory{Pubkey: sig.Pubkey, VotingPower: sig.VotingPower}
	}
	return out
}
