// Package checkpoint models one checkpoint's lifecycle: the Building stage
// where deposits and withdrawals accumulate, the advance step that freezes
// it into Signing, and the pending-credit list released once it confirms.
package checkpoint

import (
	"crypto/sha256"
	"fmt"
)

// DestKind distinguishes the two beneficiary shapes a deposit or
// withdrawal can commit to.
type DestKind int

const (
	DestAddress DestKind = iota
	DestIBC
)

// IbcDest is the sidechain-side routing information for an IBC transfer
// destination: which channel/port to route through and the receiving
// account on the far side.
type IbcDest struct {
	SourcePort    string `json:"source_port"`
	SourceChannel string `json:"source_channel"`
	Receiver      string `json:"receiver"`
	Sender        string `json:"sender"`
	Memo          string `json:"memo"`
}

// canonicalBytes renders an IbcDest deterministically for hashing: fixed
// field order, length-prefixed strings so no field can absorb a neighbor's
// bytes.
func (d IbcDest) canonicalBytes() []byte {
	var buf []byte
	for _, s := range []string{d.SourcePort, d.SourceChannel, d.Receiver, d.Sender, d.Memo} {
		buf = appendLenPrefixed(buf, s)
	}
	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	n := len(s)
	buf = append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(buf, s...)
}

// Dest is the tagged beneficiary of a deposit's mint or a checkpoint's
// reserve/commitment output: either a plain sidechain address, or a full
// IBC transfer destination.
type Dest struct {
	Kind    DestKind `json:"kind"`
	Address string   `json:"address,omitempty"`
	Ibc     IbcDest  `json:"ibc,omitempty"`
}

// NewAddressDest builds a plain-address Dest.
func NewAddressDest(address string) Dest {
	return Dest{Kind: DestAddress, Address: address}
}

// NewIbcDest builds an IBC-transfer Dest.
func NewIbcDest(ibc IbcDest) Dest {
	return Dest{Kind: DestIBC, Ibc: ibc}
}

// CommitmentBytes is the content committed into a deposit's redeem script
// and watched for at settlement: the raw address bytes for DestAddress,
// or the SHA-256 of the canonical IBC encoding for DestIBC.
func (d Dest) CommitmentBytes() ([]byte, error) {
	switch d.Kind {
	case DestAddress:
		if d.Address == "" {
			return nil, fmt.Errorf("address dest must not be empty")
		}
		return []byte(d.Address), nil
	case DestIBC:
		sum := sha256.Sum256(d.Ibc.canonicalBytes())
		return sum[:], nil
	default:
		return nil, fmt.Errorf("unknown dest kind %d", d.Kind)
	}
}
