package signatory

import (
	"crypto/sha256"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/txscript"

	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// truncation returns the number of low bits to discard from voting powers
// (and the threshold) so the largest pushed value fits in scriptIntBits
// bits, keeping every pushed integer to a 3-byte minimal script number.
func truncation(presentVP uint64, scriptIntBits int) uint {
	need := bits.Len64(presentVP)
	if need <= scriptIntBits {
		return 0
	}
	return uint(need - scriptIntBits)
}

// RedeemScript compiles the weighted-multisig accumulator script for this
// sigset, committing dest as the final OP_DROP operand:
//
//	OP_DROP (discards the witness's threshold-check placeholder byte)
//	<pk1> OP_CHECKSIG OP_IF <vp1> OP_ELSE 0 OP_ENDIF
//	(OP_SWAP <pki> OP_CHECKSIG OP_IF <vpi> OP_ADD OP_ENDIF)  for i=2..n
//	<threshold> OP_GREATERTHAN
//	<dest> OP_DROP
//
// Voting powers and the threshold are right-shifted by a common truncation
// so the largest pushed integer fits scriptIntBits bits. The sequence is
// deterministic in the sigset's existing sort order (voting power
// descending) — callers must not re-sort before calling this.
func (s *SignatorySet) RedeemScript(dest []byte, thresholdVP uint64, scriptIntBits int) ([]byte, error) {
	if len(s.Signatories) == 0 {
		return nil, fmt.Errorf("%w: empty signatory set", ErrInvalidScript)
	}

	t := truncation(s.PresentVP, scriptIntBits)

	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_DROP)
	first := s.Signatories[0]
	b.AddData(first.Pubkey[:])
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_IF)
	b.AddInt64(int64(first.VotingPower >> t))
	b.AddOp(txscript.OP_ELSE)
	b.AddInt64(0)
	b.AddOp(txscript.OP_ENDIF)

	for _, sig := range s.Signatories[1:] {
		b.AddOp(txscript.OP_SWAP)
		b.AddData(sig.Pubkey[:])
		b.AddOp(txscript.OP_CHECKSIG)
		b.AddOp(txscript.OP_IF)
		b.AddInt64(int64(sig.VotingPower >> t))
		b.AddOp(txscript.OP_ADD)
		b.AddOp(txscript.OP_ENDIF)
	}

	b.AddInt64(int64(thresholdVP >> t))
	b.AddOp(txscript.OP_GREATERTHAN)
	b.AddData(dest)
	b.AddOp(txscript.OP_DROP)

	script, err := b.Script()
	if err != nil {
		return nil, fmt.Errorf("%w: build script: %v", ErrInvalidScript, err)
	}
	return script, nil
}

// OutputScript returns the P2WSH scriptPubKey for this sigset's redeem
// script: OP_0 <sha256(redeem_script)>.
func (s *SignatorySet) OutputScript(dest []byte, thresholdVP uint64, scriptIntBits int) ([]byte, error) {
	redeem, err := s.RedeemScript(dest, thresholdVP, scriptIntBits)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(redeem)
	out, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(hash[:]).
		Script()
	if err != nil {
		return nil, fmt.Errorf("%w: build output script: %v", ErrInvalidScript, err)
	}
	return out, nil
}

// ParsedRedeemScript is the recovered content of a compiled weighted
// redeem script: used to validate recovery transactions, where the
// spender must prove a script matches an expired sigset.
type ParsedRedeemScript struct {
	Signatories  []Signatory
	ThresholdRaw int64
	Dest         []byte
}

// ParseRedeemScript recovers the signatory list, truncated threshold value,
// and dest commitment from a compiled weighted-multisig redeem script. It
// is the inverse of RedeemScript and does not re-apply truncation — the
// recovered voting powers and threshold are already the truncated values
// that were embedded in the script.
func ParseRedeemScript(script []byte) (*ParsedRedeemScript, error) {
	tok := txscript.MakeScriptTokenizer(0, script)

	var sigs []Signatory

	if err := expectOp(&tok, txscript.OP_DROP); err != nil {
		return nil, fmt.Errorf("%w: leading placeholder drop: %v", ErrInvalidScript, err)
	}

	// First signatory: <pk> OP_CHECKSIG OP_IF <vp> OP_ELSE 0 OP_ENDIF
	pk, err := nextData(&tok)
	if err != nil {
		return nil, fmt.Errorf("%w: first pubkey: %v", ErrInvalidScript, err)
	}
	if err := expectOp(&tok, txscript.OP_CHECKSIG); err != nil {
		return nil, err
	}
	if err := expectOp(&tok, txscript.OP_IF); err != nil {
		return nil, err
	}
	vp, err := nextInt(&tok)
	if err != nil {
		return nil, fmt.Errorf("%w: first voting power: %v", ErrInvalidScript, err)
	}
	if err := expectOp(&tok, txscript.OP_ELSE); err != nil {
		return nil, err
	}
	if _, err := nextInt(&tok); err != nil { // the literal 0 in the else branch
		return nil, fmt.Errorf("%w: else-branch zero: %v", ErrInvalidScript, err)
	}
	if err := expectOp(&tok, txscript.OP_ENDIF); err != nil {
		return nil, err
	}
	sigs = append(sigs, Signatory{Pubkey: toPubkey(pk), VotingPower: uint64(vp)})

	// Remaining signatories: OP_SWAP <pk> OP_CHECKSIG OP_IF <vp> OP_ADD OP_ENDIF
	for {
		if !tok.Next() {
			return nil, fmt.Errorf("%w: unexpected end of script", ErrInvalidScript)
		}
		if tok.Opcode() != txscript.OP_SWAP {
			// Not another signatory: this token is the threshold push.
			thresholdRaw, err := scriptNumFromToken(&tok)
			if err != nil {
				return nil, fmt.Errorf("%w: threshold: %v", ErrInvalidScript, err)
			}
			if err := expectOp(&tok, txscript.OP_GREATERTHAN); err != nil {
				return nil, err
			}
			dest, err := nextData(&tok)
			if err != nil {
				return nil, fmt.Errorf("%w: dest: %v", ErrInvalidScript, err)
			}
			if err := expectOp(&tok, txscript.OP_DROP); err != nil {
				return nil, err
			}
			if tok.Next() {
				return nil, fmt.Errorf("%w: trailing data after OP_DROP", ErrInvalidScript)
			}
			if tok.Err() != nil {
				return nil, fmt.Errorf("%w: tokenizer: %v", ErrInvalidScript, tok.Err())
			}
			return &ParsedRedeemScript{Signatories: sigs, ThresholdRaw: thresholdRaw, Dest: dest}, nil
		}

		pk, err := nextData(&tok)
		if err != nil {
			return nil, fmt.Errorf("%w: pubkey %d: %v", ErrInvalidScript, len(sigs)+1, err)
		}
		if err := expectOp(&tok, txscript.OP_CHECKSIG); err != nil {
			return nil, err
		}
		if err := expectOp(&tok, txscript.OP_IF); err != nil {
			return nil, err
		}
		vp, err := nextInt(&tok)
		if err != nil {
			return nil, fmt.Errorf("%w: voting power %d: %v", ErrInvalidScript, len(sigs)+1, err)
		}
		if err := expectOp(&tok, txscript.OP_ADD); err != nil {
			return nil, err
		}
		if err := expectOp(&tok, txscript.OP_ENDIF); err != nil {
			return nil, err
		}
		sigs = append(sigs, Signatory{Pubkey: toPubkey(pk), VotingPower: uint64(vp)})
	}
}

func toPubkey(b []byte) threshold.Pubkey {
	var pk threshold.Pubkey
	copy(pk[:], b)
	return pk
}

func nextData(tok *txscript.ScriptTokenizer) ([]byte, error) {
	if !tok.Next() {
		if tok.Err() != nil {
			return nil, tok.Err()
		}
		return nil, fmt.Errorf("expected data push, got end of script")
	}
	data := tok.Data()
	if data == nil {
		return nil, fmt.Errorf("expected data push, got opcode 0x%02x", tok.Opcode())
	}
	return data, nil
}

func expectOp(tok *txscript.ScriptTokenizer, op byte) error {
	if !tok.Next() {
		if tok.Err() != nil {
			return fmt.Errorf("%w: %v", ErrInvalidScript, tok.Err())
		}
		return fmt.Errorf("%w: expected opcode 0x%02x, got end of script", ErrInvalidScript, op)
	}
	if tok.Opcode() != op {
		return fmt.Errorf("%w: expected opcode 0x%02x, got 0x%02x", ErrInvalidScript, op, tok.Opcode())
	}
	return nil
}

// nextInt reads the next token, which must already be positioned by a call
// to tok.Next(), and interprets it as a script number (used for the
// voting-power pushes).
func nextInt(tok *txscript.ScriptTokenizer) (int64, error) {
	if !tok.Next() {
		if tok.Err() != nil {
			return 0, tok.Err()
		}
		return 0, fmt.Errorf("expected integer, got end of script")
	}
	return scriptNumFromToken(tok)
}

// scriptNumFromToken interprets the tokenizer's current position (already
// advanced by the caller) as a minimally-encoded script number, small-int
// opcode (OP_0/OP_1..OP_16), or data push.
func scriptNumFromToken(tok *txscript.ScriptTokenizer) (int64, error) {
	op := tok.Opcode()
	switch {
	case op == txscript.OP_0:
		return 0, nil
	case op >= txscript.OP_1 && op <= txscript.OP_16:
		return int64(op-txscript.OP_1) + 1, nil
	}
	data := tok.Data()
	if data == nil {
		return 0, fmt.Errorf("expected integer, got opcode 0x%02x", op)
	}
	n, err := txscript.MakeScriptNum(data, false, 4)
	if err != nil {
		return 0, fmt.Errorf("decode script number: %w", err)
	}
	return int64(n), nil
}
