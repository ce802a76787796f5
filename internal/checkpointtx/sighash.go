package checkpointtx

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ToWire assembles this tx's inputs and outputs into a wire.MsgTx, ready
// for broadcast once signed, but with nil SignatureScript/Witness —
// signing happens later, input by input, once every ThresholdSig crosses
// threshold.
func (tx *BitcoinTx) ToWire() *wire.MsgTx {
	msgTx := wire.NewMsgTx(wire.TxVersion)
	msgTx.LockTime = tx.LockTime
	for _, in := range tx.Inputs {
		outPoint := wire.NewOutPoint(&in.Prevout.TxID, in.Prevout.Vout)
		msgTx.AddTxIn(wire.NewTxIn(outPoint, nil, nil))
	}
	for _, out := range tx.Outputs {
		msgTx.AddTxOut(wire.NewTxOut(int64(out.Value), out.ScriptPubkey))
	}
	return msgTx
}

// Sighashes computes the BIP-143 SIGHASH_ALL sighash for every input of
// this tx, used to freeze each input's ThresholdSig.message on the
// Building→Signing transition. Index i of the result corresponds to
// tx.Inputs[i].
func (tx *BitcoinTx) Sighashes() ([][32]byte, error) {
	msgTx := tx.ToWire()

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.Inputs {
		fetcher.AddPrevOut(msgTx.TxIn[i].PreviousOutPoint, &wire.TxOut{
			Value:    int64(in.Amount),
			PkScript: in.ScriptPubkey,
		})
	}
	hashCache := txscript.NewTxSigHashes(msgTx, fetcher)

	out := make([][32]byte, len(tx.Inputs))
	for i, in := range tx.Inputs {
		hash, err := txscript.CalcWitnessSigHash(in.RedeemScript, hashCache, txscript.SigHashAll, msgTx, i, int64(in.Amount))
		if err != nil {
			return nil, fmt.Errorf("compute sighash for input %d: %w", i, err)
		}
		var h [32]byte
		copy(h[:], hash)
		out[i] = h
	}
	return out, nil
}

// TxID returns the txid of this tx as it would be broadcast — computed
// over the non-witness serialization, per BIP-141, so it is fixed before
// any witness is attached (callers building a frozen Building→Signing
// transition use this to name the new reserve outpoint).
func (tx *BitcoinTx) TxID() chainhash.Hash {
	return tx.ToWire().TxHash()
}

// thresholdCheckPlaceholder is the single-byte witness item pushed between
// the per-signatory signature pushes and the redeem script.
var thresholdCheckPlaceholder = []byte{0x01}

// ApplyWitnesses sets the witness stack produced by each input's
// ThresholdSig.ToWitness() onto a wire.MsgTx built from ToWire, for
// broadcast once signed() is true for every input. The redeem script is
// appended as the trailing witness item, preceded by the threshold-check
// placeholder byte, matching what RedeemScript's OP_IF/OP_ENDIF accumulator
// expects to find on the stack.
func (tx *BitcoinTx) ApplyWitnesses() (*wire.MsgTx, error) {
	msgTx := tx.ToWire()
	for i, in := range tx.Inputs {
		if in.Signatures == nil || !in.Signatures.Signed() {
			return nil, fmt.Errorf("input %d is not fully signed", i)
		}
		witness := in.Signatures.ToWitness()
		witness = append(witness, thresholdCheckPlaceholder)
		witness = append(witness, in.RedeemScript)
		msgTx.TxIn[i].Witness = witness
	}
	return msgTx, nil
}
