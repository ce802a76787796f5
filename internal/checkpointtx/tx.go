// Package checkpointtx models one checkpoint's Bitcoin transaction: its
// inputs (each a reserve or deposit UTXO secured by a sigset redeem script)
// and outputs, plus the fee math and vsize estimation the queue's advance
// step needs.
package checkpointtx

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// Prevout identifies the UTXO an Input spends.
type Prevout struct {
	TxID chainhash.Hash `json:"txid"`
	Vout uint32         `json:"vout"`
}

// Input is one unsigned (or partially-signed) transaction input, secured
// by the P2WSH redeem script of the sigset at SigsetIndex.
type Input struct {
	Prevout         Prevout                 `json:"prevout"`
	ScriptPubkey    []byte                  `json:"script_pubkey"`
	RedeemScript    []byte                  `json:"redeem_script"`
	SigsetIndex     uint32                  `json:"sigset_index"`
	Dest            []byte                  `json:"dest"`
	Amount          uint64                  `json:"amount"`
	EstWitnessVsize uint64                  `json:"est_witness_vsize"`
	Signatures      *threshold.ThresholdSig `json:"signatures"`
}

// TxOut is one transaction output.
type TxOut struct {
	Value        uint64 `json:"value"`
	ScriptPubkey []byte `json:"script_pubkey"`
}

// BitcoinTx is one checkpoint's transaction: signed exactly when every
// input has crossed its threshold.
type BitcoinTx struct {
	LockTime     uint32   `json:"lock_time"`
	SignedInputs uint16   `json:"signed_inputs"`
	Inputs       []*Input `json:"inputs"`
	Outputs      []*TxOut `json:"outputs"`
}

// Signed reports whether every input of this tx has been fully signed.
func (tx *BitcoinTx) Signed() bool {
	return int(tx.SignedInputs) == len(tx.Inputs)
}

// Batch is an ordered sequence of BitcoinTx sharing a signed counter. This
// core always populates exactly one batch containing exactly one tx.
type Batch struct {
	Txs           []*BitcoinTx `json:"txs"`
	SignedBatches uint16       `json:"signed_batches"`
}

// Signed reports whether every tx in the batch is fully signed.
func (b *Batch) Signed() bool {
	for _, tx := range b.Txs {
		if !tx.Signed() {
			return false
		}
	}
	return true
}
