package checkpoint

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// Status is a Checkpoint's lifecycle stage.
type Status int

const (
	StatusBuilding Status = iota
	StatusSigning
	StatusComplete
)

func (s Status) String() string {
	switch s {
	case StatusBuilding:
		return "building"
	case StatusSigning:
		return "signing"
	case StatusComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Checkpoint is one step of the bridge's rolling Bitcoin reserve: a single
// BitcoinTx secured by a SignatorySet, the credits to release once it
// confirms, and the fee-rate/miner-fee accounting needed to advance it.
type Checkpoint struct {
	Status            Status                  `json:"status"`
	Sigset            *signatory.SignatorySet `json:"sigset"`
	Batch             *checkpointtx.Batch     `json:"batch"`
	Pending           []PendingCredit         `json:"pending"`
	FeeRate           uint64                  `json:"fee_rate"`
	SignedAtBtcHeight *uint32                 `json:"signed_at_btc_height,omitempty"`
	DepositsEnabled   bool                    `json:"deposits_enabled"`
	FeesCollected     uint64                  `json:"fees_collected"`
}

// New creates a Building checkpoint for the given sigset, with an empty
// checkpoint transaction and deposits enabled.
func New(sigset *signatory.SignatorySet, feeRate uint64) *Checkpoint {
	return &Checkpoint{
		Status: StatusBuilding,
		Sigset: sigset,
		Batch: &checkpointtx.Batch{
			Txs: []*checkpointtx.BitcoinTx{{}},
		},
		FeeRate:         feeRate,
		DepositsEnabled: true,
	}
}

// tx returns this checkpoint's single BitcoinTx.
func (c *Checkpoint) tx() *checkpointtx.BitcoinTx {
	return c.Batch.Txs[0]
}

// AddDeposit appends an Input secured by this checkpoint's sigset and
// credits the beneficiary's pending list. Callers are expected to have
// already verified the deposit's SPV proof, script match, and outpoint
// novelty.
func (c *Checkpoint) AddDeposit(in *checkpointtx.Input, dest Dest, coin Coin) error {
	if c.Status != StatusBuilding {
		return fmt.Errorf("%w: add deposit", ErrNotBuilding)
	}
	tx := c.tx()
	tx.Inputs = append(tx.Inputs, in)
	c.Pending = append(c.Pending, PendingCredit{Dest: dest, Coin: coin})
	return nil
}

// AddReserveInput appends the previous checkpoint's reserve output as this
// Building checkpoint's first input, per maybe_step: the new checkpoint's
// tx always spends forward the prior checkpoint's reserve.
func (c *Checkpoint) AddReserveInput(in *checkpointtx.Input) error {
	if c.Status != StatusBuilding {
		return fmt.Errorf("%w: add reserve input", ErrNotBuilding)
	}
	c.tx().Inputs = append(c.tx().Inputs, in)
	return nil
}

// AddCarriedOver appends the excess inputs/outputs the previous checkpoint
// could not fit under its maxInputs/maxOutputs cap onto this Building
// checkpoint's tx, preserving each input's existing ThresholdSig shares.
func (c *Checkpoint) AddCarriedOver(inputs []*checkpointtx.Input, outputs []*checkpointtx.TxOut) {
	tx := c.tx()
	tx.Inputs = append(tx.Inputs, inputs...)
	tx.Outputs = append(tx.Outputs, outputs...)
}

// AddWithdrawal appends a withdrawal TxOut to the Building checkpoint's tx.
func (c *Checkpoint) AddWithdrawal(scriptPubkey []byte, amountSats uint64) error {
	if c.Status != StatusBuilding {
		return fmt.Errorf("%w: add withdrawal", ErrNotBuilding)
	}
	c.tx().Outputs = append(c.tx().Outputs, &checkpointtx.TxOut{
		Value:        amountSats,
		ScriptPubkey: scriptPubkey,
	})
	return nil
}

// AdvanceResult carries the data the queue needs to seed the next Building
// checkpoint once this one has been frozen into Signing.
type AdvanceResult struct {
	ReserveOutpoint checkpointtx.Prevout
	ReserveValue    uint64
	ExcessInputs    []*checkpointtx.Input
	ExcessOutputs   []*checkpointtx.TxOut
}

// Advance freezes this Building checkpoint into Signing: it prepends the
// reserve and OP_RETURN commitment outputs, caps
// inputs/outputs (carrying the overflow back to the caller), computes the
// reserve value, and sets every input's sighash message.
func (c *Checkpoint) Advance(timestampingCommitment []byte, cpFees uint64, maxInputs, maxOutputs, scriptIntBits int, thresholdNum, thresholdDen uint64) (*AdvanceResult, error) {
	if c.Status != StatusBuilding {
		return nil, fmt.Errorf("%w: advance", ErrNotBuilding)
	}

	thresholdVP := c.Sigset.Threshold(thresholdNum, thresholdDen)
	reserveScript, err := c.Sigset.OutputScript([]byte{0}, thresholdVP, scriptIntBits)
	if err != nil {
		return nil, fmt.Errorf("build reserve output script: %w", err)
	}
	commitmentScript, err := commitmentOpReturnScript(timestampingCommitment)
	if err != nil {
		return nil, fmt.Errorf("build commitment output script: %w", err)
	}

	tx := c.tx()
	tx.Outputs = append([]*checkpointtx.TxOut{
		{Value: 0, ScriptPubkey: reserveScript},
		{Value: 0, ScriptPubkey: commitmentScript},
	}, tx.Outputs...)

	var excessInputs []*checkpointtx.Input
	for len(tx.Inputs) > maxInputs {
		last := len(tx.Inputs) - 1
		excessInputs = append(excessInputs, tx.Inputs[last])
		tx.Inputs = tx.Inputs[:last]
	}

	var excessOutputs []*checkpointtx.TxOut
	for len(tx.Outputs) > maxOutputs {
		last := len(tx.Outputs) - 1
		excessOutputs = append(excessOutputs, tx.Outputs[last])
		tx.Outputs = tx.Outputs[:last]
	}

	reserveValue, err := checkpointtx.ReserveValue(tx.Inputs, tx.Outputs, cpFees)
	if err != nil {
		return nil, err
	}
	tx.Outputs[0].Value = reserveValue

	sighashes, err := tx.Sighashes()
	if err != nil {
		return nil, fmt.Errorf("compute sighashes: %w", err)
	}
	for i, in := range tx.Inputs {
		if in.Signatures == nil {
			return nil, fmt.Errorf("input %d has no ThresholdSig aggregator (caller must attach one, built against its own sigset, when adding the input)", i)
		}
		if err := in.Signatures.SetMessage(sighashes[i]); err != nil {
			return nil, fmt.Errorf("set message for input %d: %w", i, err)
		}
	}

	c.Status = StatusSigning

	return &AdvanceResult{
		ReserveOutpoint: checkpointtx.Prevout{TxID: tx.TxID(), Vout: 0},
		ReserveValue:    reserveValue,
		ExcessInputs:    excessInputs,
		ExcessOutputs:   excessOutputs,
	}, nil
}

// commitmentOpReturnScript builds an OP_RETURN output script committing
// the given timestamping data, used for the commitment output prepended
// during Advance.
func commitmentOpReturnScript(commitment []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(commitment).Script()
}

// Sign applies signatures from one signatory across every input of this
// checkpoint's tx that needs one from pubkey, consuming sigs in order.
// Complete checkpoints accept over-signing (verified but inert); Building
// checkpoints reject signing outright.
func (c *Checkpoint) Sign(pubkey threshold.Pubkey, sigs []threshold.Sig, btcHeight uint32) error {
	if c.Status == StatusBuilding {
		return fmt.Errorf("%w: sign", ErrNotSigning)
	}

	tx := c.tx()
	wasSigned := tx.Signed()
	sigIndex := 0

	for _, in := range tx.Inputs {
		if in.Signatures == nil || !in.Signatures.NeedsSig(pubkey) {
			continue
		}
		if sigIndex >= len(sigs) {
			return ErrNotEnoughSignatures
		}
		sig := sigs[sigIndex]
		sigIndex++

		wasInputSigned := in.Signatures.Signed()
		if err := in.Signatures.Sign(pubkey, sig); err != nil {
			return err
		}
		if !wasInputSigned && in.Signatures.Signed() {
			tx.SignedInputs++
		}
	}

	if sigIndex < len(sigs) {
		return ErrExcessSignatures
	}

	if !wasSigned && tx.Signed() && c.Status == StatusSigning {
		c.SignedAtBtcHeight = &btcHeight
		c.Status = StatusComplete
	}
	return nil
}

// Signed reports whether this checkpoint's tx is fully signed.
func (c *Checkpoint) Signed() bool {
	return c.tx().Signed()
}

// NeedsSig reports whether any input of this checkpoint's tx still needs a
// signature from xpub, mirroring the original's `to_sign(xpub).is_empty()`
// check used by offline-signer accounting. Each input derives xpub's child
// pubkey at its own SigsetIndex, since carried-over inputs from an older
// checkpoint keep signing against their original sigset.
func (c *Checkpoint) NeedsSig(xpub *signatory.Xpub) (bool, error) {
	for _, in := range c.tx().Inputs {
		if in.Signatures == nil {
			continue
		}
		pubkey, err := xpub.DeriveChildPubkey(in.SigsetIndex)
		if err != nil {
			return false, fmt.Errorf("derive child pubkey at sigset index %d: %w", in.SigsetIndex, err)
		}
		if in.Signatures.NeedsSig(pubkey) {
			return true, nil
		}
	}
	return false, nil
}

// Tx exposes the checkpoint's single BitcoinTx for callers that need to
// inspect or broadcast it (e.g. once Complete).
func (c *Checkpoint) Tx() *checkpointtx.BitcoinTx {
	return c.tx()
}
