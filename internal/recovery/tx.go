package recovery

import (
	"fmt"

	"github.com/Fantasim/nbtcbridge/internal/checkpointtx"
	"github.com/Fantasim/nbtcbridge/internal/config"
	"github.com/Fantasim/nbtcbridge/internal/signatory"
	"github.com/Fantasim/nbtcbridge/internal/threshold"
)

// Tx is a standalone, one-input-one-output Bitcoin transaction that spends
// a deposit whose signatory set has expired forward to the current
// signatory set's P2WSH address for the same beneficiary.
type Tx struct {
	OldSigsetIndex uint32                  `json:"old_sigset_index"`
	NewSigsetIndex uint32                  `json:"new_sigset_index"`
	Dest           []byte                  `json:"dest"`
	Tx             *checkpointtx.BitcoinTx `json:"tx"`
}

// Signed reports whether this recovery tx's single input has crossed the
// old sigset's signing threshold.
func (t *Tx) Signed() bool {
	return t.Tx.Signed()
}

// Build constructs the unsigned Recovery Transaction for one expired
// deposit: spends prevout (an output secured by oldSigset, worth
// inputAmount) to a new output secured by newSigset for the same dest,
// paying feeRate sats/vbyte (the building checkpoint's current rate) and
// freezing the input's sighash message.
func Build(oldSigset, newSigset *signatory.SignatorySet, dest []byte, prevout checkpointtx.Prevout, inputAmount, feeRate uint64, thresholdNum, thresholdDen uint64, scriptIntBits int) (*Tx, error) {
	oldThresholdVP := oldSigset.Threshold(thresholdNum, thresholdDen)
	oldRedeemScript, err := oldSigset.RedeemScript(dest, oldThresholdVP, scriptIntBits)
	if err != nil {
		return nil, fmt.Errorf("build old sigset redeem script: %w", err)
	}
	oldOutputScript, err := oldSigset.OutputScript(dest, oldThresholdVP, scriptIntBits)
	if err != nil {
		return nil, fmt.Errorf("build old sigset output script: %w", err)
	}

	newThresholdVP := newSigset.Threshold(thresholdNum, thresholdDen)
	newOutputScript, err := newSigset.OutputScript(dest, newThresholdVP, scriptIntBits)
	if err != nil {
		return nil, fmt.Errorf("build new sigset output script: %w", err)
	}

	input := &checkpointtx.Input{
		Prevout:         prevout,
		ScriptPubkey:    oldOutputScript,
		RedeemScript:    oldRedeemScript,
		SigsetIndex:     oldSigset.Index,
		Dest:            dest,
		Amount:          inputAmount,
		EstWitnessVsize: oldSigset.EstWitnessVsize(),
		Signatures:      threshold.New(oldSigset.ToThresholdSignatories(), oldSigset.PresentVP, thresholdNum, thresholdDen),
	}
	output := &checkpointtx.TxOut{Value: inputAmount, ScriptPubkey: newOutputScript}

	vsize := checkpointtx.EstimateVsize([]*checkpointtx.Input{input}, []*checkpointtx.TxOut{output})
	fee := vsize * feeRate
	outputs, err := checkpointtx.DeductFee([]*checkpointtx.TxOut{output}, fee, config.DustValueSats)
	if err != nil {
		return nil, fmt.Errorf("deduct recovery tx fee: %w", err)
	}

	tx := &checkpointtx.BitcoinTx{
		Inputs:  []*checkpointtx.Input{input},
		Outputs: outputs,
	}
	sighashes, err := tx.Sighashes()
	if err != nil {
		return nil, fmt.Errorf("compute recovery tx sighash: %w", err)
	}
	if err := input.Signatures.SetMessage(sighashes[0]); err != nil {
		return nil, fmt.Errorf("set recovery tx input message: %w", err)
	}

	return &Tx{
		OldSigsetIndex: oldSigset.Index,
		NewSigsetIndex: newSigset.Index,
		Dest:           dest,
		Tx:             tx,
	}, nil
}

// Sign applies a signatory's signature to this recovery tx's single input,
// using the signatory's key as derived against OldSigsetIndex — the
// historical sigset that secured the expired deposit, not the signatory's
// current one.
func (t *Tx) Sign(pubkey threshold.Pubkey, sig threshold.Sig) error {
	return t.Tx.Inputs[0].Signatures.Sign(pubkey, sig)
}
