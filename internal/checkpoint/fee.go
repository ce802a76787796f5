package checkpoint

import "github.com/Fantasim/nbtcbridge/internal/checkpointtx"

// CalcDepositFee returns the fee deducted from a deposit's mint amount to
// cover checkpoint miner fees. It always returns 0 for now, but the
// subtraction path in relay_deposit is kept so a future nonzero policy only
// needs to change this function.
func CalcDepositFee() uint64 {
	return 0
}

// CPFees computes a Building checkpoint's total miner-fee liability at
// advance time: the tx's estimated vsize at its own fee rate, plus the
// backlog adjustment for any already-broadcast-but-unconfirmed fee debt.
func (c *Checkpoint) CPFees(unconfirmedVbytes, unconfirmedFeesPaid uint64) uint64 {
	tx := c.tx()
	vsize := checkpointtx.EstimateVsize(tx.Inputs, tx.Outputs)
	adjustment := checkpointtx.FeeAdjustment(unconfirmedVbytes, c.FeeRate, unconfirmedFeesPaid)
	return vsize*c.FeeRate + adjustment
}

// TxMinerFees is the miner fee actually paid by this checkpoint's tx: the
// difference between its total input and output amounts. Only meaningful
// once Advance has fixed the reserve output's value.
func (c *Checkpoint) TxMinerFees() uint64 {
	tx := c.tx()
	var in, out uint64
	for _, i := range tx.Inputs {
		in += i.Amount
	}
	for _, o := range tx.Outputs {
		out += o.Value
	}
	if out > in {
		return 0
	}
	return in - out
}

// EstVsize estimates this checkpoint's tx vsize including the two
// prepended outputs (reserve, commitment) advance would add, letting the
// queue budget unconfirmed vbytes without re-running Advance.
func (c *Checkpoint) EstVsize(commitment []byte, maxInputs, maxOutputs, scriptIntBits int, thresholdNum, thresholdDen uint64) (uint64, error) {
	tx := c.tx()
	thresholdVP := c.Sigset.Threshold(thresholdNum, thresholdDen)
	reserveScript, err := c.Sigset.OutputScript([]byte{0}, thresholdVP, scriptIntBits)
	if err != nil {
		return 0, err
	}
	commitmentScript, err := commitmentOpReturnScript(commitment)
	if err != nil {
		return 0, err
	}

	outputs := append([]*checkpointtx.TxOut{
		{Value: 0, ScriptPubkey: reserveScript},
		{Value: 0, ScriptPubkey: commitmentScript},
	}, tx.Outputs...)
	if len(outputs) > maxOutputs {
		outputs = outputs[:maxOutputs]
	}
	inputs := tx.Inputs
	if len(inputs) > maxInputs {
		inputs = inputs[:maxInputs]
	}
	return checkpointtx.EstimateVsize(inputs, outputs), nil
}
