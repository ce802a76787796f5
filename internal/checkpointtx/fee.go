package checkpointtx

import (
	"fmt"

	"github.com/Fantasim/nbtcbridge/internal/config"
)

// EstimateVsize returns the estimated vsize of a transaction with these
// inputs and outputs, generalizing a fixed-size P2WPKH estimator to inputs
// whose witness size varies with their sigset's signatory count.
//
// Non-witness weight (overhead plus each input's fixed P2WSH prevout/
// sequence/scriptSig-length bytes) is converted to vsize by the usual
// ceil(weight/4); each input's witness vsize (already computed by
// SignatorySet.EstWitnessVsize) and each output's byte size are added
// directly, since output bytes and pre-computed witness vsize don't carry
// the segwit discount twice.
func EstimateVsize(inputs []*Input, outputs []*TxOut) uint64 {
	nonWitnessWeight := config.BTCTxOverheadWU + len(inputs)*config.P2WSHInputBaseWU
	vsize := uint64((nonWitnessWeight + 3) / 4)
	for _, in := range inputs {
		vsize += in.EstWitnessVsize
	}
	for _, out := range outputs {
		vsize += 8 + 1 + uint64(len(out.ScriptPubkey)) // value + varint script length + script
	}
	return vsize
}

// ReserveValue computes the Building→Signing reserve output value:
// total input value minus total non-reserve output value minus the
// checkpoint's fees, failing with ErrInsufficientReserve on underflow.
func ReserveValue(inputs []*Input, outputs []*TxOut, cpFees uint64) (uint64, error) {
	var totalIn, totalOut uint64
	for _, in := range inputs {
		totalIn += in.Amount
	}
	for _, out := range outputs {
		totalOut += out.Value
	}
	spent := totalOut + cpFees
	if spent > totalIn {
		return 0, fmt.Errorf("%w: inputs %d < outputs %d + fees %d", ErrInsufficientReserve, totalIn, totalOut, cpFees)
	}
	return totalIn - spent, nil
}

// FeeAdjustment computes the fee_adjustment term used in cp_fees:
// unconfirmed_vbytes*fee_rate minus unconfirmed_fees_paid, clamped at zero.
func FeeAdjustment(unconfirmedVbytes, feeRate, unconfirmedFeesPaid uint64) uint64 {
	owed := unconfirmedVbytes * feeRate
	if owed <= unconfirmedFeesPaid {
		return 0
	}
	return owed - unconfirmedFeesPaid
}

// DeductFee applies a fee to a set of outputs by iteratively discarding
// outputs that would fall at or below dustValue once their even share of
// fee is subtracted, until the remaining set is stable, then subtracts the
// final per-output share from the survivors. Fails if every output would
// be discarded.
func DeductFee(outputs []*TxOut, fee, dustValue uint64) ([]*TxOut, error) {
	cur := outputs
	for {
		if len(cur) == 0 {
			return nil, ErrAllOutputsDiscarded
		}
		share := fee / uint64(len(cur))
		kept := make([]*TxOut, 0, len(cur))
		discardedAny := false
		for _, out := range cur {
			if out.Value <= dustValue+share {
				discardedAny = true
				continue
			}
			kept = append(kept, out)
		}
		if !discardedAny {
			for _, out := range kept {
				out.Value -= share
			}
			return kept, nil
		}
		cur = kept
	}
}

// AdjustUp computes the next fee rate after a checkpoint misses its
// target inclusion window: max(x*5/4, x+1), clamped to [min, max].
func AdjustUp(x, min, max uint64) uint64 {
	scaled := x * 5 / 4
	bumped := x + 1
	next := scaled
	if bumped > next {
		next = bumped
	}
	return clamp(next, min, max)
}

// AdjustDown computes the next fee rate once checkpoints are confirming
// with no backlog: min(x*3/4, x-1), clamped to [min, max].
func AdjustDown(x, min, max uint64) uint64 {
	scaled := x * 3 / 4
	var reduced uint64
	if x > 0 {
		reduced = x - 1
	}
	next := scaled
	if x > 0 && reduced < next {
		next = reduced
	}
	return clamp(next, min, max)
}

func clamp(x, min, max uint64) uint64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}
