package checkpointtx

import "errors"

var (
	// ErrInsufficientReserve is returned when an advancing checkpoint's
	// inputs cannot cover its outputs plus fees.
	ErrInsufficientReserve = errors.New("insufficient reserve")
	// ErrAllOutputsDiscarded is returned by DeductFee when every output
	// would be discarded as dust after the fee share is applied.
	ErrAllOutputsDiscarded = errors.New("all outputs discarded by fee deduction")
	// ErrTxTooLarge is returned when a tx exceeds the configured
	// input/output caps before being capped.
	ErrTxTooLarge = errors.New("transaction exceeds size limits")
)
