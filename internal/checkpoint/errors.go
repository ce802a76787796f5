package checkpoint

import "errors"

var (
	// ErrNotBuilding is returned when an operation that requires the
	// Building status is attempted against a Signing or Complete
	// checkpoint.
	ErrNotBuilding = errors.New("checkpoint is not in the Building status")
	// ErrNotSigning is returned when sign() targets a checkpoint that is
	// not in the Signing status and is not already Complete (over-sign).
	ErrNotSigning = errors.New("checkpoint is not in the Signing status")
	// ErrNotEnoughSignatures is returned when sign()'s signature slice is
	// exhausted before every needed input has been signed.
	ErrNotEnoughSignatures = errors.New("not enough signatures supplied")
	// ErrExcessSignatures is returned when sign()'s signature slice still
	// has unconsumed entries once every needed input has been signed.
	ErrExcessSignatures = errors.New("excess signatures supplied")
)
