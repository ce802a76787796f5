package recovery

import "errors"

var (
	// ErrAlreadyRelayed is returned by OutpointSet.Insert when the outpoint
	// has already been recorded, protecting against replaying the same
	// Bitcoin UTXO as a deposit twice.
	ErrAlreadyRelayed = errors.New("outpoint already relayed")
	// ErrNotEnoughSignatures is returned when fewer signatures were supplied
	// than the recovery transactions needing one from this signatory.
	ErrNotEnoughSignatures = errors.New("not enough signatures")
	// ErrExcessSignatures is returned when more signatures were supplied
	// than any queued recovery transaction needed from this signatory.
	ErrExcessSignatures = errors.New("excess signatures")
)
