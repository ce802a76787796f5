package signatory

import "errors"

var (
	ErrNoQuorum           = errors.New("no quorum")
	ErrEmptyValidatorSet  = errors.New("validator set has zero voting power")
	ErrTooManySignatories = errors.New("signatory set exceeds maximum size")
	ErrInvalidScript      = errors.New("invalid redeem script")
)
