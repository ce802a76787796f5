package bridge

import "errors"

// Sentinel errors grouped by error kind. Callers at the message-dispatch
// layer map these to their surfaced error kind; none of them are retried
// internally.

// InputValidation
var (
	ErrOutOfBounds    = errors.New("vout out of bounds")
	ErrScriptMismatch = errors.New("output script does not match expected sigset script")
	ErrScriptTooLong  = errors.New("withdrawal script exceeds max length")
	ErrDustBelowLimit = errors.New("withdrawal amount below dust limit")
)

// Replay/Duplicate
var (
	ErrCheckpointAlreadyRelayed = errors.New("checkpoint index already relayed or stale")
	ErrDuplicateSignatoryKey    = errors.New("signatory key already declared")
)

// Recovery signature batch shape, mirroring checkpoint's
// ErrNotEnoughSignatures/ErrExcessSignatures but across the whole pending
// recovery-tx set rather than one checkpoint's inputs.
var (
	ErrNotEnoughRecoverySignatures = errors.New("not enough recovery signatures for pending recovery txs")
	ErrExcessRecoverySignatures    = errors.New("more recovery signatures submitted than pending recovery txs need")
)

// Timing/Confirmation
var (
	ErrInsufficientConfirmations = errors.New("insufficient confirmations")
	ErrHeadersBehind             = errors.New("light client headers behind requested height")
	ErrInvalidProof              = errors.New("SPV proof verification failed")
)

// Quorum/State
var (
	ErrNoQuorum              = errors.New("validator candidates do not reach quorum")
	ErrDepositsDisabled      = errors.New("deposits are disabled for this checkpoint")
	ErrWithdrawalsDisabled   = errors.New("withdrawals are disabled")
	ErrNoCheckpointToSign    = errors.New("no checkpoint is in the signing status")
	ErrCheckpointStillBuilding = errors.New("checkpoint index is still building")
	ErrInsufficientReserve   = errors.New("reserve does not cover withdrawal and fees")
)

// Economic
var (
	ErrAmountTooSmallForFee = errors.New("deposit amount too small to cover fees")
	ErrBelowDustLimit       = errors.New("amount below dust limit")
	ErrCapacityLimitReached = errors.New("bitcoin capacity limit reached")
)
