package spv

import "errors"

var (
	// ErrAllProvidersDown is returned once every Esplora endpoint in a
	// Pool has either tripped its circuit breaker or failed this call.
	ErrAllProvidersDown = errors.New("spv: all esplora providers unavailable")
	// ErrCircuitOpen is returned by a single Client when its own circuit
	// breaker is tripped and the cooldown has not yet elapsed.
	ErrCircuitOpen = errors.New("spv: provider circuit breaker open")
	// ErrMerkleProofInvalid is returned when a relayed merkle proof does
	// not recompute to the claimed block's merkle root.
	ErrMerkleProofInvalid = errors.New("spv: merkle proof does not match block header")
	// ErrUnexpectedStatus wraps a non-200 Esplora HTTP response.
	ErrUnexpectedStatus = errors.New("spv: unexpected esplora response status")
)
