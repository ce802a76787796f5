package relay

import "errors"

var (
	ErrAllProvidersDown = errors.New("relay: all esplora providers unavailable")
	ErrBadTransaction    = errors.New("relay: transaction rejected by provider")
)
