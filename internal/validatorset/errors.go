package validatorset

import "errors"

// ErrNoSuchValidator is returned by lookups keyed on a consensus key that
// has never been declared to the registry.
var ErrNoSuchValidator = errors.New("no signatory key declared for validator")
