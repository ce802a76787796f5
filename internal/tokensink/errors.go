package tokensink

import "errors"

var (
	// ErrMnemonicNotConfigured is raised when the sink is asked to sign
	// before it has an admin key.
	ErrMnemonicNotConfigured = errors.New("tokensink: admin mnemonic file not configured")
	ErrContractNotConfigured = errors.New("tokensink: contract address not configured")
)
