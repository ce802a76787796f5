package threshold

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownSigner    = errors.New("unknown signer")
	ErrAlreadySigned    = errors.New("already signed")
	ErrMessageNotSet    = errors.New("message not set")
	ErrMessageAlreadySet = errors.New("message already set")
)
