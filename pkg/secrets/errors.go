package secrets

import "errors"

var (
	ErrEmptyKey            = errors.New("secret key is empty")
	ErrInvalidKeyEncoding  = errors.New("secret key must be hex or base64 encoded")
	ErrInvalidKeySize      = errors.New("secret key must be 32 bytes")
	ErrEmptyPurpose        = errors.New("key derivation purpose cannot be empty")
	ErrKeyDerivationFailed = errors.New("key derivation failed")
)
