package credential

import "errors"

var (
	ErrNoCredential      = errors.New("no credential")
	ErrCredentialExpired = errors.New("credential expired")
	ErrCredentialInvalid = errors.New("credential malformed")
	ErrStoreClosed       = errors.New("credential store closed")
)
