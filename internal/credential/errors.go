package credential

import "errors"

// Credential validation errors. Both reject the credential at the boundary
// before any session mutation.
var (
	ErrCredentialExpired   = errors.New("credential is expired")
	ErrCredentialMalformed = errors.New("credential is malformed")
)
