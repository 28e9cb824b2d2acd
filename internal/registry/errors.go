package registry

import "errors"

// Registry-specific errors. Cross-component sentinels (session/consultation
// not found) live in pkg/interfaces.
var (
	ErrConsultationCompleted = errors.New("consultation is already completed")
	ErrConsultationMismatch  = errors.New("consultation does not match session")
)
