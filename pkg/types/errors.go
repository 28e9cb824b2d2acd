package types

import "errors"

// Validation errors shared across components.
var (
	ErrInvalidUserID         = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole           = errors.New("role must be 'expert' or 'client'")
	ErrInvalidConsultationID = errors.New("consultation ID must be 1-64 characters, alphanumeric + underscore/hyphen")
)
