package presence

import "errors"

var (
	ErrMissingCredential = errors.New("credential query parameter is required")
	ErrRoomMismatch      = errors.New("credential is bound to a different room")
)
