package types

import "regexp"

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidConsultationID checks if a consultation ID meets format requirements.
func IsValidConsultationID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}

// Validate ensures a participant record is structurally sound.
func (p *Participant) Validate() error {
	if !IsValidUserID(p.UserID) {
		return ErrInvalidUserID
	}
	if !p.Role.IsValid() {
		return ErrInvalidRole
	}
	return nil
}
