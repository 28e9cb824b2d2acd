package credential

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"greenroom/pkg/types"
)

// Claims are the validated contents of a participant credential.
type Claims struct {
	RoomID         string
	UserID         string
	Role           types.Role
	ConsultationID string
	ExpiresAt      time.Time
}

// tokenClaims is the internal claims type used for JWT signing and parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	RoomID         string `json:"room_id"`
	Role           string `json:"role"`
	ConsultationID string `json:"consultation_id"`
}

// Issuer mints and validates MAC-protected participant credentials.
// Credentials are stateless artifacts: issuing overwrites nothing and
// validation performs no I/O. Revocation is out of scope; the short TTL and
// session-bound claims limit exposure.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates a credential issuer. The secret signs HS256 tokens; ttl
// is the fixed validity window from issuance.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the issuer's time source. Used in tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue mints a signed credential binding the user to one room, role and
// consultation.
func (i *Issuer) Issue(roomID, userID string, role types.Role, consultationID string) (string, error) {
	issued := i.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(i.ttl)),
		},
		RoomID:         roomID,
		Role:           string(role),
		ConsultationID: consultationID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Validate verifies the signature and expiry and returns the claims. It is a
// pure function of the credential contents and the current time.
func (i *Issuer) Validate(credential string) (*Claims, error) {
	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(credential, &parsed, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrCredentialExpired
		}
		return nil, ErrCredentialMalformed
	}

	role := types.Role(parsed.Role)
	if parsed.RoomID == "" || parsed.Subject == "" || parsed.ConsultationID == "" || !role.IsValid() {
		return nil, ErrCredentialMalformed
	}

	return &Claims{
		RoomID:         parsed.RoomID,
		UserID:         parsed.Subject,
		Role:           role,
		ConsultationID: parsed.ConsultationID,
		ExpiresAt:      parsed.ExpiresAt.Time.UTC(),
	}, nil
}
