package token

import (
	"strings"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated user behind an access token.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// Validator verifies access tokens presented by clients when they connect.
type Validator interface {
	Verify(token string) (*Identity, error)
}

// accessClaims carry the user id in the subject.
type accessClaims struct {
	jwt.RegisteredClaims
}

// AccessValidator verifies HS256 access tokens issued by the login service.
type AccessValidator struct {
	secret []byte
	now    func() time.Time
}

// NewAccessValidator creates an AccessValidator. A nil now defaults to
// time.Now.
func NewAccessValidator(secret string, now func() time.Time) *AccessValidator {
	if now == nil {
		now = time.Now
	}
	return &AccessValidator{
		secret: []byte(secret),
		now:    now,
	}
}

// Verify implements the Validator interface.
func (v *AccessValidator) Verify(token string) (*Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, common.NewErrMsg("Token", common.Authorization, "", "access token is required")
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	if strings.TrimSpace(parsed.Subject) == "" {
		return nil, common.NewErrMsg("Token", common.Authorization, "", "access token sub is required")
	}

	identity := &Identity{UserID: parsed.Subject}
	if parsed.ExpiresAt != nil {
		identity.ExpiresAt = parsed.ExpiresAt.Time.UTC()
		if !identity.ExpiresAt.After(v.now().UTC()) {
			return nil, common.NewErrMsg("Token", common.Expired, parsed.Subject, "access token is expired")
		}
	}
	return identity, nil
}

// SignAccessToken creates an access token for userID. It is used by tests and
// by the keygen command to produce development tokens.
func SignAccessToken(secret, userID string, lifetime time.Duration, now time.Time) (string, error) {
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if lifetime > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(lifetime))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
