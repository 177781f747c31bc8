package token

import (
	"errors"
	"strings"
	"time"

	"github.com/Linkolnn/Icore/src/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultCallTokenLifetime is the validity of a call token. It is independent
// of the lifetime of the call session.
const DefaultCallTokenLifetime = time.Hour

// Permissions is the permission set bound to a call token.
type Permissions struct {
	CanJoin        bool `json:"canJoin"`
	CanInitiate    bool `json:"canInitiate"`
	CanScreenShare bool `json:"canScreenShare"`
}

// DefaultPermissions returns the permissions of invited participants.
func DefaultPermissions() Permissions {
	return Permissions{
		CanJoin:        true,
		CanInitiate:    false,
		CanScreenShare: true,
	}
}

// InitiatorPermissions returns the permissions of the user who started a
// call.
func InitiatorPermissions() Permissions {
	p := DefaultPermissions()
	p.CanInitiate = true
	return p
}

// CallClaims are the verified claims of a call token.
type CallClaims struct {
	UserID      string
	CallID      string
	ChatID      string
	Permissions Permissions
	ExpiresAt   time.Time
	IssuedAt    time.Time
	JWTID       string
}

// callClaims is the internal claims type used for JWT signing and parsing.
type callClaims struct {
	jwt.RegisteredClaims
	UserID      string      `json:"userId"`
	CallID      string      `json:"callId"`
	ChatID      string      `json:"chatId"`
	Permissions Permissions `json:"permissions"`
}

// CallTokens issues and verifies call tokens, signed with HS256.
type CallTokens struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewCallTokens creates a CallTokens. A nil now defaults to time.Now.
func NewCallTokens(secret string, lifetime time.Duration, now func() time.Time) *CallTokens {
	if lifetime <= 0 {
		lifetime = DefaultCallTokenLifetime
	}
	if now == nil {
		now = time.Now
	}
	return &CallTokens{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      now,
	}
}

// Issue signs a token binding a user to a call with a permission set.
func (c *CallTokens) Issue(userID, callID, chatID string, perms Permissions) (string, error) {
	now := c.now()
	claims := callClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.lifetime)),
		},
		UserID:      userID,
		CallID:      callID,
		ChatID:      chatID,
		Permissions: perms,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", common.NewErrMsg("Token", common.Unavailable, callID, err.Error())
	}
	return signed, nil
}

// Verify checks the signature and expiry of a call token. Expired tokens
// return an Expired error, every other failure an Authorization error.
func (c *CallTokens) Verify(token string) (*CallClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, common.NewErrMsg("Token", common.Validation, "", "call token is required")
	}

	var parsed callClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}

	if parsed.ExpiresAt == nil {
		return nil, common.NewErrMsg("Token", common.Authorization, parsed.CallID, "call token exp is required")
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(c.now().UTC()) {
		return nil, common.NewErrMsg("Token", common.Expired, parsed.CallID, "call token is expired")
	}
	if parsed.UserID == "" || parsed.CallID == "" {
		return nil, common.NewErrMsg("Token", common.Authorization, parsed.CallID, "call token is not bound to a call")
	}

	claims := &CallClaims{
		UserID:      parsed.UserID,
		CallID:      parsed.CallID,
		ChatID:      parsed.ChatID,
		Permissions: parsed.Permissions,
		ExpiresAt:   exp,
		JWTID:       parsed.ID,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// VerifyFor verifies a token and checks that it binds userID to callID.
func (c *CallTokens) VerifyFor(token, callID, userID string) (*CallClaims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.CallID != callID || claims.UserID != userID {
		return nil, common.NewErrMsg("Token", common.Authorization, callID, "call token is bound to another call or user")
	}
	return claims, nil
}

// Refresh re-issues a still valid token with the same binding and
// permissions.
func (c *CallTokens) Refresh(token string) (string, *CallClaims, error) {
	claims, err := c.Verify(token)
	if err != nil {
		return "", nil, err
	}
	fresh, err := c.Issue(claims.UserID, claims.CallID, claims.ChatID, claims.Permissions)
	if err != nil {
		return "", nil, err
	}
	return fresh, claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return common.NewErrMsg("Token", common.Expired, "", "token is expired")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return common.NewErrMsg("Token", common.Authorization, "", "token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return common.NewErrMsg("Token", common.Authorization, "", "token alg is invalid")
	}
	return common.NewErrMsg("Token", common.Authorization, "", "token is invalid")
}
