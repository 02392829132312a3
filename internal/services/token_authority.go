package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

// PurposeRefresh marks tokens that may only be exchanged at the refresh endpoint.
const PurposeRefresh = "refresh"

// Claims carried by every token this service signs.
type Claims struct {
	UserID  string `json:"userId"`
	Email   string `json:"email,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed token with its embedded expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenAuthority signs and verifies HS256 tokens.
type TokenAuthority struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type AuthorityOption func(*TokenAuthority)

// WithClock replaces time.Now for issuing and verifying.
func WithClock(now func() time.Time) AuthorityOption {
	return func(a *TokenAuthority) { a.now = now }
}

func NewTokenAuthority(secret string, accessTTL, refreshTTL time.Duration, opts ...AuthorityOption) *TokenAuthority {
	a := &TokenAuthority{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IssueAccessToken signs {userId, email} with the configured access lifetime.
func (a *TokenAuthority) IssueAccessToken(user *models.User) (IssuedToken, error) {
	return a.IssueAccessTokenTTL(user, a.accessTTL)
}

// IssueAccessTokenTTL signs an access token with a caller-chosen lifetime.
func (a *TokenAuthority) IssueAccessTokenTTL(user *models.User, ttl time.Duration) (IssuedToken, error) {
	return a.sign(Claims{UserID: user.ID, Email: user.Email}, ttl)
}

// IssueRefreshToken signs {userId, purpose: refresh}. Each token carries a
// fresh jti so two tokens minted in the same second never hash alike.
func (a *TokenAuthority) IssueRefreshToken(user *models.User) (IssuedToken, error) {
	return a.sign(Claims{UserID: user.ID, Purpose: PurposeRefresh}, a.refreshTTL)
}

func (a *TokenAuthority) sign(c Claims, ttl time.Duration) (IssuedToken, error) {
	now := a.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.UserID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return IssuedToken{}, core.E(core.KindInternal, "sign token", err)
	}
	return IssuedToken{Token: signed, ExpiresAt: c.ExpiresAt.Time}, nil
}

// Verify checks signature and embedded expiry. A token is valid strictly
// before its exp instant.
func (a *TokenAuthority) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, core.E(core.KindTokenExpired, "token expired", err)
	default:
		return nil, core.E(core.KindTokenInvalid, "token invalid", err)
	}
	if claims.UserID == "" {
		return nil, core.E(core.KindTokenInvalid, "token has no subject", nil)
	}
	return claims, nil
}

// VerifyAccess is Verify plus a refusal of refresh tokens, so a refresh token
// can never stand in for an access token at the request gate.
func (a *TokenAuthority) VerifyAccess(raw string) (*Claims, error) {
	claims, err := a.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Purpose == PurposeRefresh {
		return nil, core.E(core.KindTokenInvalid, "refresh token used as access token", nil)
	}
	return claims, nil
}

// HashToken is the lookup key stored for refresh tokens.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
