package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/appointly/internal/core"
	"github.com/markdave123-py/appointly/internal/models"
)

var testUser = &models.User{ID: "3f1c1a52-6a59-4d8e-9c57-0b0c5f0a1b11", Email: "alice@example.com", IsActive: true}

func TestAccessTokenExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	a := NewTokenAuthority("secret", 15*time.Minute, 7*24*time.Hour, WithClock(clock.Now))

	tok, err := a.IssueAccessToken(testUser)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), tok.ExpiresAt)

	clock.Advance(15*time.Minute - time.Second)
	claims, err := a.Verify(tok.Token)
	require.NoError(t, err, "one second before expiry")
	assert.Equal(t, testUser.ID, claims.UserID)
	assert.Equal(t, testUser.Email, claims.Email)

	clock.Advance(time.Second)
	_, err = a.Verify(tok.Token)
	assert.True(t, core.IsKind(err, core.KindTokenExpired), "exactly at expiry")

	clock.Advance(time.Second)
	_, err = a.Verify(tok.Token)
	assert.True(t, core.IsKind(err, core.KindTokenExpired), "after expiry")
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	a := NewTokenAuthority("secret", time.Minute, time.Hour)
	other := NewTokenAuthority("other-secret", time.Minute, time.Hour)

	tok, err := other.IssueAccessToken(testUser)
	require.NoError(t, err)

	_, err = a.Verify(tok.Token)
	assert.True(t, core.IsKind(err, core.KindTokenInvalid))

	_, err = a.Verify("not-a-jwt")
	assert.True(t, core.IsKind(err, core.KindTokenInvalid))
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	a := NewTokenAuthority("secret", time.Minute, time.Hour)
	claims := Claims{UserID: testUser.ID, RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = a.Verify(raw)
	assert.True(t, core.IsKind(err, core.KindTokenInvalid))

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Verify(unsigned)
	assert.True(t, core.IsKind(err, core.KindTokenInvalid))
}

func TestVerifyRequiresExpiry(t *testing.T) {
	a := NewTokenAuthority("secret", time.Minute, time.Hour)
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: testUser.ID}).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = a.Verify(raw)
	assert.True(t, core.IsKind(err, core.KindTokenInvalid))
}

func TestRefreshTokenPurpose(t *testing.T) {
	a := NewTokenAuthority("secret", time.Minute, time.Hour)

	refresh, err := a.IssueRefreshToken(testUser)
	require.NoError(t, err)
	claims, err := a.Verify(refresh.Token)
	require.NoError(t, err)
	assert.Equal(t, PurposeRefresh, claims.Purpose)
	assert.Empty(t, claims.Email)

	_, err = a.VerifyAccess(refresh.Token)
	assert.True(t, core.IsKind(err, core.KindTokenInvalid), "refresh token must not pass the gate")

	access, err := a.IssueAccessToken(testUser)
	require.NoError(t, err)
	_, err = a.VerifyAccess(access.Token)
	assert.NoError(t, err)
}

func TestRefreshTokensAreUnique(t *testing.T) {
	clock := newFakeClock()
	a := NewTokenAuthority("secret", time.Minute, time.Hour, WithClock(clock.Now))

	first, err := a.IssueRefreshToken(testUser)
	require.NoError(t, err)
	second, err := a.IssueRefreshToken(testUser)
	require.NoError(t, err)

	assert.NotEqual(t, HashToken(first.Token), HashToken(second.Token))
}

func TestHashToken(t *testing.T) {
	h := HashToken("abc")
	assert.Len(t, h, 64)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", h)
}
