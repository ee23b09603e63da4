package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret-0123456789abcdef"

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "correct horse battery stable"))
	assert.False(t, CheckPassword(hash, ""))
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestHashPasswordIsSalted(t *testing.T) {
	a, err := HashPassword("same password")
	require.NoError(t, err)
	b, err := HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestIssueAndVerify(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	userID := uuid.New()

	raw, expires, err := tokens.Issue(userID, "ana@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := tokens.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, issuer, claims.Issuer)
}

func TestVerifyExpiredToken(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	tokens.now = func() time.Time { return start }

	raw, _, err := tokens.Issue(uuid.New(), "ana@example.com")
	require.NoError(t, err)

	tokens.now = func() time.Time { return start.Add(2 * time.Hour) }
	_, err = tokens.Verify(raw)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw, _, err := NewTokens(testSecret, time.Hour).Issue(uuid.New(), "ana@example.com")
	require.NoError(t, err)

	_, err = NewTokens("some-other-secret-value-entirely", time.Hour).Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewTokens(testSecret, time.Hour).Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg=none must never pass")
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tokens := NewTokens(testSecret, time.Hour)

	_, err := tokens.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	token, ok := BearerToken("Bearer abc.def.ghi")
	assert.True(t, ok)
	assert.Equal(t, "abc.def.ghi", token)

	token, ok = BearerToken("bearer abc.def.ghi")
	assert.True(t, ok, "scheme comparison is case insensitive")
	assert.Equal(t, "abc.def.ghi", token)

	_, ok = BearerToken("")
	assert.False(t, ok)
	_, ok = BearerToken("Basic dXNlcjpwYXNz")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestUserContext(t *testing.T) {
	claims := &Claims{UserID: uuid.New(), Email: "ana@example.com"}
	ctx := WithUser(context.Background(), claims)

	got, ok := UserFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, claims, got)

	_, ok = UserFrom(context.Background())
	assert.False(t, ok)
}
