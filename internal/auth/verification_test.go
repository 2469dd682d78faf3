package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func TestVerificationTokens_RoundTrip(t *testing.T) {
	svc := NewVerificationTokens(testKey, "herald", time.Hour)
	userID := uuid.New()

	token, err := svc.Issue(userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	parsed, err := svc.Parse(token)
	require.NoError(t, err)
	require.Equal(t, userID, parsed)
}

func TestVerificationTokens_Expired(t *testing.T) {
	svc := NewVerificationTokens(testKey, "herald", -time.Hour)
	// Negative ttl falls back to the 24h default, so build an expired
	// token by hand instead.
	claims := verificationClaims{
		Purpose: purposeEmailVerification,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "herald",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)

	_, err = svc.Parse(token)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, "VERIFICATION_INVALID", appErr.Code)
}

func TestVerificationTokens_WrongKey(t *testing.T) {
	issuer := NewVerificationTokens(testKey, "herald", time.Hour)
	verifier := NewVerificationTokens([]byte("another-secret-another-secret-32"), "herald", time.Hour)

	token, err := issuer.Issue(uuid.New())
	require.NoError(t, err)

	_, err = verifier.Parse(token)
	require.Error(t, err)
}

func TestVerificationTokens_WrongPurpose(t *testing.T) {
	svc := NewVerificationTokens(testKey, "herald", time.Hour)

	claims := verificationClaims{
		Purpose: "api_access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testKey)
	require.NoError(t, err)

	_, err = svc.Parse(token)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, "VERIFICATION_INVALID", appErr.Code)
}

func TestVerificationTokens_Garbage(t *testing.T) {
	svc := NewVerificationTokens(testKey, "herald", time.Hour)
	_, err := svc.Parse("not-a-token")
	require.Error(t, err)
}
