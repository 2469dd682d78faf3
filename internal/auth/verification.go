// Package auth issues and validates the single-purpose tokens embedded
// in email verification links.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "heraldapp.io/herald/internal/pkg/errors"
)

// purposeEmailVerification pins verification tokens to their one use so
// an API access token can never double as a verification link.
const purposeEmailVerification = "email_verification"

// verificationClaims is the claim set of a verification token.
type verificationClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// VerificationTokens mints and checks email verification tokens. Tokens
// are HS256 JWTs signed with the same secret as API tokens but carry a
// distinct purpose claim.
type VerificationTokens struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

// NewVerificationTokens creates a token service. A non-positive ttl
// falls back to 24 hours.
func NewVerificationTokens(signingKey []byte, issuer string, ttl time.Duration) *VerificationTokens {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &VerificationTokens{signingKey: signingKey, issuer: issuer, ttl: ttl}
}

// Issue mints a verification token for the user.
func (v *VerificationTokens) Issue(userID uuid.UUID) (string, error) {
	now := time.Now()
	claims := verificationClaims{
		Purpose: purposeEmailVerification,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign verification token: %w", err)
	}
	return signed, nil
}

// Parse validates a verification token and returns the user it was
// issued for. Expired, mis-signed and wrong-purpose tokens all fail
// with VERIFICATION_INVALID.
func (v *VerificationTokens) Parse(tokenString string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &verificationClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return v.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("VERIFICATION_INVALID", "verification token is invalid or expired")
	}

	claims, ok := token.Claims.(*verificationClaims)
	if !ok || !token.Valid || claims.Purpose != purposeEmailVerification {
		return uuid.Nil, apperrors.BadRequest("VERIFICATION_INVALID", "verification token is invalid or expired")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("VERIFICATION_INVALID", "verification token is invalid or expired")
	}
	return userID, nil
}
