package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "krewup-messaging"

// Claims defines the structure of our JWT claims. Tokens minted by the hosted
// auth provider carry the user id in sub; dev tokens also set user_id.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Viewer returns the authenticated user id from user_id, falling back to sub.
func (c *Claims) Viewer() (uuid.UUID, error) {
	raw := c.UserID
	if raw == "" {
		raw = c.Subject
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("token subject is not a user id: %w", err)
	}
	return id, nil
}

// GenerateJWT signs an HS256 token for userID valid for ttl.
func GenerateJWT(secret string, userID uuid.UUID, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret is not configured")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token max age is not configured or invalid")
	}

	now := time.Now()
	claims := &Claims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signedToken, nil
}

// ValidateJWT validates a given JWT string.
// If valid, it returns the claims; otherwise, it returns an error.
func ValidateJWT(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret is not configured for validation")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse or validate token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}
	return claims, nil
}
