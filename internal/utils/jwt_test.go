package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	id := uuid.New()
	token, err := GenerateJWT("secret", id, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ValidateJWT("secret", token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	got, err := claims.Viewer()
	if err != nil || got != id {
		t.Fatalf("expected viewer %s, got %s err=%v", id, got, err)
	}

	if _, err := ValidateJWT("other", token); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
}

func TestValidateJWTExpired(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ValidateJWT("secret", token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestClaimsViewerFallsBackToSubject(t *testing.T) {
	id := uuid.New()
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()}}
	got, err := c.Viewer()
	if err != nil || got != id {
		t.Fatalf("expected %s from sub, got %s err=%v", id, got, err)
	}

	c = &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid"}}
	if _, err := c.Viewer(); err == nil {
		t.Fatalf("expected error for non-uuid subject")
	}
}
