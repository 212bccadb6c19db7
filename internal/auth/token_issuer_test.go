package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestIssuer(secret string) *TokenIssuer {
	return NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(secret),
		Issuer:        "pulse-auth",
		Audience:      "pulse-api",
		TokenTTL:      30 * time.Minute,
	})
}

func TestTokenIssuerIssuesTokens(t *testing.T) {
	issuer := newTestIssuer("super-secret")

	tokenString, expiresIn, err := issuer.IssueToken(context.Background(), "user-123", "admin")
	if err != nil {
		t.Fatalf("expected successful issuance: %v", err)
	}

	if expiresIn <= 0 {
		t.Fatalf("expected positive expiry seconds, got %d", expiresIn)
	}

	parser := jwt.Parser{}
	claims := &TokenClaims{}

	_, err = parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("super-secret"), nil
	})
	if err != nil {
		t.Fatalf("failed to parse generated token: %v", err)
	}

	if claims.Subject != "user-123" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != "pulse-auth" {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
	if len(claims.Audience) == 0 || claims.Audience[0] != "pulse-api" {
		t.Fatalf("unexpected audience %#v", claims.Audience)
	}
}

func TestTokenIssuerRejectsMissingSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		Issuer:   "pulse-auth",
		Audience: "pulse-api",
	})
	if _, _, err := issuer.IssueToken(context.Background(), "user-1", ""); err == nil {
		t.Fatalf("expected issuance error for missing secret")
	}
}

func TestTokenIssuerRejectsMissingSubject(t *testing.T) {
	issuer := newTestIssuer("secret")
	if _, _, err := issuer.IssueToken(context.Background(), "", "member"); err == nil {
		t.Fatalf("expected issuance error for missing subject")
	}
}

func TestTokenIssuerValidatesIssuedTokens(t *testing.T) {
	issuer := newTestIssuer("another-secret")

	tokenString, _, err := issuer.IssueToken(context.Background(), "user-321", "member")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	claims, err := issuer.ValidateToken(tokenString)
	if err != nil {
		t.Fatalf("expected validation success: %v", err)
	}
	if claims.Subject != "user-321" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Role != "member" {
		t.Fatalf("unexpected role %s", claims.Role)
	}

	if _, err := issuer.ValidateToken("invalid.token"); err == nil {
		t.Fatalf("expected validation to fail for malformed token")
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	issuedAt := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := issuedAt
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "pulse-auth",
		Audience:      "pulse-api",
		TokenTTL:      time.Minute,
		Clock:         func() time.Time { return clock },
	})

	tokenString, _, err := issuer.IssueToken(context.Background(), "user-9", "member")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}

	clock = issuedAt.Add(2 * time.Minute)
	if _, err := issuer.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation to fail after expiry")
	}
}

func TestTokenIssuerRejectsForeignAudience(t *testing.T) {
	issuer := newTestIssuer("secret")
	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("secret"),
		Issuer:        "pulse-auth",
		Audience:      "other-api",
		TokenTTL:      time.Minute,
	})

	tokenString, _, err := other.IssueToken(context.Background(), "user-5", "member")
	if err != nil {
		t.Fatalf("unexpected error issuing token: %v", err)
	}
	if _, err := issuer.ValidateToken(tokenString); err == nil {
		t.Fatalf("expected validation to fail for foreign audience")
	}
}
