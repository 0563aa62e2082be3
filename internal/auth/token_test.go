// ABOUTME: Unit tests for JWT minting and verification
// ABOUTME: Covers valid, tampered, expired, wrong-issuer and subject-less tokens

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-for-jwt-signing")

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("alice", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != "alice" {
		t.Errorf("Verify() = %q, want %q", got, "alice")
	}
}

func TestJWTVerifier_NoExpiry(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	verifier.now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }

	token, err := verifier.Generate("cron", 0)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	verifier.now = time.Now
	if _, err := verifier.Verify(token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("SignedString() error = %v", err)
		}
		return s
	}
	otherToken, _ := NewJWTVerifier([]byte("different-secret")).Generate("alice", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: otherToken},
		{
			name:  "wrong issuer",
			token: sign(jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{Issuer: "someone-else", Subject: "alice"}),
		},
		{
			name:  "HS512 signed",
			token: sign(jwt.SigningMethodHS512, testSecret, jwt.RegisteredClaims{Issuer: Issuer, Subject: "alice"}),
		},
		{
			name:  "alg none",
			token: sign(jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.RegisteredClaims{Issuer: Issuer, Subject: "alice"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: Issuer}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	token, err := verifier.Generate("alice", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_GenerateRequiresSecretAndSubject(t *testing.T) {
	if _, err := NewJWTVerifier(nil).Generate("alice", time.Hour); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("Generate() error = %v, want ErrEmptySecret", err)
	}
	if _, err := NewJWTVerifier(testSecret).Generate("", time.Hour); !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Generate() error = %v, want ErrMissingClaim", err)
	}
}
