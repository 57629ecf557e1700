package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewVerifierRequiresSecret(t *testing.T) {
	for _, secret := range []string{"", " \t"} {
		if _, err := NewVerifier(secret, "", 0); !errors.Is(err, ErrNoSecret) {
			t.Fatalf("expected ErrNoSecret for %q, got %v", secret, err)
		}
	}
}

func TestVerifierIssuedTokenVerifies(t *testing.T) {
	v, err := NewVerifier(" s3cret ", "damage-check", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := v.Issue("user-7", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	subject, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if subject != "user-7" {
		t.Fatalf("unexpected subject %q", subject)
	}

	other, err := NewVerifier("s3cret", "other-app", 0)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch to be rejected, got %v", err)
	}
}

func TestVerifierLeeway(t *testing.T) {
	token := sign(t, "s3cret", jwt.RegisteredClaims{Subject: "u", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-5 * time.Second))})

	strict, _ := NewVerifier("s3cret", "", 0)
	if _, err := strict.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
	lenient, _ := NewVerifier("s3cret", "", time.Minute)
	if _, err := lenient.Verify(token); err != nil {
		t.Fatalf("expected leeway to accept token, got %v", err)
	}
}

func TestVerifierIssueRequiresSubject(t *testing.T) {
	v, _ := NewVerifier("s3cret", "", 0)
	if _, err := v.Issue(" ", time.Hour); !errors.Is(err, ErrNoSubject) {
		t.Fatalf("expected ErrNoSubject, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]struct {
		header string
		token  string
		err    error
	}{
		"ok":          {"Bearer abc", "abc", nil},
		"lower case":  {"bearer abc", "abc", nil},
		"missing":     {"", "", ErrMissingToken},
		"basic":       {"Basic abc", "", ErrBadHeader},
		"no token":    {"Bearer", "", ErrBadHeader},
		"blank token": {"Bearer  ", "", ErrMissingToken},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			token, err := BearerToken(tc.header)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if token != tc.token {
				t.Fatalf("expected token %q, got %q", tc.token, token)
			}
		})
	}
}
