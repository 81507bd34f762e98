package auth

import (
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("unit-test-secret")

func validClaims() Claims {
	return Claims{
		Sub:  "user-1",
		Name: "Farid",
		Role: "officer",
		JTI:  "jti-1",
		Exp:  time.Now().Add(10 * time.Minute).Unix(),
	}
}

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.Sub != "user-1" || claims.Name != "Farid" || claims.Role != "officer" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := IssueToken(testSecret, validClaims())
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken([]byte("other-secret"), token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	claims := validClaims()
	claims.Exp = time.Now().Add(-1 * time.Minute).Unix()

	token, err := IssueToken(testSecret, claims)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	if _, err := ParseToken(testSecret, token); err != ErrExpiredToken {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-token",
		"a.b.c",
		"!!!.???",
	}
	for _, raw := range cases {
		if _, err := ParseToken(testSecret, raw); err != ErrInvalidToken {
			t.Errorf("ParseToken(%q) = %v, expected ErrInvalidToken", raw, err)
		}
	}
}

func TestParseTokenMissingClaims(t *testing.T) {
	claims := validClaims()
	claims.JTI = ""
	token, err := IssueToken(testSecret, claims)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if _, err := ParseToken(testSecret, token); err != ErrInvalidToken {
		t.Errorf("expected ErrInvalidToken for missing jti, got %v", err)
	}
}

func TestHashTokenStable(t *testing.T) {
	a := HashToken("refresh-token-value")
	b := HashToken("refresh-token-value")
	if a != b {
		t.Errorf("HashToken not deterministic: %s vs %s", a, b)
	}
	if a == HashToken("different") {
		t.Error("HashToken collided on different inputs")
	}
	if strings.ContainsAny(a, "ABCDEF") {
		t.Errorf("expected lowercase hex, got %s", a)
	}
}
