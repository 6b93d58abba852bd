package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParse_ValidHS256(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{
		Operator: "studio",
		Scopes:   []string{ScopeControl},
	}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Operator != "studio" || claims.Subject != "studio" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.HasScope(ScopeControl) || claims.HasScope(ScopeRead) {
		t.Fatalf("unexpected scopes %v", claims.Scopes)
	}
}

func TestParse_Rejects(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()

	sign := func(method jwt.SigningMethod, key []byte, exp time.Time) string {
		t.Helper()
		token := jwt.NewWithClaims(method, Claims{
			Operator: "studio",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(exp),
				IssuedAt:  jwt.NewNumericDate(now),
			},
		})
		s, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		return s
	}

	tests := []struct {
		name  string
		token string
	}{
		{"unexpected algorithm", sign(jwt.SigningMethodHS384, secret, now.Add(time.Hour))},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other"), now.Add(time.Hour))},
		{"expired", sign(jwt.SigningMethodHS256, secret, now.Add(-time.Minute))},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(secret, tt.token); err == nil {
				t.Fatal("expected parse to fail")
			}
		})
	}
}
