package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUsernameFromToken(t *testing.T) {
	cases := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"sub only", jwt.MapClaims{"sub": "alice"}, "alice"},
		{"username wins", jwt.MapClaims{"sub": "17", "username": "bob"}, "bob"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := UsernameFromToken(sign(t, tc.claims))
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUsernameFromTokenMissing(t *testing.T) {
	_, err := UsernameFromToken(sign(t, jwt.MapClaims{"exp": 1}))
	if !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestUsernameFromTokenGarbage(t *testing.T) {
	if _, err := UsernameFromToken("not-a-jwt"); err == nil {
		t.Fatal("expected parse error")
	}
}
