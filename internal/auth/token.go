// Package auth reads the local participant identity out of a bearer token.
// Tokens are issued and verified by the backend; the client only decodes
// claims and never validates signatures.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNoIdentity = errors.New("token carries no username")

// UsernameFromToken returns the "username" claim, falling back to "sub".
func UsernameFromToken(token string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if name, ok := claims["username"].(string); ok && name != "" {
		return name, nil
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoIdentity
	}
	return sub, nil
}
