package authentication

// Issues and verifies the bearer tokens that authorize proxy clients.

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Audience is the "aud" claim carried by every token.
const Audience = "btserial-proxy"

var (
	// ErrEmptySecret is returned when a token is signed or verified without a shared secret.
	ErrEmptySecret = errors.New("authentication: empty secret")
	// ErrInvalidToken wraps every verification failure.
	ErrInvalidToken = errors.New("authentication: invalid token")
)

// SignToken returns an HS256 JWT for subject. A positive lifetime sets the expiration claim.
// Additional claims are copied into the token; the function overwrites "sub", "aud", "iat" and
// "exp".
func SignToken(secret []byte, subject string, lifetime time.Duration, extra jwt.MapClaims) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	claims := jwt.MapClaims{}
	for k, v := range extra {
		claims[k] = v
	}
	now := time.Now()
	claims["sub"] = subject
	claims["aud"] = Audience
	claims["iat"] = now.Unix()
	if lifetime > 0 {
		claims["exp"] = now.Add(lifetime).Unix()
	} else {
		delete(claims, "exp")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken checks the signature, audience and expiration of signed and returns its claims.
func VerifyToken(secret []byte, signed string) (jwt.MapClaims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Subject returns the "sub" claim, or an empty string.
func Subject(claims jwt.MapClaims) string {
	sub, _ := claims.GetSubject()
	return sub
}
