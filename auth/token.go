package auth

import (
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// PlayerClaims are the identity claims carried by the opaque token a client
// presents when connecting. Tokens are issued elsewhere (login service);
// the game server only verifies them.
type PlayerClaims struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier validates identity tokens with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifierFromEnv builds a Verifier from JWT_SECRET.
func NewVerifierFromEnv() (*Verifier, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable not set")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// NewVerifier builds a Verifier with an explicit secret (used by tests).
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// ValidateToken parses and verifies a token string, returning the player's
// identity claims.
func (v *Verifier) ValidateToken(tokenString string) (*PlayerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PlayerClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*PlayerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token or claims")
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("token missing player id")
	}
	return claims, nil
}
