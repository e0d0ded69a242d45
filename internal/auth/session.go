// Package auth issues and validates wallet session tokens. A session
// proves control of a wallet address to the HTTP API without the
// server ever holding key material; the wallet signs a challenge
// client-side and the API exchanges it for a session token here.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession means the session token failed validation.
var ErrInvalidSession = errors.New("invalid session token")

// DefaultSessionTTL is the session lifetime when none is configured.
const DefaultSessionTTL = 24 * time.Hour

// Claims carried by a wallet session token.
type Claims struct {
	WalletAddress string `json:"wallet"`
	ChainID       string `json:"chainId"`
	jwt.RegisteredClaims
}

// Sessions signs and validates wallet session tokens with a shared
// HS256 key.
type Sessions struct {
	key []byte
	ttl time.Duration
}

// NewSessions creates a session signer. The key must be non-empty.
func NewSessions(key []byte, ttl time.Duration) (*Sessions, error) {
	if len(key) == 0 {
		return nil, errors.New("session signing key is required")
	}

	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &Sessions{key: key, ttl: ttl}, nil
}

// Issue creates a session token for a wallet address.
func (s *Sessions) Issue(walletAddress, chainID string) (string, error) {
	now := time.Now()

	claims := Claims{
		WalletAddress: walletAddress,
		ChainID:       chainID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(s.key)
}

// Validate parses a session token and returns its claims.
func (s *Sessions) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(_ *jwt.Token) (interface{}, error) {
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidSession
	}

	return claims, nil
}
