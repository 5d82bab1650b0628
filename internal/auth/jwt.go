package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "facewatch"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims identify an operator and carry the contact details alerts raised
// on their behalf are routed to, so requests need no user lookup.
type Claims struct {
	Profile
	jwt.RegisteredClaims
}

// JWTManager signs and verifies operator session tokens (HS256).
type JWTManager struct {
	secretKey []byte
	expiry    time.Duration
}

// NewJWTManager creates a JWT manager. An empty secret generates a random
// one, which invalidates tokens on restart.
func NewJWTManager(secret string, expiry time.Duration) *JWTManager {
	key := []byte(secret)
	if secret == "" {
		log.Printf("[Auth] JWT_SECRET not set, sessions will not survive a restart")
		key = randomSecret()
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTManager{secretKey: key, expiry: expiry}
}

func randomSecret() []byte {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return []byte(hex.EncodeToString(b))
}

// Issue signs a session token for p and returns it with its expiry.
func (m *JWTManager) Issue(p *Profile) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.expiry)
	claims := &Claims{
		Profile: *p,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse verifies a session token and returns its claims.
func (m *JWTManager) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	case claims.Username == "":
		return nil, ErrInvalidToken
	}
	return claims, nil
}
