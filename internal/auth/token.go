package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDClaims are the claims this application reads from an ID token. Tokens issued by the
// managed identity provider carry the same user_id/email/sub/exp claims.
type IDClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// UID returns user_id, falling back to sub.
func (c *IDClaims) UID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// ParseIDToken decodes the claims of an ID token without verifying its signature. The client
// only needs the expiry and the identity; the backend is the one that verifies.
func ParseIDToken(idToken string) (*IDClaims, error) {
	claims := &IDClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse id token: %w", err)
	}
	if claims.UID() == "" {
		return nil, errors.New("id token has no user id")
	}
	return claims, nil
}

// TokenManager mints and verifies HS256 ID tokens for the development identity service.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
	issuer    string
}

// NewTokenManager creates a TokenManager. An empty secret gets a random one, which
// invalidates all tokens on restart.
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	if secret == "" {
		secret = GenerateRandomString(32)
	}
	return &TokenManager{
		secretKey: []byte(secret),
		ttl:       ttl,
		issuer:    "pasta-dev-identity",
	}
}

// TTL is the lifetime of minted ID tokens.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// GenerateToken mints an ID token for the given user.
func (m *TokenManager) GenerateToken(uid, email string) (string, error) {
	now := time.Now()
	claims := IDClaims{
		UserID: uid,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// VerifyToken checks signature, method and expiry and returns the claims.
func (m *TokenManager) VerifyToken(tokenString string) (*IDClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IDClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*IDClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// GenerateRandomString returns a random hex string built from length random bytes.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
