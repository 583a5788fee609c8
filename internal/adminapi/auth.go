// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/workcoordinator

package adminapi

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims is the JWT payload an operator token carries: identity plus the
// Casbin roles that authz.go's enforcer checks against.
type Claims struct {
	Subject string   `json:"sub"`
	Roles   []string `json:"roles"`
	jwt.RegisteredClaims
}

// JWTManager issues and validates operator bearer tokens. It mirrors the
// host's own JWT usage but is scoped to the admin API's separate secret
// and roles claim rather than the full session/cookie flow.
type JWTManager struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTManager builds a JWTManager. secret must be non-empty; callers
// should reject a config with an empty AdminAPIConfig.JWTSecret before
// reaching this constructor.
func NewJWTManager(secret string, ttl time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, fmt.Errorf("adminapi: jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTManager{secret: []byte(secret), ttl: ttl}, nil
}

// IssueToken signs a token for subject with the given roles.
func (m *JWTManager) IssueToken(subject string, roles []string) (string, error) {
	claims := &Claims{
		Subject: subject,
		Roles:   roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("adminapi: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a bearer token string and returns its claims.
func (m *JWTManager) ParseToken(raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("adminapi: parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("adminapi: invalid token claims")
	}
	return claims, nil
}

// APIKeyStore verifies operator API keys against their bcrypt hashes.
// It is the credential an operator exchanges for a JWT via the login
// endpoint; the admin API never stores plaintext keys.
type APIKeyStore struct {
	hashes map[string]apiKeyRecord
}

type apiKeyRecord struct {
	hash  []byte
	roles []string
}

// NewAPIKeyStore builds a store from operator name -> bcrypt hash, and
// the roles each operator carries.
func NewAPIKeyStore(operators map[string]OperatorCredential) *APIKeyStore {
	hashes := make(map[string]apiKeyRecord, len(operators))
	for name, cred := range operators {
		hashes[name] = apiKeyRecord{hash: []byte(cred.BcryptHash), roles: cred.Roles}
	}
	return &APIKeyStore{hashes: hashes}
}

// OperatorCredential is one configured operator's stored credential.
type OperatorCredential struct {
	BcryptHash string
	Roles      []string
}

// HashAPIKey bcrypt-hashes a plaintext API key for storage in
// configuration. It is a setup-time helper, not used on the request path.
func HashAPIKey(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("adminapi: hash api key: %w", err)
	}
	return string(hash), nil
}

// Verify checks a plaintext API key for the named operator and, on
// success, returns the roles to embed in the issued JWT.
func (s *APIKeyStore) Verify(operator, plaintextKey string) ([]string, error) {
	rec, ok := s.hashes[operator]
	if !ok {
		return nil, fmt.Errorf("adminapi: unknown operator %q", operator)
	}
	if err := bcrypt.CompareHashAndPassword(rec.hash, []byte(plaintextKey)); err != nil {
		return nil, fmt.Errorf("adminapi: invalid credentials for operator %q", operator)
	}
	return rec.roles, nil
}
