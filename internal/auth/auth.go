// Package auth implements password-based login against an auth collection
// and JWT issuance/validation, with validated tokens cached to avoid
// re-parsing and re-verifying a signature on every request.
package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bridevmx/nanodb/internal/model"
	obscache "github.com/bridevmx/nanodb/internal/obs/cache"
	"github.com/bridevmx/nanodb/internal/obs/errors"
)

// tokenTTL is how long an issued token, and its cache entry, remains valid.
const tokenTTL = 24 * time.Hour

// RawReader is the narrow engine dependency auth needs: a lookup that
// returns the unsanitized record (password field intact) for one matching
// row in collection, or found=false.
type RawReader interface {
	FindOneRaw(ctx context.Context, collection, field string, value any) (model.Record, bool, error)
}

// Claims is the JWT payload nanodb issues.
type Claims struct {
	jwt.RegisteredClaims
	Collection string `json:"collection"`
}

// Manager issues and validates login tokens.
type Manager struct {
	reader     RawReader
	signingKey []byte
	tokens     *obscache.TokenCache
}

// New constructs a Manager. An empty signingKey is accepted; the CLI reads
// the key from the environment variable named by --signing-key-env
// (NANODB_SIGNING_KEY by default) at start-up.
func New(reader RawReader, signingKey []byte) *Manager {
	return &Manager{
		reader:     reader,
		signingKey: signingKey,
		tokens:     obscache.NewTokenCache(obscache.CacheConfig{DefaultTTL: tokenTTL, MaxSize: 10000}),
	}
}

// Login verifies email/password against collection's stored record and
// issues a signed token on success.
func (m *Manager) Login(ctx context.Context, collection, email, password string) (string, model.Record, error) {
	rec, found, err := m.reader.FindOneRaw(ctx, collection, "email", email)
	if err != nil {
		return "", nil, err
	}
	if !found {
		return "", nil, errors.Unauthorized("invalid email or password")
	}

	hash, _ := rec["password"].(string)
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", nil, errors.Unauthorized("invalid email or password")
	}

	token, err := m.issue(rec.ID(), collection)
	if err != nil {
		return "", nil, err
	}
	sanitized := rec.Clone()
	delete(sanitized, "password")
	return token, sanitized, nil
}

func (m *Manager) issue(subject, collection string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		Collection: collection,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	if err != nil {
		return "", errors.Internal("sign token", err)
	}
	return signed, nil
}

// Verify validates a bearer token, checking the validated-token cache
// before re-parsing and re-verifying the signature.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	if cached, ok := m.tokens.GetToken(tokenString); ok {
		claims, ok := cached.(*Claims)
		if ok {
			if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
				m.tokens.InvalidateToken(tokenString)
				return nil, errors.TokenExpired()
			}
			return claims, nil
		}
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil)
	}

	ttl := tokenTTL
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl > 0 {
		m.tokens.SetToken(tokenString, claims, ttl)
	}
	return claims, nil
}

// Invalidate drops a token from the validated-token cache, for logout.
func (m *Manager) Invalidate(tokenString string) {
	m.tokens.InvalidateToken(tokenString)
}
