package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// TokenIssuer signs and verifies HS256 session tokens
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer with an absolute session lifetime of ttl
func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock returns a copy of the issuer that reads time from now
func (ti *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	c := *ti
	c.now = now
	return &c
}

// Mint signs claims into a new session expiring ttl from now. Times are
// whole seconds, as carried in the token.
func (ti *TokenIssuer) Mint(claims models.SessionClaims) (*models.Session, error) {
	issuedAt := ti.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(ti.ttl)

	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.AccountID,
		Issuer:    ti.issuer,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	return &models.Session{
		Token:     signed,
		ExpiresAt: expiresAt,
		Claims:    claims,
	}, nil
}

// Parse verifies signature, issuer and expiry and returns the claims. Every
// failure is reported as models.ErrInvalidSession.
func (ti *TokenIssuer) Parse(tokenString string) (*models.SessionClaims, error) {
	if tokenString == "" {
		return nil, models.ErrInvalidSession
	}

	claims := &models.SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ti.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, errors.Join(models.ErrInvalidSession, err)
	}
	if !token.Valid || claims.ExpiresAt == nil || !claims.Role.Valid() {
		return nil, models.ErrInvalidSession
	}
	return claims, nil
}
