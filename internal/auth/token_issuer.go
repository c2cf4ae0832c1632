package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = time.Hour

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the HS256 JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints and validates the bearer tokens that carry a
// visitor's account identity between requests.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) *TokenIssuer {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		secret:   cfg.SigningSecret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      ttl,
		clock:    clock,
	}
}

// IssueToken produces a signed JWT and its expiry (seconds) for the
// given account identifier.
func (t *TokenIssuer) IssueToken(_ context.Context, accountID string) (string, int64, error) {
	if len(t.secret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if accountID == "" {
		return "", 0, errMissingSubjectClaim
	}

	now := t.clock().UTC()
	expiresAt := now.Add(t.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    t.issuer,
		Audience:  []string{t.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})

	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the JWT is well formed and returns the account
// identifier it was issued for.
func (t *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	if len(t.secret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return t.secret, nil
		},
		jwt.WithAudience(t.audience),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
