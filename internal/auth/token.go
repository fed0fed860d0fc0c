// Package auth issues and verifies the scoped credentials that gate every
// backend operation.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrAppMismatch  = errors.New("token issued for another app")
	ErrForbidden    = errors.New("forbidden by token scope")
	ErrNoSecret     = errors.New("empty signing secret")
)

// Claims is the credential payload: jti, iat, exp and the scope.
type Claims struct {
	jwt.RegisteredClaims
	Scope Scope `json:"scope"`
}

type Issuer struct {
	AppID  string
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func NewIssuer(appID, secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{AppID: appID, Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

// Issue signs a demo-scoped token valid from now for TTL.
func (i *Issuer) Issue() (string, error) {
	return i.IssueScope(DemoScope(i.AppID))
}

func (i *Issuer) IssueScope(scope Scope) (string, error) {
	if len(i.Secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	iat := now().Truncate(time.Second)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(i.TTL)),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

type Verifier struct {
	AppID  string
	Secret []byte
	Now    func() time.Time
}

func NewVerifier(appID, secret string) *Verifier {
	return &Verifier{AppID: appID, Secret: []byte(secret), Now: time.Now}
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.Now))
	}
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			return v.Secret, nil
		},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Scope.App.ID != v.AppID {
		return nil, ErrAppMismatch
	}
	return claims, nil
}

// Require returns ErrForbidden wrapped with the denied level when the scope
// does not grant action on r.
func (c *Claims) Require(action Action, r Resource) error {
	if c == nil || !c.Scope.Allows(action, r) {
		return fmt.Errorf("%w: %s on %s", ErrForbidden, action, r.Level)
	}
	return nil
}
