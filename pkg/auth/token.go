package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
)

const tokenIssuer = "treasury"

// Claims are the JWT claims carried by operator tokens.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// IssueToken signs an HS256 token for p valid for ttl.
func IssueToken(p Principal, secret []byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errs.Validation("auth.issue", "signing secret is empty")
	}
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: p.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates an HS256 token and returns its Principal.
func ParseToken(tokenStr string, secret []byte) (Principal, error) {
	if len(secret) == 0 {
		return Principal{}, errs.Unauthorized("auth.parse", "authentication not configured")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, errs.Wrap(errs.KindUnauthorized, "auth.parse", fmt.Errorf("token validation failed: %w", err))
	}
	if !token.Valid {
		return Principal{}, errs.Unauthorized("auth.parse", "invalid token")
	}
	if claims.Subject == "" {
		return Principal{}, errs.Unauthorized("auth.parse", "token subject is required")
	}
	return Principal{ID: claims.Subject, Roles: claims.Roles}, nil
}
