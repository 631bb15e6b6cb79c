package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the external session resolver issues.
// Only the fields audit attribution needs are modeled here.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
}

// TokenResolver turns bearer tokens from the session layer into Principals.
type TokenResolver struct {
	key      []byte
	issuer   string
	audience string
}

// NewTokenResolver creates a resolver validating HS256 tokens signed
// with key, optionally pinned to an issuer and audience.
func NewTokenResolver(key []byte, issuer, audience string) *TokenResolver {
	return &TokenResolver{key: key, issuer: issuer, audience: audience}
}

// Resolve validates tokenString and returns the Principal it asserts.
func (r *TokenResolver) Resolve(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	if r.audience != "" {
		opts = append(opts, jwt.WithAudience(r.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return r.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("auth: token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, fmt.Errorf("auth: token missing subject")
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("auth: token missing tenant_id")
	}

	return &BasePrincipal{
		ID:       claims.Subject,
		TenantID: claims.TenantID,
		Roles:    claims.Roles,
	}, nil
}
