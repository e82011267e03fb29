package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

var (
	// ErrInvalidToken covers signature, expiry, and claim failures.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned when a valid token lacks a sub claim.
	ErrMissingSubject = errors.New("token has no subject")
)

// Claims holds the token claims the rest of the service cares about.
type Claims struct {
	Sub   string
	Email string
	Name  string
}

// Verifier validates bearer tokens against a remote JWKS endpoint.
type Verifier struct {
	jwks     *JWKSManager
	issuer   string
	audience string
}

// NewVerifier creates a verifier. Audience may be empty, in which case
// the aud claim is not checked.
func NewVerifier(jwksURL, issuer, audience string) *Verifier {
	return &Verifier{
		jwks:     NewJWKSManager(jwksURL),
		issuer:   issuer,
		audience: audience,
	}
}

// Verify parses and validates the token, returning its claims.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	keySet, err := v.jwks.KeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading key set: %w", err)
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(rawToken), opts...)
	if err != nil {
		// A key-lookup failure can mean the provider rotated keys
		// since our last fetch. Refetch once and retry.
		v.jwks.Invalidate()
		keySet, ksErr := v.jwks.KeySet(ctx)
		if ksErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		opts[0] = jwt.WithKeySet(keySet)
		token, err = jwt.Parse([]byte(rawToken), opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	}

	sub := token.Subject()
	if sub == "" {
		return nil, ErrMissingSubject
	}

	claims := &Claims{Sub: sub}
	if email, ok := token.Get("email"); ok {
		if s, ok := email.(string); ok {
			claims.Email = s
		}
	}
	if name, ok := token.Get("name"); ok {
		if s, ok := name.(string); ok {
			claims.Name = s
		}
	}
	return claims, nil
}
