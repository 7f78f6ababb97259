package jwtauth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSKeyProvider resolves RS*/ES* verification keys from a JSON Web
// Key Set that is fetched once and refreshed in the background, keyed
// by the token's "kid" header.
type JWKSKeyProvider struct {
	cache *jwk.Cache
	url   string
}

// NewJWKSKeyProvider registers jwksURL with a refreshing cache and
// performs an initial fetch to fail fast on a bad URL.
func NewJWKSKeyProvider(jwksURL string, refreshInterval time.Duration) (*JWKSKeyProvider, error) {
	if refreshInterval <= 0 {
		refreshInterval = time.Hour
	}

	ctx := context.Background()
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("jwtauth: failed to register jwks url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("jwtauth: failed to fetch jwks from %s: %w", jwksURL, err)
	}

	return &JWKSKeyProvider{cache: cache, url: jwksURL}, nil
}

// KeyFunc adapts the provider to the KeyProvider shape Config.KeyFunc
// expects.
func (p *JWKSKeyProvider) KeyFunc() KeyProvider {
	return func(token *jwt.Token) (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		keySet, err := p.cache.Get(ctx, p.url)
		if err != nil {
			return nil, fmt.Errorf("jwtauth: failed to get jwks: %w", err)
		}

		kid, _ := token.Header["kid"].(string)
		var key jwk.Key
		var found bool
		if kid != "" {
			key, found = keySet.LookupKeyID(kid)
		} else if keySet.Len() > 0 {
			key, found = keySet.Key(0)
		}
		if !found {
			return nil, fmt.Errorf("jwtauth: key %q not found in jwks", kid)
		}

		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("jwtauth: failed to extract raw key for kid %q: %w", kid, err)
		}
		return raw, nil
	}
}
