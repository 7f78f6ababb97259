// Package jwtauth implements the admission JWT check: extraction from
// Authorization: Bearer, a query parameter, or a cookie; signature
// verification under HS*/RS*/ES*; issuer, audience, and clock
// tolerance checks; and scope enforcement.
package jwtauth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	gwerrors "github.com/edgeworks/apigw/internal/errors"
	"github.com/golang-jwt/jwt/v5"
)

// Identity is what a successful Verify call resolves to.
type Identity struct {
	Subject string
	Claims  jwt.MapClaims
	Scopes  []string
}

// KeyProvider resolves the verification key for a token, given its
// parsed (but not yet verified) header. JWKSKeyProvider.KeyFunc
// returns one backed by the jwx resolver; any static single-key func
// of this shape works as well.
type KeyProvider func(token *jwt.Token) (interface{}, error)

// Config configures a Verifier. Exactly one key-material source
// should be set for the chosen Algorithm family: Secret for HS*,
// PublicKeyPEM for RS*/ES* with a fixed key, or KeyFunc for a
// JWKS-backed or otherwise dynamic resolver.
type Config struct {
	Algorithm       string // HS256/HS384/HS512, RS256/RS384/RS512, ES256/ES384/ES512
	Secret          string
	PublicKeyPEM    string
	KeyFunc         KeyProvider
	Issuer          string
	Audience        []string
	ClockTolerance  time.Duration
	ExtraQueryParam string // defaults to "token"
	CookieName      string // defaults to "jwt"
}

// Verifier verifies bearer tokens under a fixed algorithm and key
// source.
type Verifier struct {
	algorithm      string
	keyFunc        jwt.Keyfunc
	issuer         string
	audience       []string
	clockTolerance time.Duration
	queryParam     string
	cookieName     string
}

// New builds a Verifier from cfg.
func New(cfg Config) (*Verifier, error) {
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = "HS256"
	}
	queryParam := cfg.ExtraQueryParam
	if queryParam == "" {
		queryParam = "token"
	}
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "jwt"
	}

	v := &Verifier{
		algorithm:      algorithm,
		issuer:         cfg.Issuer,
		audience:       cfg.Audience,
		clockTolerance: cfg.ClockTolerance,
		queryParam:     queryParam,
		cookieName:     cookieName,
	}

	switch {
	case cfg.KeyFunc != nil:
		v.keyFunc = jwt.Keyfunc(cfg.KeyFunc)
	case strings.HasPrefix(algorithm, "HS"):
		secret := []byte(cfg.Secret)
		v.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return secret, nil
		}
	case strings.HasPrefix(algorithm, "RS"):
		pub, err := parseRSAPublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		v.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return pub, nil
		}
	case strings.HasPrefix(algorithm, "ES"):
		pub, err := parseECPublicKey(cfg.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		v.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return pub, nil
		}
	default:
		return nil, fmt.Errorf("jwtauth: unsupported algorithm %q", algorithm)
	}

	return v, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("jwtauth: failed to parse PEM block containing RSA public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: failed to parse RSA public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwtauth: key is not an RSA public key")
	}
	return rsaPub, nil
}

func parseECPublicKey(pemStr string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("jwtauth: failed to parse PEM block containing EC public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtauth: failed to parse EC public key: %w", err)
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("jwtauth: key is not an EC public key")
	}
	return ecPub, nil
}

// Extract pulls the raw token from Authorization: Bearer, the query
// parameter, or the cookie, in that order.
func (v *Verifier) Extract(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if tok := r.URL.Query().Get(v.queryParam); tok != "" {
		return tok
	}
	if c, err := r.Cookie(v.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// Verify extracts and verifies the request's token, requiring every
// scope in requiredScopes to be present in the token's "scope" (space
// delimited) or "scopes" ([]interface{}) claim.
func (v *Verifier) Verify(r *http.Request, requiredScopes []string) (*Identity, error) {
	raw := v.Extract(r)
	if raw == "" {
		return nil, gwerrors.AuthenticationFailure("bearer token not provided")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods(validMethodsFor(v.algorithm))}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if len(v.audience) > 0 {
		for _, aud := range v.audience {
			opts = append(opts, jwt.WithAudience(aud))
		}
	}
	if v.clockTolerance > 0 {
		opts = append(opts, jwt.WithLeeway(v.clockTolerance))
	}

	token, err := jwt.Parse(raw, v.keyFunc, opts...)
	if err != nil {
		return nil, gwerrors.AuthenticationFailure("invalid token: " + err.Error())
	}
	if !token.Valid {
		return nil, gwerrors.AuthenticationFailure("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, gwerrors.AuthenticationFailure("invalid token claims")
	}

	sub, _ := claims.GetSubject()
	scopes := scopesFromClaims(claims)
	if !hasAllScopes(scopes, requiredScopes) {
		return nil, gwerrors.AuthorizationFailure("token missing required scope")
	}

	return &Identity{Subject: sub, Claims: claims, Scopes: scopes}, nil
}

func validMethodsFor(algorithm string) []string {
	switch {
	case strings.HasPrefix(algorithm, "HS"):
		return []string{"HS256", "HS384", "HS512"}
	case strings.HasPrefix(algorithm, "RS"):
		return []string{"RS256", "RS384", "RS512"}
	case strings.HasPrefix(algorithm, "ES"):
		return []string{"ES256", "ES384", "ES512"}
	default:
		return []string{algorithm}
	}
}

func scopesFromClaims(claims jwt.MapClaims) []string {
	if raw, ok := claims["scope"].(string); ok && raw != "" {
		return strings.Fields(raw)
	}
	if raw, ok := claims["scopes"].([]interface{}); ok {
		scopes := make([]string, 0, len(raw))
		for _, s := range raw {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	}
	return nil
}

func hasAllScopes(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}
