// Package apikey implements the admission API key check: extraction
// from the Authorization header, a custom header, or a query
// parameter, and lookup of the SHA-256 hash of the presented key
// against a registered set, rejecting disabled, expired, or
// scope-insufficient keys.
package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
	gwerrors "github.com/edgeworks/apigw/internal/errors"
)

// Key is one registered API key's metadata, looked up by the SHA-256
// hash of the raw key value. The raw value itself is never stored.
type Key struct {
	ClientID  string
	Scopes    []string
	Disabled  bool
	ExpiresAt time.Time // zero means no expiry
}

// Hash returns the lookup hash for a raw API key.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Store is a thread-safe registry of key hashes to metadata.
type Store struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{keys: make(map[string]Key)}
}

// Register adds or replaces the metadata for rawKey.
func (s *Store) Register(rawKey string, meta Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[Hash(rawKey)] = meta
}

// Revoke removes rawKey from the store entirely.
func (s *Store) Revoke(rawKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, Hash(rawKey))
}

func (s *Store) lookup(hash string) (Key, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[hash]
	return k, ok
}

// Identity is what a successful Authenticate call resolves to.
type Identity struct {
	ClientID string
	Scopes   []string
}

// Config configures an Authenticator. Header and QueryParam default to
// "X-API-Key" and "api_key" respectively; both extraction points and
// the Authorization bearer form are always tried.
type Config struct {
	Store      *Store
	Header     string
	QueryParam string
	Clock      clock.Clock
}

// Authenticator extracts and verifies API keys against a Store.
type Authenticator struct {
	store      *Store
	header     string
	queryParam string
	clock      clock.Clock
}

// New builds an Authenticator.
func New(cfg Config) *Authenticator {
	header := cfg.Header
	if header == "" {
		header = "X-API-Key"
	}
	queryParam := cfg.QueryParam
	if queryParam == "" {
		queryParam = "api_key"
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	return &Authenticator{store: cfg.Store, header: header, queryParam: queryParam, clock: c}
}

// Extract pulls the raw key from Authorization: Bearer, the configured
// header, or the configured query parameter, in that order.
func (a *Authenticator) Extract(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if a.header != "" {
		if v := r.Header.Get(a.header); v != "" {
			return v
		}
	}
	if a.queryParam != "" {
		if v := r.URL.Query().Get(a.queryParam); v != "" {
			return v
		}
	}
	return ""
}

// Authenticate extracts and verifies the request's API key, requiring
// every scope in requiredScopes to be present on the key.
func (a *Authenticator) Authenticate(r *http.Request, requiredScopes []string) (*Identity, error) {
	raw := a.Extract(r)
	if raw == "" {
		return nil, gwerrors.AuthenticationFailure("api key not provided")
	}

	key, ok := a.store.lookup(Hash(raw))
	if !ok {
		return nil, gwerrors.AuthenticationFailure("unknown api key")
	}
	if key.Disabled {
		return nil, gwerrors.AuthenticationFailure("api key disabled")
	}
	if !key.ExpiresAt.IsZero() && !a.clock.Now().Before(key.ExpiresAt) {
		return nil, gwerrors.AuthenticationFailure("api key expired")
	}
	if !hasAllScopes(key.Scopes, requiredScopes) {
		return nil, gwerrors.AuthorizationFailure("api key missing required scope")
	}

	return &Identity{ClientID: key.ClientID, Scopes: key.Scopes}, nil
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
