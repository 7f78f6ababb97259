// Package oauth implements the admission OAuth2 check: bearer-token
// extraction and introspection against a configured authorization
// server, with a TTL cache so every request doesn't round-trip to the
// introspection endpoint.
package oauth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/edgeworks/apigw/internal/clock"
	gwerrors "github.com/edgeworks/apigw/internal/errors"
)

// Identity is what a successful Authenticate call resolves to.
type Identity struct {
	ClientID string
	Claims   map[string]interface{}
}

type cacheEntry struct {
	identity  *Identity
	expiresAt time.Time
}

// Config configures an Authenticator.
type Config struct {
	IntrospectionURL string
	ClientID         string
	ClientSecret     string
	Issuer           string
	Audience         string
	Scopes           []string
	CacheTTL         time.Duration
	Clock            clock.Clock
	HTTPClient       *http.Client
}

// Authenticator verifies bearer tokens via RFC 7662 introspection,
// caching the result for CacheTTL.
type Authenticator struct {
	introspectionURL string
	clientID         string
	clientSecret     string
	issuer           string
	audience         string
	scopes           []string
	cacheTTL         time.Duration
	clock            clock.Clock
	client           *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// New builds an Authenticator.
func New(cfg Config) *Authenticator {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := cfg.Clock
	if c == nil {
		c = clock.Default
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Authenticator{
		introspectionURL: cfg.IntrospectionURL,
		clientID:         cfg.ClientID,
		clientSecret:     cfg.ClientSecret,
		issuer:           cfg.Issuer,
		audience:         cfg.Audience,
		scopes:           cfg.Scopes,
		cacheTTL:         ttl,
		clock:            c,
		client:           httpClient,
		cache:            make(map[string]cacheEntry),
	}
}

// Authenticate extracts the bearer token and verifies it, using the
// cache when possible.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	token := extractBearerToken(r)
	if token == "" {
		return nil, gwerrors.AuthenticationFailure("bearer token not provided")
	}

	if id, ok := a.cached(token); ok {
		return id, nil
	}

	id, err := a.introspect(token)
	if err != nil {
		return nil, err
	}
	a.setCached(token, id)
	return id, nil
}

func (a *Authenticator) introspect(token string) (*Identity, error) {
	form := url.Values{}
	form.Set("token", token)

	req, err := http.NewRequest(http.MethodPost, a.introspectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, gwerrors.InternalFailure(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if a.clientID != "" && a.clientSecret != "" {
		req.SetBasicAuth(a.clientID, a.clientSecret)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, gwerrors.UpstreamFailure(err, "oauth-introspection")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.InternalFailure(err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, gwerrors.AuthenticationFailure("invalid introspection response")
	}

	if active, _ := result["active"].(bool); !active {
		return nil, gwerrors.AuthenticationFailure("token is not active")
	}
	if a.issuer != "" {
		if iss, ok := result["iss"].(string); !ok || iss != a.issuer {
			return nil, gwerrors.AuthenticationFailure("invalid token issuer")
		}
	}
	if a.audience != "" {
		if aud, ok := result["aud"].(string); !ok || aud != a.audience {
			return nil, gwerrors.AuthenticationFailure("invalid token audience")
		}
	}
	if len(a.scopes) > 0 {
		scopeStr, _ := result["scope"].(string)
		if !hasAllScopes(strings.Fields(scopeStr), a.scopes) {
			return nil, gwerrors.AuthorizationFailure("insufficient oauth scopes")
		}
	}

	clientID := ""
	if sub, ok := result["sub"].(string); ok {
		clientID = sub
	} else if cid, ok := result["client_id"].(string); ok {
		clientID = cid
	}

	return &Identity{ClientID: clientID, Claims: result}, nil
}

func (a *Authenticator) cached(token string) (*Identity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.cache[token]
	if !ok || !a.clock.Now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.identity, true
}

func (a *Authenticator) setCached(token string, id *Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[token] = cacheEntry{identity: id, expiresAt: a.clock.Now().Add(a.cacheTTL)}
	if len(a.cache) > 10000 {
		a.cache = make(map[string]cacheEntry)
	}
}

// CleanupCache removes expired cache entries.
func (a *Authenticator) CleanupCache() {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.clock.Now()
	for token, entry := range a.cache {
		if !now.Before(entry.expiresAt) {
			delete(a.cache, token)
		}
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func hasAllScopes(have, want []string) bool {
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
