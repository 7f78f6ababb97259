// Package transport implements the single "send to target" contract
// the gateway engine dispatches every upstream request through:
// hop-by-hop header stripping, forwarding-header injection, and a
// per-upstream pooled *http.Client, grounded on the teacher's
// TransportPool (internal/proxy/transport.go) but reduced to the
// plain TCP/TLS case the request-plane core needs — no HTTP/3, no
// SSRF dialer wrapping, no per-host override map.
package transport

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config is one upstream's dispatch timeout budget.
type Config struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration // response-header wait
	ReadTimeout    time.Duration // idle-conn reuse window
	OverallTimeout time.Duration // per-attempt deadline the caller enforces via context
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 90 * time.Second
	}
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = 30 * time.Second
	}
	return c
}

// OverallTimeoutOrDefault exposes the resolved per-attempt deadline so the
// dispatch loop can derive a context without reaching into Config.
func (c Config) OverallTimeoutOrDefault() time.Duration {
	return c.withDefaults().OverallTimeout
}

func newTransport(cfg Config) *http.Transport {
	cfg = cfg.withDefaults()
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       cfg.ReadTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.SendTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Pool owns one *http.Client per upstream so each upstream's timeout
// and connection-pooling budget is isolated from every other
// upstream's, grounded on the teacher's named-transport map.
type Pool struct {
	clients  map[string]*http.Client
	fallback *http.Client
}

// NewPool returns a Pool whose fallback client uses default timeouts;
// Register narrows per-upstream behavior.
func NewPool() *Pool {
	return &Pool{
		clients:  make(map[string]*http.Client),
		fallback: &http.Client{Transport: newTransport(Config{})},
	}
}

// Register builds (or replaces) the client used for upstreamID.
func (p *Pool) Register(upstreamID string, cfg Config) {
	p.clients[upstreamID] = &http.Client{Transport: newTransport(cfg)}
}

// Get returns the client registered for upstreamID, or the fallback
// client if none was registered.
func (p *Pool) Get(upstreamID string) *http.Client {
	if c, ok := p.clients[upstreamID]; ok {
		return c
	}
	return p.fallback
}

// hopHeaders are stripped from both the outbound request and the
// returned response, per the wire protocol's forwarding contract.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// StripHopHeaders removes hop-by-hop headers from h in place; exported
// so the engine can apply it to the response it relays to the client.
func StripHopHeaders(h http.Header) { removeHopHeaders(h) }

// BuildRequest constructs the outbound request to target, copying r's
// method/body/headers, stripping hop-by-hop headers, and injecting
// the forwarding headers the wire protocol names: X-Request-Id,
// X-Forwarded-For (appended), X-Real-IP (set if missing),
// X-Forwarded-Proto, X-Forwarded-Host.
func BuildRequest(r *http.Request, target *url.URL, requestID string) *http.Request {
	dst := *target
	dst.Path = singleJoiningSlash(target.Path, r.URL.Path)
	dst.RawQuery = r.URL.RawQuery

	out := r.Clone(r.Context())
	out.URL = &dst
	out.Host = target.Host
	out.RequestURI = ""
	out.Header = r.Header.Clone()

	clientIP := ClientIP(r)
	if clientIP != "" {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			out.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			out.Header.Set("X-Forwarded-For", clientIP)
		}
		if out.Header.Get("X-Real-IP") == "" {
			out.Header.Set("X-Real-IP", clientIP)
		}
	}

	if r.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", r.Host)
	if requestID != "" {
		out.Header.Set("X-Request-Id", requestID)
	}

	removeHopHeaders(out.Header)
	return out
}

// ClientIP extracts the originating address from a request's
// RemoteAddr, falling back to the raw value if it carries no port.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
