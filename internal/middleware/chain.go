package middleware

import "net/http"

// Middleware wraps an http.Handler with cross-cutting behavior that
// runs on every request regardless of which route matched — request
// id assignment, panic recovery, access logging. This sits in front of
// the gateway engine (§4.9's "process-wide middleware chain" step),
// not inside a route's own plugin pipeline; per-route behavior belongs
// to internal/pipeline instead.
type Middleware func(http.Handler) http.Handler

// Chain composes a fixed, ordered list of Middleware around a final
// handler. cmd/gateway/main.go builds exactly one of these (request id
// → recovery → access log) around the live engine; the type stays this
// small because nothing in this gateway needs conditional middleware,
// chain splicing, or a separate builder type layered on top of it.
type Chain struct {
	middlewares []Middleware
}

// New creates a Chain from an ordered list of middlewares.
func New(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use appends a middleware to the chain and returns the chain for
// fluent construction.
func (c *Chain) Use(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps h with every middleware in the chain, outermost first.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.DefaultServeMux
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}
