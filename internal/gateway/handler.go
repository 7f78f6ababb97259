package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/edgeworks/apigw/internal/admission/waf"
	"github.com/edgeworks/apigw/internal/aggregate"
	"github.com/edgeworks/apigw/internal/cache"
	gwerrors "github.com/edgeworks/apigw/internal/errors"
	"github.com/edgeworks/apigw/internal/logging"
	"github.com/edgeworks/apigw/internal/middleware"
	"github.com/edgeworks/apigw/internal/pipeline"
	"github.com/edgeworks/apigw/internal/ratelimit"
	"github.com/edgeworks/apigw/internal/router"
	"github.com/edgeworks/apigw/internal/sanitize"
	"github.com/edgeworks/apigw/internal/transport"
	"go.uber.org/zap"
)

// ServeHTTP is the gateway's single entry point: sanitize → resolve
// route → admission chain → plugin pipeline (pre-route → route/
// dispatch → post-route) → response, with every non-2xx outcome
// funneled through the same GatewayError → wire-JSON path. The engine
// is mounted as the innermost handler of a caller-built middleware
// chain (request id, recovery, access log) — it owns no listener.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := e.clock.Now()
	requestID := middleware.GetRequestID(r)
	if requestID == "" {
		requestID = r.Header.Get("X-Request-Id")
	}

	r.URL.Path = sanitize.Path(r.URL.Path)
	r.Header = sanitize.Headers(r.Header)

	match, err := e.table.Resolve(r.Method, r.URL.Path)
	if err != nil {
		e.writeError(w, r, nil, requestID, err)
		return
	}
	route := match.Route
	if !route.Enabled {
		e.writeError(w, r, route, requestID, gwerrors.RouteDisabled(route.ID))
		return
	}
	rr, ok := e.routes.Get(route.ID)
	if !ok {
		e.writeError(w, r, route, requestID, gwerrors.InternalFailure(nil).WithDetail("reason", "route runtime missing").WithDetail("route_id", route.ID))
		return
	}

	var bodyBytes []byte
	if r.Body != nil {
		bodyBytes, _ = io.ReadAll(io.LimitReader(r.Body, 10<<20))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	clientIP := transport.ClientIP(r)
	consumerID := clientIP

	pctx := pipeline.NewContext(&pipeline.Request{
		ID:         requestID,
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    map[string][]string(r.Header),
		Query:      map[string][]string(r.URL.Query()),
		Body:       bodyBytes,
		ClientAddr: clientIP,
	}, route.ID, consumerID)

	rec := aggregate.Record{RouteID: route.ID, ConsumerID: consumerID, Method: r.Method, Path: r.URL.Path, Arrival: start}

	resp, err := e.serveRoute(r.Context(), w, r, route, rr, pctx, match.Params, bodyBytes, requestID, &rec)
	rec.Status = resp
	rec.Duration = e.clock.Now().Sub(start)
	e.aggregator.Record(rec)
	e.metrics.RecordRequest(route.ID, r.Method, resp, rec.Duration)

	if err != nil {
		e.writeError(w, r, route, requestID, err)
	}
}

// serveRoute runs one matched route's admission chain, cache lookup,
// and plugin-gated dispatch. It writes the successful response itself
// (so streaming bodies never buffer twice) and returns the status
// code written, or an error for the caller to render instead.
func (e *Engine) serveRoute(ctx context.Context, w http.ResponseWriter, r *http.Request, route *router.Route, rr *routeRuntime, pctx *pipeline.Context, params map[string]string, body []byte, requestID string, rec *aggregate.Record) (int, error) {
	clientIP := pctx.Request.ClientAddr

	if rr.cors != nil && rr.cors.Enabled() {
		if rr.cors.IsPreflight(r) {
			rr.cors.HandlePreflight(w, r)
			return http.StatusNoContent, nil
		}
	}

	if rr.ipFilter != nil && !rr.ipFilter.AllowRequest(r, transport.ClientIP) {
		return 0, gwerrors.AuthorizationFailure("client ip is not permitted").WithDetail("ip", clientIP)
	}

	if rr.waf != nil {
		result, err := rr.waf.Inspect(r, body)
		if err != nil {
			return 0, gwerrors.InternalFailure(err)
		}
		if result.Action == waf.ActionBlock {
			ids := make([]string, 0, len(result.MatchedRules))
			for _, m := range result.MatchedRules {
				ids = append(ids, m.RuleID)
			}
			return 0, gwerrors.WAFBlocked(ids)
		}
	}

	if identity, err := e.authenticate(r, rr); err != nil {
		return 0, err
	} else if identity != "" {
		pctx.ConsumerID = identity
		rec.ConsumerID = identity
	}

	for _, rl := range rr.rateLimiters {
		discriminator := clientIP
		if rl.scope == ratelimit.ScopeConsumer {
			discriminator = pctx.ConsumerID
		} else if rl.scope == ratelimit.ScopeRoute {
			discriminator = route.ID
		} else if rl.scope == ratelimit.ScopeGlobal {
			discriminator = ""
		}
		key := ratelimit.BuildKey(rl.rule.ID, rl.scope, discriminator, "")
		result := rl.limiter.Consume(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rateLimitCapacity(rl.rule)))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.FormatFloat(result.RetryAfter.Seconds(), 'f', 0, 64))
			rec.RateLimited = true
			e.metrics.RecordRateLimitReject(route.ID)
			return 0, gwerrors.RateLimited(result.RetryAfter.Seconds())
		}
	}

	if resp, err := rr.pipeline.Run(ctx, pipeline.PhasePreRoute, pctx); err != nil {
		return 0, err
	} else if resp != nil {
		return e.writePluginResponse(w, rr, r, resp), nil
	}

	var fingerprint string
	cacheable := rr.cache != nil && rr.cacheEligibleMethod(r.Method)
	if cacheable {
		fingerprint = cache.Fingerprint(r.Method, r.URL.Path, r.URL.Query(), r, rr.cacheCfg.VaryHeaders)
		if entry, ok := rr.cache.Get(fingerprint); ok {
			rec.Cached = true
			e.metrics.RecordCacheHit(route.ID)
			return e.writeCachedResponse(w, rr, r, entry), nil
		}
		e.metrics.RecordCacheMiss(route.ID)
	}

	if resp, err := rr.pipeline.Run(ctx, pipeline.PhaseRoute, pctx); err != nil {
		return 0, err
	} else if resp != nil {
		return e.writePluginResponse(w, rr, r, resp), nil
	}

	result, err := e.dispatch(ctx, route.UpstreamID, r, requestID, lbKey(params, clientIP))
	if err != nil {
		rec.UpstreamID = route.UpstreamID
		return 0, err
	}
	rec.UpstreamID = route.UpstreamID
	defer result.resp.Body.Close()

	if resp, err := rr.pipeline.Run(ctx, pipeline.PhasePostRoute, pctx); err != nil {
		return 0, err
	} else if resp != nil {
		return e.writePluginResponse(w, rr, r, resp), nil
	}

	return e.relayResponse(w, rr, r, result.resp, cacheable, fingerprint)
}

// authenticate runs every admission auth check the route configures,
// returning the last resolved consumer identity. A route may combine
// mechanisms (e.g. API key for service callers, JWT for end users);
// each configured mechanism independently gates the request.
func (e *Engine) authenticate(r *http.Request, rr *routeRuntime) (string, error) {
	var identity string
	if rr.apiKeyAuth != nil {
		id, err := rr.apiKeyAuth.Authenticate(r, nil)
		if err != nil {
			return "", gwerrors.AuthenticationFailure(err.Error())
		}
		identity = id.ClientID
	}
	if rr.jwtVerifier != nil {
		id, err := rr.jwtVerifier.Verify(r, rr.cfg.JWT.RequiredScopes)
		if err != nil {
			return "", gwerrors.AuthenticationFailure(err.Error())
		}
		identity = id.Subject
	}
	if rr.oauthAuth != nil {
		id, err := rr.oauthAuth.Authenticate(r)
		if err != nil {
			return "", gwerrors.AuthenticationFailure(err.Error())
		}
		identity = id.ClientID
	}
	return identity, nil
}

// relayResponse copies the upstream response to w, applying CORS
// headers and populating the cache on a cacheable hit.
func (e *Engine) relayResponse(w http.ResponseWriter, rr *routeRuntime, r *http.Request, resp *http.Response, cacheable bool, fingerprint string) (int, error) {
	var buf *bytes.Buffer
	if cacheable && rr.cacheEligibleStatus(resp.StatusCode) {
		buf = &bytes.Buffer{}
	}

	header := w.Header()
	for k, vals := range resp.Header {
		for _, v := range vals {
			header.Add(k, v)
		}
	}
	if rr.cors != nil && rr.cors.Enabled() {
		rr.cors.ApplyHeaders(w, r)
	}
	w.WriteHeader(resp.StatusCode)

	var dst io.Writer = w
	if buf != nil {
		dst = io.MultiWriter(w, buf)
	}
	io.Copy(dst, resp.Body)

	if buf != nil {
		ttl := rr.cacheCfg.TTL
		rr.cache.Set(fingerprint, cache.Response{StatusCode: resp.StatusCode, Headers: cloneHeader(resp.Header), Body: buf.Bytes()}, buf.Len(), ttl)
	}

	return resp.StatusCode, nil
}

func (e *Engine) writeCachedResponse(w http.ResponseWriter, rr *routeRuntime, r *http.Request, entry *cache.Entry) int {
	header := w.Header()
	for k, vals := range entry.Response.Headers {
		for _, v := range vals {
			header.Add(k, v)
		}
	}
	if rr.cors != nil && rr.cors.Enabled() {
		rr.cors.ApplyHeaders(w, r)
	}
	w.WriteHeader(entry.Response.StatusCode)
	w.Write(entry.Response.Body)
	return entry.Response.StatusCode
}

func (e *Engine) writePluginResponse(w http.ResponseWriter, rr *routeRuntime, r *http.Request, resp *pipeline.Response) int {
	header := w.Header()
	for k, vals := range resp.Headers {
		for _, v := range vals {
			header.Add(k, v)
		}
	}
	if rr.cors != nil && rr.cors.Enabled() {
		rr.cors.ApplyHeaders(w, r)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	w.Write(resp.Body)
	return status
}

// writeError renders a GatewayError as the standard JSON envelope,
// first giving the matched route's error-phase plugins (if any) a
// chance to produce a different response. Route resolution for the
// error phase is best-effort: a request that failed before a route
// was even found has no plugin chain to run.
func (e *Engine) writeError(w http.ResponseWriter, r *http.Request, route *router.Route, requestID string, err error) {
	ge, ok := gwerrors.As(err)
	if !ok {
		ge = gwerrors.InternalFailure(err)
	}
	ge = ge.WithRequestID(requestID)

	logger := logging.ForRequest(requestID)
	if route != nil {
		logger = logger.With(logging.RouteField(route.ID))
	}
	if ge.Status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("code", ge.Code), zap.Int("status", ge.Status), zap.Error(ge.Unwrap()))
	} else {
		logger.Warn("request rejected", zap.String("code", ge.Code), zap.Int("status", ge.Status))
	}

	if route != nil {
		if rr, ok := e.routes.Get(route.ID); ok && rr.pipeline.HasPhase(pipeline.PhaseError) {
			pctx := pipeline.NewContext(&pipeline.Request{ID: requestID, Method: r.Method, Path: r.URL.Path}, route.ID, "")
			pctx.Err = ge
			if resp := rr.pipeline.RunError(r.Context(), pctx); resp != nil {
				e.writePluginResponse(w, rr, r, resp)
				return
			}
		}
	}
	ge.WriteJSON(w)
}

func cloneHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// lbKey is the routing key ip-hash and consistent-hash policies
// consult: a path param named "id" when the route declares one,
// otherwise the client IP.
func lbKey(params map[string]string, clientIP string) string {
	if params != nil {
		if id, ok := params["id"]; ok {
			return id
		}
	}
	return clientIP
}

// rateLimitCapacity reports the header-facing "limit" value for a
// rule regardless of which algorithm backs it.
func rateLimitCapacity(rule ratelimit.Rule) int {
	if rule.Capacity > 0 {
		return rule.Capacity
	}
	return rule.Limit
}
