package gateway

import (
	"github.com/edgeworks/apigw/internal/admission/apikey"
	"github.com/edgeworks/apigw/internal/admission/ipfilter"
	"github.com/edgeworks/apigw/internal/admission/jwtauth"
	"github.com/edgeworks/apigw/internal/admission/oauth"
	"github.com/edgeworks/apigw/internal/admission/waf"
	"github.com/edgeworks/apigw/internal/cache"
	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/config"
	"github.com/edgeworks/apigw/internal/cors"
	"github.com/edgeworks/apigw/internal/pipeline"
	"github.com/edgeworks/apigw/internal/ratelimit"
	"github.com/edgeworks/apigw/internal/router"
)

// routeLimiter binds one configured rate-limit rule to its compiled
// Limiter, keeping the scope alongside it so the dispatch path can
// build the right key without re-parsing the rule.
type routeLimiter struct {
	rule    ratelimit.Rule
	scope   ratelimit.Scope
	limiter ratelimit.Limiter
}

// routeRuntime is everything a route needs beyond the bare matching
// shape carried on router.Route: its compiled admission checks, rate
// limiters, cache, CORS handler, and plugin pipeline. Kept in a
// parallel registry.Manager keyed by route id rather than on
// router.Route itself, so swapping the route table never has to
// reconstruct these relatively expensive compiled objects.
type routeRuntime struct {
	cfg config.RouteConfig

	ipFilter    *ipfilter.Filter
	waf         *waf.WAF
	apiKeyAuth  *apikey.Authenticator
	jwtVerifier *jwtauth.Verifier
	oauthAuth   *oauth.Authenticator

	rateLimiters []routeLimiter
	cache        *cache.Cache
	cacheCfg     config.CacheConfig
	cors         *cors.Handler

	pipeline *pipeline.Pipeline
}

// buildRoute compiles one route's config into its matching shape
// (router.Route) and its runtime admission/cache/pipeline state.
func buildRoute(rc config.RouteConfig, plugins *pipeline.Registry, keys *apikey.Store, c clock.Clock) (*router.Route, *routeRuntime, error) {
	methods := map[string]bool{}
	for _, m := range rc.Methods {
		methods[m] = true
	}

	descriptors := make([]pipeline.Descriptor, 0, len(rc.Plugins))
	for _, p := range rc.Plugins {
		descriptors = append(descriptors, pipeline.Descriptor{
			Name:     p.Name,
			Phase:    pipeline.Phase(p.Phase),
			Priority: p.Priority,
			Enabled:  p.Enabled,
		})
	}

	rt := &router.Route{
		ID:         rc.ID,
		Name:       rc.Name,
		Methods:    methods,
		Paths:      rc.Paths,
		Mode:       router.MatchMode(rc.MatchMode),
		UpstreamID: rc.UpstreamID,
		Plugins:    descriptors,
		Enabled:    rc.Enabled,
	}

	rr := &routeRuntime{
		cfg:      rc,
		cacheCfg: config.CacheConfig{},
		pipeline: pipeline.Build(descriptors, plugins),
	}

	if rc.IPFilter != nil && rc.IPFilter.Enabled {
		f, err := ipfilter.New(ipfilter.Mode(rc.IPFilter.Mode), rc.IPFilter.CIDRs)
		if err != nil {
			return nil, nil, err
		}
		rr.ipFilter = f
	}

	if rc.WAF != nil && rc.WAF.Enabled {
		families := make(map[waf.Family]waf.Action, len(rc.WAF.Families))
		for f, a := range rc.WAF.Families {
			families[waf.Family(f)] = waf.Action(a)
		}
		userRules := make([]waf.UserRule, 0, len(rc.WAF.UserRules))
		for _, ur := range rc.WAF.UserRules {
			userRules = append(userRules, waf.UserRule{
				ID:      ur.ID,
				Literal: ur.Literal,
				Regex:   ur.Regex,
				Expr:    ur.Expr,
				Action:  waf.Action(ur.Action),
			})
		}
		w, err := waf.New(waf.Config{Families: families, UserRules: userRules})
		if err != nil {
			return nil, nil, err
		}
		rr.waf = w
	}

	if rc.APIKey != nil && rc.APIKey.Enabled {
		rr.apiKeyAuth = apikey.New(apikey.Config{
			Store:      keys,
			Header:     rc.APIKey.Header,
			QueryParam: rc.APIKey.QueryParam,
			Clock:      c,
		})
	}

	if rc.JWT != nil && rc.JWT.Enabled {
		cfg := jwtauth.Config{
			Algorithm:       rc.JWT.Algorithm,
			Secret:          rc.JWT.Secret,
			PublicKeyPEM:    rc.JWT.PublicKeyPEM,
			Issuer:          rc.JWT.Issuer,
			Audience:        rc.JWT.Audience,
			ClockTolerance:  rc.JWT.ClockTolerance,
			ExtraQueryParam: rc.JWT.ExtraQueryParam,
			CookieName:      rc.JWT.CookieName,
		}
		if rc.JWT.JWKSURL != "" {
			provider, err := jwtauth.NewJWKSKeyProvider(rc.JWT.JWKSURL, rc.JWT.JWKSRefresh)
			if err != nil {
				return nil, nil, err
			}
			cfg.KeyFunc = provider.KeyFunc()
		}
		v, err := jwtauth.New(cfg)
		if err != nil {
			return nil, nil, err
		}
		rr.jwtVerifier = v
	}

	if rc.OAuth != nil && rc.OAuth.Enabled {
		rr.oauthAuth = oauth.New(oauth.Config{
			IntrospectionURL: rc.OAuth.IntrospectionURL,
			ClientID:         rc.OAuth.ClientID,
			ClientSecret:     rc.OAuth.ClientSecret,
			Issuer:           rc.OAuth.Issuer,
			Audience:         rc.OAuth.Audience,
			Scopes:           rc.OAuth.Scopes,
			CacheTTL:         rc.OAuth.CacheTTL,
			Clock:            c,
		})
	}

	for _, rl := range rc.RateLimit {
		rule := ratelimit.Rule{
			ID:         rl.ID,
			Algorithm:  ratelimit.Algorithm(rl.Algorithm),
			Scope:      ratelimit.Scope(rl.Scope),
			Capacity:   rl.Capacity,
			RefillRate: rl.RefillRate,
			Burst:      rl.Burst,
			Limit:      rl.Limit,
			Window:     rl.Window,
		}
		limiter := ratelimit.New(rule, c)
		rr.rateLimiters = append(rr.rateLimiters, routeLimiter{rule: rule, scope: rule.Scope, limiter: limiter})
	}

	if rc.Cache != nil && rc.Cache.Enabled {
		rr.cacheCfg = *rc.Cache
		rr.cache = cache.New(cache.Config{
			MaxSizeBytes: rc.Cache.MaxSizeBytes,
			Policy:       cache.EvictionPolicy(rc.Cache.Policy),
			Clock:        c,
		})
	}

	if rc.CORS != nil && rc.CORS.Enabled {
		h, err := cors.New(cors.Config{
			Enabled:             rc.CORS.Enabled,
			AllowOrigins:        rc.CORS.AllowOrigins,
			AllowOriginPatterns: rc.CORS.AllowOriginPatterns,
			AllowMethods:        rc.CORS.AllowMethods,
			AllowHeaders:        rc.CORS.AllowHeaders,
			ExposeHeaders:       rc.CORS.ExposeHeaders,
			AllowCredentials:    rc.CORS.AllowCredentials,
			AllowPrivateNetwork: rc.CORS.AllowPrivateNetwork,
			MaxAge:              rc.CORS.MaxAge,
		})
		if err != nil {
			return nil, nil, err
		}
		rr.cors = h
	}

	return rt, rr, nil
}

// cacheEligibleMethod and cacheEligibleStatus report whether
// method/status are cacheable under the route's configured cache
// policy; an empty method list means GET and HEAD, an empty status
// list means any 2xx status.
func (rr *routeRuntime) cacheEligibleMethod(method string) bool {
	if len(rr.cacheCfg.Methods) == 0 {
		return method == "GET" || method == "HEAD"
	}
	for _, m := range rr.cacheCfg.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (rr *routeRuntime) cacheEligibleStatus(status int) bool {
	if len(rr.cacheCfg.StatusCodes) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range rr.cacheCfg.StatusCodes {
		if s == status {
			return true
		}
	}
	return false
}
