package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"

	"github.com/edgeworks/apigw/internal/health"
	"github.com/expr-lang/expr"
)

// Validate checks a fully-parsed Config for structural and
// cross-reference errors: unique ids, compilable patterns, and
// references between routes and upstreams.
func Validate(cfg *Config) error {
	upstreamIDs := make(map[string]bool, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		if u.ID == "" {
			return fmt.Errorf("upstream %d: id is required", i)
		}
		if upstreamIDs[u.ID] {
			return fmt.Errorf("duplicate upstream id: %s", u.ID)
		}
		upstreamIDs[u.ID] = true

		if err := validateUpstream(u); err != nil {
			return fmt.Errorf("upstream %s: %w", u.ID, err)
		}
	}

	routeIDs := make(map[string]bool, len(cfg.Routes))
	for i, r := range cfg.Routes {
		if r.ID == "" {
			return fmt.Errorf("route %d: id is required", i)
		}
		if routeIDs[r.ID] {
			return fmt.Errorf("duplicate route id: %s", r.ID)
		}
		routeIDs[r.ID] = true

		if err := validateRoute(r, upstreamIDs); err != nil {
			return fmt.Errorf("route %s: %w", r.ID, err)
		}
	}

	return nil
}

func validateUpstream(u UpstreamConfig) error {
	if u.Retries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	if len(u.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}

	targetIDs := make(map[string]bool, len(u.Targets))
	for i, t := range u.Targets {
		if t.ID == "" {
			return fmt.Errorf("target %d: id is required", i)
		}
		if targetIDs[t.ID] {
			return fmt.Errorf("duplicate target id: %s", t.ID)
		}
		targetIDs[t.ID] = true

		if t.URL == "" {
			return fmt.Errorf("target %s: url is required", t.ID)
		}
		if _, err := url.Parse(t.URL); err != nil {
			return fmt.Errorf("target %s: invalid url: %w", t.ID, err)
		}
		if t.Weight < 0 {
			return fmt.Errorf("target %s: weight must be >= 0", t.ID)
		}
	}

	if u.LBPolicy != "" && !validLBPolicies[u.LBPolicy] {
		return fmt.Errorf("invalid lb_policy: %s", u.LBPolicy)
	}

	if u.HealthCheck != nil && u.HealthCheck.Enabled {
		hc := u.HealthCheck
		if !validHealthCheckTypes[hc.Type] {
			return fmt.Errorf("health_check: invalid type: %s", hc.Type)
		}
		if hc.HealthyThreshold < 1 {
			return fmt.Errorf("health_check: healthy_threshold must be >= 1")
		}
		if hc.UnhealthyThreshold < 1 {
			return fmt.Errorf("health_check: unhealthy_threshold must be >= 1")
		}
		for _, rng := range hc.ExpectedStatus {
			if _, err := health.ParseStatusRange(rng); err != nil {
				return fmt.Errorf("health_check: %w", err)
			}
		}
	}

	if u.CircuitBreaker != nil && u.CircuitBreaker.Enabled {
		cb := u.CircuitBreaker
		if cb.VolumeThreshold < 0 {
			return fmt.Errorf("circuit_breaker: volume_threshold must be >= 0")
		}
		if cb.FailureThresholdFrac < 0 || cb.FailureThresholdFrac > 1 {
			return fmt.Errorf("circuit_breaker: failure_threshold_frac must be in [0,1]")
		}
		if cb.SuccessThreshold < 1 {
			return fmt.Errorf("circuit_breaker: success_threshold must be >= 1")
		}
	}

	return nil
}

func validateRoute(r RouteConfig, upstreamIDs map[string]bool) error {
	if len(r.Paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	if len(r.Methods) == 0 {
		return fmt.Errorf("at least one method is required")
	}
	for _, m := range r.Methods {
		if !validHTTPMethods[m] {
			return fmt.Errorf("invalid method: %s", m)
		}
	}

	matchMode := r.MatchMode
	if matchMode == "" {
		matchMode = "exact"
	}
	if !validMatchModes[matchMode] {
		return fmt.Errorf("invalid match_mode: %s", matchMode)
	}
	if matchMode == "regex" {
		for _, p := range r.Paths {
			if _, err := regexp.Compile(p); err != nil {
				return fmt.Errorf("invalid regex path %q: %w", p, err)
			}
		}
	}

	if r.UpstreamID == "" {
		return fmt.Errorf("upstream_id is required")
	}
	if !upstreamIDs[r.UpstreamID] {
		return fmt.Errorf("references unknown upstream_id: %s", r.UpstreamID)
	}

	for i, p := range r.Plugins {
		switch p.Phase {
		case "pre-route", "route", "post-route", "error":
		default:
			return fmt.Errorf("plugin %d: invalid phase: %s", i, p.Phase)
		}
		if p.Name == "" {
			return fmt.Errorf("plugin %d: name is required", i)
		}
	}

	if r.IPFilter != nil && r.IPFilter.Enabled {
		if r.IPFilter.Mode != "whitelist" && r.IPFilter.Mode != "blacklist" {
			return fmt.Errorf("ip_filter: mode must be whitelist or blacklist")
		}
		for _, c := range r.IPFilter.CIDRs {
			if ip := net.ParseIP(c); ip != nil {
				continue
			}
			if _, _, err := net.ParseCIDR(c); err != nil {
				return fmt.Errorf("ip_filter: invalid CIDR %q: %w", c, err)
			}
		}
	}

	if r.WAF != nil && r.WAF.Enabled {
		for family, action := range r.WAF.Families {
			if !validWAFActions[action] {
				return fmt.Errorf("waf: family %s: invalid action: %s", family, action)
			}
		}
		for _, ur := range r.WAF.UserRules {
			set := 0
			if ur.Literal != "" {
				set++
			}
			if ur.Regex != "" {
				set++
			}
			if ur.Expr != "" {
				set++
			}
			if set != 1 {
				return fmt.Errorf("waf: user rule %s: exactly one of literal/regex/expr must be set", ur.ID)
			}
			if ur.Regex != "" {
				if _, err := regexp.Compile(ur.Regex); err != nil {
					return fmt.Errorf("waf: user rule %s: invalid regex: %w", ur.ID, err)
				}
			}
			if ur.Expr != "" {
				if _, err := expr.Compile(ur.Expr); err != nil {
					return fmt.Errorf("waf: user rule %s: invalid expr: %w", ur.ID, err)
				}
			}
			if !validWAFActions[ur.Action] {
				return fmt.Errorf("waf: user rule %s: invalid action: %s", ur.ID, ur.Action)
			}
		}
	}

	if r.JWT != nil && r.JWT.Enabled {
		if r.JWT.Secret == "" && r.JWT.PublicKeyPEM == "" && r.JWT.JWKSURL == "" {
			return fmt.Errorf("jwt: one of secret, public_key_pem, or jwks_url is required")
		}
	}

	if r.OAuth != nil && r.OAuth.Enabled {
		if r.OAuth.IntrospectionURL == "" {
			return fmt.Errorf("oauth: introspection_url is required")
		}
	}

	for _, rl := range r.RateLimit {
		if !validAlgorithms[rl.Algorithm] {
			return fmt.Errorf("rate_limit %s: invalid algorithm: %s", rl.ID, rl.Algorithm)
		}
		if !validScopes[rl.Scope] {
			return fmt.Errorf("rate_limit %s: invalid scope: %s", rl.ID, rl.Scope)
		}
	}

	if r.Cache != nil && r.Cache.Enabled {
		if r.Cache.Policy != "" && !validCachePolicies[r.Cache.Policy] {
			return fmt.Errorf("cache: invalid policy: %s", r.Cache.Policy)
		}
		if r.Cache.MaxSizeBytes < 0 {
			return fmt.Errorf("cache: max_size_bytes must be >= 0")
		}
		for _, m := range r.Cache.Methods {
			if !validHTTPMethods[m] {
				return fmt.Errorf("cache: invalid method: %s", m)
			}
		}
	}

	if r.CORS != nil {
		for _, pattern := range r.CORS.AllowOriginPatterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("cors: invalid allow_origin_patterns entry %q: %w", pattern, err)
			}
		}
	}

	return nil
}
