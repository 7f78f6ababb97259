// Package config defines the declarative configuration surface: routes,
// upstreams, health checks, circuit-breaker thresholds, rate-limit
// rules, IP filters, WAF rules, JWT/OAuth, cache policy, CORS,
// admin toggle, worker count. Shape and merge/load/watch idiom are
// kept from the teacher's config package; the schema itself is
// redrawn around the request-plane's own entities instead of the
// teacher's registry-backed service-discovery model.
package config

import "time"

// Config is the top-level declarative configuration document.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	Admin     AdminConfig      `yaml:"admin"`
	Redis     *RedisConfig     `yaml:"redis,omitempty"`
	Upstreams []UpstreamConfig `yaml:"upstreams"`
	Routes    []RouteConfig    `yaml:"routes"`
}

// RedisConfig points at the optional distributed rate-limit backing
// store. Only consulted when a rate-limit rule sets remote: true.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// ServerConfig controls the listener the gateway engine binds.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	WorkerCount    int           `yaml:"worker_count"`
	TLS            *TLSConfig    `yaml:"tls,omitempty"`
}

// TLSConfig enables serving over HTTPS.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig configures the structured logger and its rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local_time"`
}

// AdminConfig gates the administrative API/UI.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// TargetConfig is one backend instance behind an upstream.
type TargetConfig struct {
	ID     string `yaml:"id"`
	URL    string `yaml:"url"`
	Weight int    `yaml:"weight"`
}

// HealthCheckConfig is an upstream's optional active health-check spec.
type HealthCheckConfig struct {
	Enabled               bool          `yaml:"enabled"`
	Type                  string        `yaml:"type"` // http | https | tcp
	Path                  string        `yaml:"path"`
	Method                string        `yaml:"method"`
	ExpectedStatus        []string      `yaml:"expected_status"` // e.g. "200-299"
	ExpectedBodySubstring string        `yaml:"expected_body_substring"`
	Timeout               time.Duration `yaml:"timeout"`
	Interval              time.Duration `yaml:"interval"`
	HealthyThreshold      int           `yaml:"healthy_threshold"`
	UnhealthyThreshold    int           `yaml:"unhealthy_threshold"`
}

// CircuitBreakerConfig configures an upstream's breaker.
type CircuitBreakerConfig struct {
	Enabled              bool          `yaml:"enabled"`
	VolumeThreshold      int           `yaml:"volume_threshold"`
	FailureThresholdFrac float64       `yaml:"failure_threshold_frac"`
	SuccessThreshold     int           `yaml:"success_threshold"`
	Timeout              time.Duration `yaml:"timeout"`
}

// UpstreamConfig is a named group of backend targets with a
// load-balance policy, retry budget, timeouts, and optional health
// check and circuit breaker.
type UpstreamConfig struct {
	ID             string                `yaml:"id"`
	Targets        []TargetConfig        `yaml:"targets"`
	LBPolicy       string                `yaml:"lb_policy"` // round-robin | weighted-round-robin | least-connections | ip-hash | random | consistent-hash
	Retries        int                   `yaml:"retries"`
	ConnectTimeout time.Duration         `yaml:"connect_timeout"`
	SendTimeout    time.Duration         `yaml:"send_timeout"`
	ReadTimeout    time.Duration         `yaml:"read_timeout"`
	OverallTimeout time.Duration         `yaml:"overall_timeout"`
	HealthCheck    *HealthCheckConfig    `yaml:"health_check,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
}

// RateLimitRuleConfig is one declarative rate-limit rule bound to a
// route.
type RateLimitRuleConfig struct {
	ID         string        `yaml:"id"`
	Algorithm  string        `yaml:"algorithm"` // token-bucket | sliding-window | fixed-window | adaptive
	Scope      string        `yaml:"scope"`     // global | consumer | route | ip
	Capacity   int           `yaml:"capacity"`
	RefillRate float64       `yaml:"refill_rate"`
	Burst      int           `yaml:"burst"`
	Limit      int           `yaml:"limit"`
	Window     time.Duration `yaml:"window"`
	Remote     bool          `yaml:"remote"`
}

// IPFilterConfig configures the IP allow/deny admission check.
type IPFilterConfig struct {
	Enabled bool     `yaml:"enabled"`
	Mode    string   `yaml:"mode"` // whitelist | blacklist
	CIDRs   []string `yaml:"cidrs"`
}

// WAFUserRuleConfig is a custom WAF rule: exactly one of Literal,
// Regex, or Expr should be set.
type WAFUserRuleConfig struct {
	ID      string `yaml:"id"`
	Literal string `yaml:"literal,omitempty"`
	Regex   string `yaml:"regex,omitempty"`
	Expr    string `yaml:"expr,omitempty"`
	Action  string `yaml:"action"` // log | challenge | block
}

// WAFConfig configures the web-application-firewall admission check.
type WAFConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Families  map[string]string   `yaml:"families"` // family -> action
	UserRules []WAFUserRuleConfig `yaml:"user_rules"`
}

// APIKeyConfig configures the API-key admission check.
type APIKeyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Header     string `yaml:"header"`
	QueryParam string `yaml:"query_param"`
}

// JWTConfig configures the JWT admission check.
type JWTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Algorithm       string        `yaml:"algorithm"`
	Secret          string        `yaml:"secret,omitempty"`
	PublicKeyPEM    string        `yaml:"public_key_pem,omitempty"`
	JWKSURL         string        `yaml:"jwks_url,omitempty"`
	JWKSRefresh     time.Duration `yaml:"jwks_refresh"`
	Issuer          string        `yaml:"issuer"`
	Audience        []string      `yaml:"audience"`
	ClockTolerance  time.Duration `yaml:"clock_tolerance"`
	ExtraQueryParam string        `yaml:"extra_query_param"`
	CookieName      string        `yaml:"cookie_name"`
	RequiredScopes  []string      `yaml:"required_scopes"`
}

// OAuthConfig configures the OAuth2 introspection admission check.
type OAuthConfig struct {
	Enabled          bool          `yaml:"enabled"`
	IntrospectionURL string        `yaml:"introspection_url"`
	ClientID         string        `yaml:"client_id"`
	ClientSecret     string        `yaml:"client_secret"`
	Issuer           string        `yaml:"issuer"`
	Audience         string        `yaml:"audience"`
	Scopes           []string      `yaml:"scopes"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// CacheConfig configures the per-route response cache.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxSizeBytes int           `yaml:"max_size_bytes"`
	Policy       string        `yaml:"policy"` // lru | lfu | time-based
	TTL          time.Duration `yaml:"ttl"`
	Methods      []string      `yaml:"methods"`
	StatusCodes  []int         `yaml:"status_codes"`
	VaryHeaders  []string      `yaml:"vary_headers"`
}

// CORSConfig configures per-route CORS response handling.
type CORSConfig struct {
	Enabled             bool     `yaml:"enabled"`
	AllowOrigins        []string `yaml:"allow_origins"`
	AllowOriginPatterns []string `yaml:"allow_origin_patterns"`
	AllowMethods        []string `yaml:"allow_methods"`
	AllowHeaders        []string `yaml:"allow_headers"`
	ExposeHeaders       []string `yaml:"expose_headers"`
	AllowCredentials    bool     `yaml:"allow_credentials"`
	AllowPrivateNetwork bool     `yaml:"allow_private_network"`
	MaxAge              int      `yaml:"max_age"`
}

// PluginConfig binds a registered plugin name into a route's pipeline.
type PluginConfig struct {
	Name     string `yaml:"name"`
	Phase    string `yaml:"phase"` // pre-route | route | post-route | error
	Priority int    `yaml:"priority"`
	Enabled  bool   `yaml:"enabled"`
}

// RouteConfig is one routable entry.
type RouteConfig struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Methods    []string       `yaml:"methods"`
	Paths      []string       `yaml:"paths"`
	MatchMode  string         `yaml:"match_mode"` // exact | prefix | regex
	UpstreamID string         `yaml:"upstream_id"`
	Enabled    bool           `yaml:"enabled"`
	Plugins    []PluginConfig `yaml:"plugins"`

	IPFilter  *IPFilterConfig       `yaml:"ip_filter,omitempty"`
	WAF       *WAFConfig            `yaml:"waf,omitempty"`
	APIKey    *APIKeyConfig         `yaml:"api_key,omitempty"`
	JWT       *JWTConfig            `yaml:"jwt,omitempty"`
	OAuth     *OAuthConfig          `yaml:"oauth,omitempty"`
	RateLimit []RateLimitRuleConfig `yaml:"rate_limit,omitempty"`
	Cache     *CacheConfig          `yaml:"cache,omitempty"`
	CORS      *CORSConfig           `yaml:"cors,omitempty"`
}

// DefaultConfig returns a minimal, valid configuration suitable as a
// merge base.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20,
			WorkerCount:    0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled: false,
			Address: ":9090",
		},
	}
}
