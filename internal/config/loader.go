package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// validHTTPMethods contains all valid HTTP method names.
var validHTTPMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true,
}

var validMatchModes = map[string]bool{"exact": true, "prefix": true, "regex": true}
var validLBPolicies = map[string]bool{
	"round-robin": true, "weighted-round-robin": true, "least-connections": true,
	"ip-hash": true, "random": true, "consistent-hash": true,
}
var validAlgorithms = map[string]bool{
	"token-bucket": true, "sliding-window": true, "fixed-window": true, "adaptive": true,
}
var validScopes = map[string]bool{"global": true, "consumer": true, "route": true, "ip": true}
var validWAFActions = map[string]bool{"log": true, "challenge": true, "block": true}
var validCachePolicies = map[string]bool{"lru": true, "lfu": true, "time-based": true}
var validHealthCheckTypes = map[string]bool{"http": true, "https": true, "tcp": true}

// Loader handles configuration loading, env-var expansion, and
// validation.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, expanding ${VAR} env
// references before unmarshaling and validating the result.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values,
// leaving the placeholder untouched when the variable is unset.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// LoadFromEnv builds a minimal configuration purely from environment
// variables, useful for smoke-testing without a config file.
func (l *Loader) LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if addr := os.Getenv("GATEWAY_ADDRESS"); addr != "" {
		cfg.Server.Address = addr
	}
	return cfg, nil
}

// LoadWithOverlays loads basePath and then layers each overlay path
// on top, in order, via MergeConfigOverlay — a base gateway.yaml
// plus per-environment overlays (staging.yaml, canary.yaml) that only
// need to spell out the fields they change. Overlays are parsed
// against a zero-value Config rather than DefaultConfig, so an
// omitted field means "inherit from base", not "reset to default".
// Bool fields are the exception: MergeConfigOverlay always takes the
// overlay's bool, so a bool the overlay omits becomes false.
// The fully merged result is validated once, after the last overlay.
func (l *Loader) LoadWithOverlays(basePath string, overlayPaths ...string) (*Config, error) {
	base, err := l.Load(basePath)
	if err != nil {
		return nil, err
	}

	for _, path := range overlayPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read overlay %s: %w", path, err)
		}

		overlay := &Config{}
		if err := yaml.Unmarshal([]byte(l.expandEnvVars(string(data))), overlay); err != nil {
			return nil, fmt.Errorf("failed to parse overlay %s: %w", path, err)
		}

		merged := MergeConfigOverlay(*base, *overlay)
		base = &merged
	}

	if err := Validate(base); err != nil {
		return nil, fmt.Errorf("configuration validation failed after overlays: %w", err)
	}

	return base, nil
}
