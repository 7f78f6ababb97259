// Package gateway implements the request-plane orchestrator: for every
// inbound request it resolves a route, runs that route's admission and
// plugin chain, dispatches to an upstream target through the circuit
// breaker and load balancer with bounded retries, and records the
// outcome to the observability rollup. It is a plain http.Handler — no
// listener, no TLS termination, no admin surface — grounded on the
// teacher's gateway.go master serveHTTP flow (route match → admission →
// cache → pipeline phases → circuit-breaker-gated dispatch → response),
// trimmed to the components this module actually builds.
package gateway

import (
	"net/url"

	"github.com/edgeworks/apigw/internal/admission/apikey"
	"github.com/edgeworks/apigw/internal/aggregate"
	"github.com/edgeworks/apigw/internal/circuitbreaker"
	"github.com/edgeworks/apigw/internal/clock"
	"github.com/edgeworks/apigw/internal/config"
	gwerrors "github.com/edgeworks/apigw/internal/errors"
	"github.com/edgeworks/apigw/internal/health"
	"github.com/edgeworks/apigw/internal/loadbalancer"
	"github.com/edgeworks/apigw/internal/metrics"
	"github.com/edgeworks/apigw/internal/pipeline"
	"github.com/edgeworks/apigw/internal/registry"
	"github.com/edgeworks/apigw/internal/router"
	"github.com/edgeworks/apigw/internal/transport"
)

// Engine is the compiled, ready-to-serve gateway: one route table plus
// one set of per-upstream and per-route runtime objects, all built
// from a single config.Config snapshot. Rebuilding from a new snapshot
// (a fresh call to New, as cmd/gateway does on each config reload)
// produces a fresh Engine rather than mutating this one,
// matching the route table's whole-value-swap discipline.
type Engine struct {
	cfg *config.Config

	table  *router.Table
	routes *registry.Manager[*routeRuntime]

	upstreams map[string]config.UpstreamConfig
	lb        *loadbalancer.Manager
	breakers  *circuitbreaker.Manager
	health    *health.Checker
	transport *transport.Pool

	plugins    *pipeline.Registry
	aggregator *aggregate.Aggregator
	metrics    *metrics.Collector
	apiKeys    *apikey.Store
	clock      clock.Clock
}

// New compiles cfg into a ready-to-serve Engine. It validates cfg
// defensively (a caller may construct one directly rather than going
// through config.Loader) and fails fast on any unresolved route/
// upstream reference rather than partially wiring a broken engine.
func New(cfg *config.Config) (*Engine, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, gwerrors.InternalFailure(err).WithDetail("reason", "invalid configuration")
	}

	e := &Engine{
		cfg:        cfg,
		table:      router.NewTable(),
		routes:     registry.New[*routeRuntime](),
		upstreams:  make(map[string]config.UpstreamConfig, len(cfg.Upstreams)),
		lb:         loadbalancer.NewManager(),
		breakers:   circuitbreaker.NewManager(clock.Default),
		transport:  transport.NewPool(),
		plugins:    pipeline.NewRegistry(),
		aggregator: aggregate.New(aggregate.Config{}),
		metrics:    metrics.NewCollector(),
		apiKeys:    apikey.NewStore(),
		clock:      clock.Default,
	}
	e.health = health.NewChecker(health.Config{Clock: clock.Default, OnChange: e.onHealthChange})

	for _, u := range cfg.Upstreams {
		if err := e.buildUpstream(u); err != nil {
			return nil, gwerrors.InternalFailure(err).WithDetail("upstream_id", u.ID)
		}
	}

	routes := make([]*router.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		rt, rr, err := buildRoute(rc, e.plugins, e.apiKeys, e.clock)
		if err != nil {
			return nil, gwerrors.InternalFailure(err).WithDetail("route_id", rc.ID)
		}
		routes = append(routes, rt)
		e.routes.Add(rc.ID, rr)
	}
	if err := e.table.Build(routes); err != nil {
		return nil, err
	}

	return e, nil
}

// Plugins exposes the plugin registry so a caller can register custom
// pipeline handlers by name before routes that reference them are hit.
// Routes whose plugin descriptors outrun the registered set simply run
// their known plugins, per the pipeline's own contract.
func (e *Engine) Plugins() *pipeline.Registry { return e.plugins }

// Aggregator exposes the observability rollup for an admin/metrics
// surface to query; the engine only ever appends to it.
func (e *Engine) Aggregator() *aggregate.Aggregator { return e.aggregator }

// Metrics exposes the Prometheus collector's handler for mounting
// alongside the engine.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Stop releases background resources (active health-check probe
// loops). Call once when the engine is being replaced or the process
// is shutting down.
func (e *Engine) Stop() { e.health.Stop() }

func (e *Engine) buildUpstream(u config.UpstreamConfig) error {
	e.upstreams[u.ID] = u

	targets := make([]*loadbalancer.Target, 0, len(u.Targets))
	for _, t := range u.Targets {
		targets = append(targets, loadbalancer.NewTarget(t.ID, t.URL, t.Weight))
	}
	policy := loadbalancer.Policy(u.LBPolicy)
	if policy == "" {
		policy = loadbalancer.PolicyRoundRobin
	}
	e.lb.Register(u.ID, policy, targets, 0)

	e.transport.Register(u.ID, transport.Config{
		ConnectTimeout: u.ConnectTimeout,
		SendTimeout:    u.SendTimeout,
		ReadTimeout:    u.ReadTimeout,
		OverallTimeout: u.OverallTimeout,
	})

	if u.CircuitBreaker != nil && u.CircuitBreaker.Enabled {
		e.breakers.GetOrCreate(u.ID, circuitbreaker.Config{
			VolumeThreshold:      u.CircuitBreaker.VolumeThreshold,
			FailureThresholdFrac: u.CircuitBreaker.FailureThresholdFrac,
			SuccessThreshold:     u.CircuitBreaker.SuccessThreshold,
			Timeout:              u.CircuitBreaker.Timeout,
		})
	} else {
		e.breakers.GetOrCreate(u.ID, circuitbreaker.Config{})
	}

	if u.HealthCheck != nil && u.HealthCheck.Enabled {
		ranges := make([]health.StatusRange, 0, len(u.HealthCheck.ExpectedStatus))
		for _, s := range u.HealthCheck.ExpectedStatus {
			rng, err := health.ParseStatusRange(s)
			if err != nil {
				return err
			}
			ranges = append(ranges, rng)
		}
		for _, t := range u.Targets {
			parsed, err := url.Parse(t.URL)
			if err != nil {
				return err
			}
			e.health.AddTarget(t.ID, health.Spec{
				Type:                  health.ProbeType(u.HealthCheck.Type),
				Address:               parsed.Host,
				Path:                  u.HealthCheck.Path,
				Method:                u.HealthCheck.Method,
				ExpectedStatus:        ranges,
				ExpectedBodySubstring: u.HealthCheck.ExpectedBodySubstring,
				Timeout:               u.HealthCheck.Timeout,
				Interval:              u.HealthCheck.Interval,
				HealthyThreshold:      u.HealthCheck.HealthyThreshold,
				UnhealthyThreshold:    u.HealthCheck.UnhealthyThreshold,
			})
		}
	}

	return nil
}

// onHealthChange propagates an active-probe status flip into the load
// balancer's healthy-target cache and the metrics gauge. The health
// checker has no notion of which upstream a target belongs to, so we
// scan the small upstream set to find it — this runs only on a status
// transition, never per-request.
func (e *Engine) onHealthChange(targetID string, status health.Status) {
	healthy := status == health.StatusHealthy
	for upstreamID, u := range e.upstreams {
		for _, t := range u.Targets {
			if t.ID != targetID {
				continue
			}
			if bal, ok := e.lb.Get(upstreamID); ok {
				if healthy {
					bal.MarkHealthy(targetID)
				} else {
					bal.MarkUnhealthy(targetID)
				}
			}
			e.metrics.SetBackendHealth(upstreamID, targetID, healthy)
			return
		}
	}
}
