// Package pipeline implements the plugin pipeline: phase-ordered,
// priority-sorted handler chains with short-circuit semantics,
// grounded on the middleware chain's builder/registry idiom
// (internal/middleware/chain.go) but keyed by named, registered
// handlers rather than closures, per the plugin pipeline's
// tagged-descriptor contract.
package pipeline

import (
	"context"
	"sort"
)

// Phase identifies where in the request lifecycle a plugin runs.
type Phase string

const (
	PhasePreRoute  Phase = "pre-route"
	PhaseRoute     Phase = "route"
	PhasePostRoute Phase = "post-route"
	PhaseError     Phase = "error"
)

// Request is the minimal view of an inbound request a plugin needs.
type Request struct {
	ID         string
	Method     string
	Path       string
	Headers    map[string][]string
	Query      map[string][]string
	Body       []byte
	ClientAddr string
}

// Response is what a plugin may produce to short-circuit the chain.
type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Context is the mutable plugin execution context threaded through a
// single request's pipeline run.
type Context struct {
	Request    *Request
	RouteID    string
	ConsumerID string
	Scratch    map[string]any
	Err        error
}

// NewContext builds a fresh plugin context for one request.
func NewContext(req *Request, routeID, consumerID string) *Context {
	return &Context{
		Request:    req,
		RouteID:    routeID,
		ConsumerID: consumerID,
		Scratch:    make(map[string]any),
	}
}

// Handler is a named plugin's execution function. It returns a
// non-nil *Response to short-circuit, or an error to abort the phase
// and (outside the error phase) trigger the error phase.
type Handler func(ctx context.Context, pctx *Context) (*Response, error)

// Descriptor is a route's binding of a registered handler into a
// phase at a given priority.
type Descriptor struct {
	Name     string
	Phase    Phase
	Priority int
	Enabled  bool
}

// Registry maps a plugin name to its implementation. Handlers are
// registered once at startup; routes reference them by name so the
// pipeline never constructs handlers per-request.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a name to a handler implementation. Re-registering a
// name replaces the previous binding.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

// Lookup returns the handler bound to name, or false if unregistered.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Pipeline is a route's compiled, phase-grouped, priority-sorted
// plugin chain, resolved once against a Registry at route-build time.
type Pipeline struct {
	phases map[Phase][]boundPlugin
}

type boundPlugin struct {
	name    string
	handler Handler
}

// Build resolves an ordered list of descriptors against reg into a
// Pipeline, grouping by phase and sorting each phase's plugins by
// descending priority (stable by insertion order on ties). Disabled
// descriptors are dropped. Build does not validate that every name
// resolves; unresolved names are silently skipped so a route whose
// plugin set outruns the registry still runs its known plugins.
func Build(descriptors []Descriptor, reg *Registry) *Pipeline {
	byPhase := make(map[Phase][]Descriptor)
	for _, d := range descriptors {
		if !d.Enabled {
			continue
		}
		byPhase[d.Phase] = append(byPhase[d.Phase], d)
	}

	p := &Pipeline{phases: make(map[Phase][]boundPlugin)}
	for phase, ds := range byPhase {
		sort.SliceStable(ds, func(i, j int) bool {
			return ds[i].Priority > ds[j].Priority
		})
		bound := make([]boundPlugin, 0, len(ds))
		for _, d := range ds {
			h, ok := reg.Lookup(d.Name)
			if !ok {
				continue
			}
			bound = append(bound, boundPlugin{name: d.Name, handler: h})
		}
		p.phases[phase] = bound
	}
	return p
}

// Run executes every plugin bound to phase in order. It stops and
// returns the first non-nil Response (short-circuit) or the first
// error encountered. A nil, nil result means the phase ran to
// completion without short-circuiting.
func (p *Pipeline) Run(ctx context.Context, phase Phase, pctx *Context) (*Response, error) {
	for _, bp := range p.phases[phase] {
		resp, err := bp.handler(ctx, pctx)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// RunError executes the error phase, swallowing any error a plugin
// raises so the caller always falls back to the default error
// response rather than propagating a secondary failure.
func (p *Pipeline) RunError(ctx context.Context, pctx *Context) *Response {
	for _, bp := range p.phases[PhaseError] {
		resp, err := bp.handler(ctx, pctx)
		if err != nil {
			continue
		}
		if resp != nil {
			return resp
		}
	}
	return nil
}

// HasPhase reports whether the pipeline has any plugins bound to
// phase, letting the engine skip empty phases cheaply.
func (p *Pipeline) HasPhase(phase Phase) bool {
	return len(p.phases[phase]) > 0
}
