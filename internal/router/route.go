// Package router resolves an inbound request to a Route through three
// ordered tiers — exact, prefix, regex — grounded on the teacher's
// Router/RouteGroup specificity-ordering idiom in spirit, generalized
// to the tiered contract this gateway needs instead of the teacher's
// httprouter-radix plus domain/header matching.
package router

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	gwerrors "github.com/edgeworks/apigw/internal/errors"
	"github.com/edgeworks/apigw/internal/pipeline"
)

// MatchMode is the tier a Route is registered under.
type MatchMode string

const (
	MatchExact  MatchMode = "exact"
	MatchPrefix MatchMode = "prefix"
	MatchRegex  MatchMode = "regex"
)

// Route is a rule mapping a method+path shape to an upstream and an
// ordered plugin list, per the data model's Route entity. The
// resolver only ever reads ID/Methods/Paths/Mode/Enabled; UpstreamID
// and Plugins ride along so the gateway engine can carry the full
// entity through one whole-value-swap table instead of a second
// parallel store.
type Route struct {
	ID         string
	Name       string
	Methods    map[string]bool // allowed methods; empty means all
	Paths      []string        // one or more path patterns
	Mode       MatchMode
	UpstreamID string
	Plugins    []pipeline.Descriptor
	Enabled    bool

	// compiled forms, built once at registration time
	regexes []*regexp.Regexp
	params  []paramNames // one per compiled regex entry, aligned by index
}

type paramNames []string

// compile validates and compiles the route's path patterns according
// to its match mode. Regex compilation errors are surfaced here, at
// registration time, never at resolve time.
func (r *Route) compile() error {
	if len(r.Paths) == 0 {
		return gwerrors.InternalFailure(nil).WithDetail("reason", "route must declare at least one path").WithDetail("route_id", r.ID)
	}
	if len(r.Methods) == 0 {
		r.Methods = nil // nil means "all methods"
	}

	switch r.Mode {
	case MatchExact, MatchPrefix, "":
		if r.Mode == "" {
			r.Mode = MatchExact
		}
	case MatchRegex:
		for _, p := range r.Paths {
			names, pattern := compileParamPattern(p)
			re, err := regexp.Compile(pattern)
			if err != nil {
				return gwerrors.InternalFailure(err).WithDetail("route_id", r.ID).WithDetail("pattern", p)
			}
			r.regexes = append(r.regexes, re)
			r.params = append(r.params, names)
		}
	default:
		return gwerrors.InternalFailure(nil).WithDetail("reason", "unknown match mode").WithDetail("mode", string(r.Mode))
	}
	return nil
}

// compileParamPattern converts a `{name}` path-param pattern into an
// anchored regex with one capture group per param, returning the
// ordered param names alongside it.
func compileParamPattern(pattern string) (paramNames, string) {
	var names paramNames
	var b strings.Builder
	b.WriteString("^")
	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		if i > 0 {
			b.WriteString("/")
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			names = append(names, seg[1:len(seg)-1])
			b.WriteString("([^/]+)")
			continue
		}
		b.WriteString(regexp.QuoteMeta(seg))
	}
	b.WriteString("$")
	return names, b.String()
}

// allowsMethod reports whether the route accepts the given method.
func (r *Route) allowsMethod(method string) bool {
	if r.Methods == nil {
		return true
	}
	return r.Methods[method]
}

// Table is the resolver's indexed route store: exact-match map,
// prefix list sorted by descending path length, and a regex list in
// registration order. It is replaced wholesale on update (many
// readers, single writer — readers never observe a partial update),
// per the concurrency model's route-table discipline.
type Table struct {
	mu      sync.RWMutex
	exact   map[string]*Route   // key: method+"\x00"+path
	prefix  []*Route            // sorted by descending longest path
	regexes []*Route            // registration order
}

// NewTable builds an empty, ready-to-use Table.
func NewTable() *Table {
	return &Table{exact: make(map[string]*Route)}
}

// Build compiles and indexes a full route set, replacing the table's
// contents atomically. This is the "whole-value swap" update the
// concurrency model requires: the new indexes are built off to the
// side and only swapped in once complete.
func (t *Table) Build(routes []*Route) error {
	exact := make(map[string]*Route)
	var prefixes []*Route
	var regexes []*Route

	for _, rt := range routes {
		if err := rt.compile(); err != nil {
			return err
		}
		switch rt.Mode {
		case MatchExact:
			for _, p := range rt.Paths {
				for m := range methodSetOrAll(rt.Methods) {
					exact[m+"\x00"+normalizePath(p)] = rt
				}
			}
		case MatchPrefix:
			prefixes = append(prefixes, rt)
		case MatchRegex:
			regexes = append(regexes, rt)
		}
	}

	sort.SliceStable(prefixes, func(i, j int) bool {
		return longestPath(prefixes[i]) > longestPath(prefixes[j])
	})

	t.mu.Lock()
	t.exact = exact
	t.prefix = prefixes
	t.regexes = regexes
	t.mu.Unlock()
	return nil
}

func longestPath(r *Route) int {
	max := 0
	for _, p := range r.Paths {
		if len(p) > max {
			max = len(p)
		}
	}
	return max
}

func methodSetOrAll(methods map[string]bool) map[string]bool {
	if methods != nil {
		return methods
	}
	return map[string]bool{"*": true}
}

// Match is the resolved outcome of Resolve: the route plus any path
// parameters extracted from the matched pattern.
type Match struct {
	Route  *Route
	Params map[string]string
}

// Resolve tries exact, then prefix, then regex, in that order, per
// invariant #1 (route resolution is deterministic: exact > prefix
// longest-first > regex in registration order). Returns the route even
// if disabled — the resolver stays pure; the caller enforces
// disabled-route semantics.
func (t *Table) Resolve(method, path string) (*Match, error) {
	method = strings.ToUpper(method)
	path = normalizePath(path)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if rt, ok := t.exact[method+"\x00"+path]; ok {
		return &Match{Route: rt}, nil
	}
	if rt, ok := t.exact["*\x00"+path]; ok {
		return &Match{Route: rt}, nil
	}

	for _, rt := range t.prefix {
		if !rt.allowsMethod(method) {
			continue
		}
		for _, p := range rt.Paths {
			if prefixMatches(path, p) {
				return &Match{Route: rt}, nil
			}
		}
	}

	for _, rt := range t.regexes {
		if !rt.allowsMethod(method) {
			continue
		}
		for i, re := range rt.regexes {
			groups := re.FindStringSubmatch(path)
			if groups == nil {
				continue
			}
			params := make(map[string]string, len(rt.params[i]))
			for j, name := range rt.params[i] {
				params[name] = groups[j+1]
			}
			return &Match{Route: rt, Params: params}, nil
		}
	}

	return nil, gwerrors.RouteNotFound(path)
}

// normalizePath collapses a leading-slash-normalized form so that
// empty paths, multiple leading slashes, and trailing slashes all
// normalize consistently, per the boundary-behavior requirement.
func normalizePath(path string) string {
	if path == "" {
		path = "/"
	}
	for strings.HasPrefix(path, "//") {
		path = path[1:]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return path
}

// prefixMatches implements the "/"-normalized startsWith the resolver
// needs: "/api" matches "/api" and "/api/..." but not "/apifoo".
func prefixMatches(path, prefix string) bool {
	prefix = normalizePath(prefix)
	if path == prefix {
		return true
	}
	if prefix == "/" {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}
