// Package waf implements the admission web-application-firewall check:
// a fixed set of toggleable pattern families (SQL injection, XSS, path
// traversal, command injection) plus user-defined rules (literal,
// regex, or an expr-lang boolean expression), evaluated against the
// request path, each query value, each header value, and the
// serialized body. The result is every matched rule plus the single
// most restrictive action across them.
package waf

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Action is how a matched rule wants the request handled. Block
// dominates challenge, which dominates log.
type Action string

const (
	ActionLog       Action = "log"
	ActionChallenge Action = "challenge"
	ActionBlock     Action = "block"
)

// actionRank orders actions by restrictiveness so the most
// restrictive match across a request can be picked with a single
// comparison.
var actionRank = map[Action]int{
	ActionLog:       0,
	ActionChallenge: 1,
	ActionBlock:     2,
}

func mostRestrictive(a, b Action) Action {
	if actionRank[b] > actionRank[a] {
		return b
	}
	return a
}

// Family names a built-in pattern category. Each is independently
// toggleable.
type Family string

const (
	FamilySQLInjection     Family = "sql_injection"
	FamilyXSS              Family = "xss"
	FamilyPathTraversal    Family = "path_traversal"
	FamilyCommandInjection Family = "command_injection"
)

// builtinPatterns holds one or more regexes per family. A field
// matches the family if any pattern matches.
var builtinPatterns = map[Family][]*regexp.Regexp{
	FamilySQLInjection: {
		regexp.MustCompile(`(?i)(\bunion\b\s+\bselect\b)`),
		regexp.MustCompile(`(?i)(\bor\b|\band\b)\s+['"]?\d+['"]?\s*=\s*['"]?\d+['"]?`),
		regexp.MustCompile(`(?i)\b(select|insert|update|delete|drop|alter)\b.{0,40}\b(from|into|table|where)\b`),
		regexp.MustCompile(`--\s*$|/\*.*\*/|;\s*(drop|shutdown)\b`),
		regexp.MustCompile(`(?i)\bsleep\s*\(\s*\d+\s*\)|\bbenchmark\s*\(`),
	},
	FamilyXSS: {
		regexp.MustCompile(`(?i)<\s*script\b`),
		regexp.MustCompile(`(?i)on(error|load|click|mouseover|focus)\s*=`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)<\s*(iframe|svg|img)\b[^>]*\bon\w+\s*=`),
	},
	FamilyPathTraversal: {
		regexp.MustCompile(`\.\./|\.\.\\`),
		regexp.MustCompile(`(?i)%2e%2e(%2f|%5c|/|\\)`),
		regexp.MustCompile(`(?i)\b(etc/passwd|win\.ini|boot\.ini)\b`),
	},
	FamilyCommandInjection: {
		regexp.MustCompile("[;&|`$]\\s*\\b(cat|ls|wget|curl|nc|bash|sh|rm|chmod|id|whoami)\\b"),
		regexp.MustCompile(`\$\(.+\)|` + "`" + `.+` + "`"),
	},
}

// Rule is one inspection rule: either a built-in family, a
// user-supplied literal/regex, or an expr-lang boolean expression
// evaluated against the inspected field's value.
type Rule struct {
	ID      string
	Family  Family // set for built-in family rules, empty for user rules
	Literal string
	Pattern *regexp.Regexp
	Program *vm.Program
	Action  Action
}

func (r Rule) matches(field, value string) (bool, error) {
	if r.Literal != "" {
		return strings.Contains(strings.ToLower(value), strings.ToLower(r.Literal)), nil
	}
	if r.Pattern != nil {
		return r.Pattern.MatchString(value), nil
	}
	if r.Program != nil {
		out, err := expr.Run(r.Program, map[string]any{"field": field, "value": value})
		if err != nil {
			return false, fmt.Errorf("waf: rule %s: %w", r.ID, err)
		}
		matched, _ := out.(bool)
		return matched, nil
	}
	if len(builtinPatterns[r.Family]) > 0 {
		for _, p := range builtinPatterns[r.Family] {
			if p.MatchString(value) {
				return true, nil
			}
		}
	}
	return false, nil
}

// UserRule is the configuration-surface shape for a custom rule:
// exactly one of Literal, Regex, or Expr is set.
type UserRule struct {
	ID      string
	Literal string
	Regex   string
	Expr    string
	Action  Action
}

// Config selects which built-in families are active and lists any
// user-defined rules, each with its own action.
type Config struct {
	Families  map[Family]Action // family -> action when it fires; absent = disabled
	UserRules []UserRule
}

// WAF inspects requests against a compiled rule set.
type WAF struct {
	rules []Rule
}

// New compiles cfg into a WAF. Returns an error if any user rule is
// malformed or ambiguous (more than one of literal/regex/expr set).
func New(cfg Config) (*WAF, error) {
	w := &WAF{}

	families := make([]Family, 0, len(cfg.Families))
	for f := range cfg.Families {
		families = append(families, f)
	}
	sort.Slice(families, func(i, j int) bool { return families[i] < families[j] })
	for _, f := range families {
		if _, ok := builtinPatterns[f]; !ok {
			return nil, fmt.Errorf("waf: unknown built-in family %q", f)
		}
		w.rules = append(w.rules, Rule{
			ID:     "builtin:" + string(f),
			Family: f,
			Action: cfg.Families[f],
		})
	}

	for _, ur := range cfg.UserRules {
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
			return nil, fmt.Errorf("waf: rule %s must set exactly one of literal, regex, expr", ur.ID)
		}
		r := Rule{ID: ur.ID, Literal: ur.Literal, Action: ur.Action}
		if ur.Regex != "" {
			p, err := regexp.Compile(ur.Regex)
			if err != nil {
				return nil, fmt.Errorf("waf: rule %s: invalid regex: %w", ur.ID, err)
			}
			r.Pattern = p
		}
		if ur.Expr != "" {
			prog, err := expr.Compile(ur.Expr, expr.Env(map[string]any{"field": "", "value": ""}), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("waf: rule %s: invalid expression: %w", ur.ID, err)
			}
			r.Program = prog
		}
		w.rules = append(w.rules, r)
	}

	return w, nil
}

// MatchedRule is one rule that fired during Inspect, along with the
// field that triggered it.
type MatchedRule struct {
	RuleID string
	Field  string
	Action Action
}

// Result is the outcome of inspecting one request: every rule that
// fired plus the single most restrictive action among them. An empty
// MatchedRules means no rule fired and Action is the zero value.
type Result struct {
	MatchedRules []MatchedRule
	Action       Action
}

// Inspect analyzes the request path, each query value, each header
// value, and the given serialized body against the compiled rule set.
func (w *WAF) Inspect(r *http.Request, body []byte) (Result, error) {
	var res Result

	check := func(field, value string) error {
		if value == "" {
			return nil
		}
		for _, rule := range w.rules {
			ok, err := rule.matches(field, value)
			if err != nil {
				return err
			}
			if ok {
				res.MatchedRules = append(res.MatchedRules, MatchedRule{RuleID: rule.ID, Field: field, Action: rule.Action})
				res.Action = mostRestrictive(res.Action, rule.Action)
			}
		}
		return nil
	}

	if err := check("path", r.URL.Path); err != nil {
		return res, err
	}
	for name, vals := range r.URL.Query() {
		for _, v := range vals {
			if err := check("query:"+name, v); err != nil {
				return res, err
			}
		}
	}
	for name, vals := range r.Header {
		for _, v := range vals {
			if err := check("header:"+name, v); err != nil {
				return res, err
			}
		}
	}
	if len(body) > 0 {
		if err := check("body", string(body)); err != nil {
			return res, err
		}
	}

	return res, nil
}
