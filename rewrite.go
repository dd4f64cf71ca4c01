// rewrite.go
//
// Pattern rewrite engine: declarative match/replace rules with named
// placeholders ("$x" binds a subtree), a single list wildcard ("$*rest"
// absorbs consecutive elements), and optional JMESPath guards evaluated over
// the matched node, a bound placeholder, or the program root.
//
// Application is bottom-up: children rewrite before their parents, so inner
// results are visible to outer matches within the same pass. Passes repeat
// until a fixed point, or until the fuel limit caps the total replacement
// count.
package amorph

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmespath/go-jmespath"
)

// Rule is one match/replace rule with optional guards.
type Rule struct {
	Match             any
	Replace           any
	Select            string            // guard over the matched node
	Where             []string          // guards over the matched node (all must hold)
	ProgramSelect     string            // guard over the program root
	ProgramWhere      []string          // guards over the program root
	WherePlaceholders map[string]string // placeholder name → guard over its binding
	ApplyTo           []string          // JMESPath selections restricting rewrite sites
}

// ParseRule converts a rule object (from a JSON/YAML rules file) to a Rule.
func ParseRule(raw map[string]any) (Rule, error) {
	r := Rule{Match: raw["match"], Replace: raw["replace"]}
	if r.Match == nil {
		return r, fmt.Errorf("rule requires a match pattern")
	}
	if _, ok := raw["replace"]; !ok {
		return r, fmt.Errorf("rule requires a replace template")
	}
	if s, ok := raw["select"].(string); ok {
		r.Select = s
	}
	if s, ok := raw["program_select"].(string); ok {
		r.ProgramSelect = s
	}
	r.Where = stringList(raw["where"])
	r.ProgramWhere = stringList(raw["program_where"])
	if m, ok := raw["where_placeholders"].(map[string]any); ok {
		r.WherePlaceholders = map[string]string{}
		for k, v := range m {
			if s, ok := v.(string); ok {
				r.WherePlaceholders[k] = s
			}
		}
	}
	if s, ok := raw["apply_to"].(string); ok {
		r.ApplyTo = []string{s}
	} else {
		r.ApplyTo = stringList(raw["apply_to"])
	}
	return r, nil
}

func stringList(v any) []string {
	xs, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, x := range xs {
		if s, ok := x.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ParseRules converts a rules file tree (array of rule objects).
func ParseRules(raw any) ([]Rule, error) {
	xs, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("rules must be a JSON array")
	}
	out := make([]Rule, 0, len(xs))
	for i, x := range xs {
		m, ok := x.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rule %d must be an object", i)
		}
		r, err := ParseRule(m)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Rewriter applies a rule set. Warnings accumulate once per distinct cause
// (bad guard expressions, unavailable selections).
type Rewriter struct {
	rules    []Rule
	Warnings []string
	warned   map[string]bool
}

func NewRewriter(rules []Rule) *Rewriter {
	return &Rewriter{rules: rules, warned: map[string]bool{}}
}

func (rw *Rewriter) warnOnce(msg string) {
	if rw.warned[msg] {
		return
	}
	rw.warned[msg] = true
	rw.Warnings = append(rw.Warnings, msg)
}

// Apply rewrites the program to a fixed point, or until limit replacements
// (limit <= 0 means unlimited). Returns the new tree and the replacement
// count. The input tree is not modified.
func (rw *Rewriter) Apply(program []any, limit int) ([]any, int) {
	work := CopyTree(program).([]any)
	total := 0
	for {
		fuel := -1
		if limit > 0 {
			fuel = limit - total
			if fuel <= 0 {
				break
			}
		}
		node, n := rw.pass(work, work, fuel)
		work = node.([]any)
		total += n
		if n == 0 {
			break
		}
	}
	return work, total
}

// pass runs one bottom-up sweep. fuel < 0 means unbounded; the sweep stops
// firing once fuel reaches zero.
func (rw *Rewriter) pass(node any, root []any, fuel int) (any, int) {
	count := 0
	budget := func() bool { return fuel < 0 || count < fuel }

	var walk func(n any) any
	walk = func(n any) any {
		switch x := n.(type) {
		case []any:
			out := make([]any, len(x))
			for i, v := range x {
				out[i] = walk(v)
			}
			n = out
		case map[string]any:
			out := make(map[string]any, len(x))
			for k, v := range x {
				out[k] = walk(v)
			}
			n = out
		}
		if !budget() {
			return n
		}
		for i := range rw.rules {
			rule := &rw.rules[i]
			env := map[string]any{}
			if !matchPattern(n, rule.Match, env) {
				continue
			}
			if !rw.withinApplyTo(n, rule, root) {
				continue
			}
			if !rw.passesGuards(n, rule, env, root) {
				continue
			}
			count++
			repl := substitute(rule.Replace, env)
			// Subset match preserves extra node keys (ids in particular)
			// when both sides are objects.
			if nm, ok := n.(map[string]any); ok {
				if pm, ok := rule.Match.(map[string]any); ok {
					if rm, ok := repl.(map[string]any); ok {
						for k, v := range nm {
							if _, inPattern := pm[k]; inPattern {
								continue
							}
							if _, inRepl := rm[k]; !inRepl {
								rm[k] = CopyTree(v)
							}
						}
					}
				}
			}
			return repl
		}
		return n
	}

	return walk(node), count
}

// -----------------------------
// Matching
// -----------------------------

func isPlaceholder(x any) bool {
	s, ok := x.(string)
	return ok && len(s) > 1 && strings.HasPrefix(s, "$") && !strings.HasPrefix(s, "$*")
}

func isStarPlaceholder(x any) bool {
	s, ok := x.(string)
	return ok && len(s) > 2 && strings.HasPrefix(s, "$*")
}

// matchPattern attempts to match node against pattern, extending env with
// placeholder bindings. A placeholder bound twice must bind equal subtrees.
func matchPattern(node, pattern any, env map[string]any) bool {
	if isPlaceholder(pattern) {
		name := pattern.(string)[1:]
		if prev, ok := env[name]; ok {
			return EqualTree(prev, node)
		}
		env[name] = node
		return true
	}
	switch p := pattern.(type) {
	case []any:
		seq, ok := node.([]any)
		if !ok {
			return false
		}
		return matchList(seq, p, env)
	case map[string]any:
		m, ok := node.(map[string]any)
		if !ok {
			return false
		}
		// Subset match: pattern keys must all be present and extra node
		// keys are allowed. pass() copies the extra keys into an object
		// replacement that does not set them itself.
		for k, pv := range p {
			nv, ok := m[k]
			if !ok {
				return false
			}
			if !matchPattern(nv, pv, env) {
				return false
			}
		}
		return true
	default:
		return EqualTree(node, pattern)
	}
}

// matchList matches element-wise, unless exactly one $*name wildcard is
// present — then the wildcard absorbs zero or more consecutive elements.
func matchList(seq, pattern []any, env map[string]any) bool {
	star := -1
	for i, p := range pattern {
		if isStarPlaceholder(p) {
			if star >= 0 {
				return false // at most one wildcard per list pattern
			}
			star = i
		}
	}
	if star < 0 {
		if len(seq) != len(pattern) {
			return false
		}
		for i := range pattern {
			if !matchPattern(seq[i], pattern[i], env) {
				return false
			}
		}
		return true
	}

	before := pattern[:star]
	after := pattern[star+1:]
	if len(seq) < len(before)+len(after) {
		return false
	}
	for i, p := range before {
		if !matchPattern(seq[i], p, env) {
			return false
		}
	}
	for i, p := range after {
		if !matchPattern(seq[len(seq)-len(after)+i], p, env) {
			return false
		}
	}
	mid := append([]any{}, seq[len(before):len(seq)-len(after)]...)
	name := pattern[star].(string)[2:]
	if prev, ok := env[name]; ok {
		return EqualTree(prev, mid)
	}
	env[name] = mid
	return true
}

// substitute instantiates a replace template: "$x" splices the bound
// subtree, "$*xs" splices the bound elements into the surrounding list.
func substitute(template any, env map[string]any) any {
	if isPlaceholder(template) {
		return CopyTree(env[template.(string)[1:]])
	}
	switch t := template.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, x := range t {
			if isStarPlaceholder(x) {
				name := x.(string)[2:]
				if vals, ok := env[name].([]any); ok {
					for _, v := range vals {
						out = append(out, CopyTree(v))
					}
				} else if v, ok := env[name]; ok {
					out = append(out, CopyTree(v))
				}
				continue
			}
			out = append(out, substitute(x, env))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = substitute(v, env)
		}
		return out
	default:
		return template
	}
}

// -----------------------------
// Guards
// -----------------------------

// guardTruthy follows JMESPath conventions: null, false, empty list and
// empty object are falsy.
func guardTruthy(res any) bool {
	switch v := res.(type) {
	case nil:
		return false
	case bool:
		return v
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	case string:
		return v != ""
	default:
		return true
	}
}

// plainTree strips json.Number down to plain float64/int64 values so the
// guard engine sees ordinary JSON.
func plainTree(node any) any {
	b, err := json.Marshal(node)
	if err != nil {
		return node
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return node
	}
	return out
}

func (rw *Rewriter) search(expr string, data any) (any, bool) {
	res, err := jmespath.Search(expr, plainTree(data))
	if err != nil {
		rw.warnOnce(fmt.Sprintf("guard expression unavailable, rule skipped: %q", expr))
		return nil, false
	}
	return res, true
}

func (rw *Rewriter) passesGuards(node any, rule *Rule, env map[string]any, root []any) bool {
	check := func(expr string, data any) bool {
		res, ok := rw.search(expr, data)
		return ok && guardTruthy(res)
	}
	if rule.Select != "" && !check(rule.Select, node) {
		return false
	}
	for _, expr := range rule.Where {
		if !check(expr, node) {
			return false
		}
	}
	if rule.ProgramSelect != "" && !check(rule.ProgramSelect, root) {
		return false
	}
	for _, expr := range rule.ProgramWhere {
		if !check(expr, root) {
			return false
		}
	}
	for name, expr := range rule.WherePlaceholders {
		bound, ok := env[name]
		if !ok {
			return false
		}
		if !check(expr, bound) {
			return false
		}
	}
	return true
}

func (rw *Rewriter) withinApplyTo(node any, rule *Rule, root []any) bool {
	if len(rule.ApplyTo) == 0 {
		return true
	}
	for _, expr := range rule.ApplyTo {
		res, ok := rw.search(expr, root)
		if !ok {
			continue
		}
		if xs, ok := res.([]any); ok {
			for _, sel := range xs {
				if EqualTree(plainTree(node), sel) {
					return true
				}
			}
		} else if res != nil && EqualTree(plainTree(node), res) {
			return true
		}
	}
	return false
}
