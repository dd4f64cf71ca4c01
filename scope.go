// scope.go
//
// Lexical scope analysis: undefined-variable and shadowing diagnostics.
//
// The scope chain mirrors the VM exactly: global → function → if-branch.
// Function bodies do not inherit the caller's locals; parameters seed the
// function scope.
package amorph

import "fmt"

// scope is one link of the analysis chain.
type scope struct {
	vars   map[string]bool
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: map[string]bool{}, parent: parent}
}

func (s *scope) define(name string) { s.vars[name] = true }

func (s *scope) defined(name string) bool {
	for e := s; e != nil; e = e.parent {
		if e.vars[name] {
			return true
		}
	}
	return false
}

// AnalyzeScopes walks the program and reports undefined variables
// (E_UNDEFINED_VAR) and shadowing lets (W_VARIABLE_SHADOW).
func AnalyzeScopes(program []any) []Diagnostic {
	a := &scopeAnalyzer{}
	global := newScope(nil)
	for i, s := range program {
		if stmt, ok := s.(map[string]any); ok {
			a.stmt(stmt, global, []PathSeg{seqSeg(i)})
		}
	}
	return a.issues
}

type scopeAnalyzer struct {
	issues []Diagnostic
}

func (a *scopeAnalyzer) push(code, severity string, path []PathSeg, msg, hint string) {
	a.issues = append(a.issues, Diagnostic{
		Code: code, Severity: severity, Path: PathString(path), Message: msg, Hint: hint,
	})
}

// expr reports reads of names not visible in the current chain. The walk
// skips call spec metadata and treats every other nested value as an
// expression position.
func (a *scopeAnalyzer) expr(node any, sc *scope, path []PathSeg) {
	switch e := node.(type) {
	case []any:
		for i, x := range e {
			a.expr(x, sc, append(cloneSegs(path), seqSeg(i)))
		}
	case map[string]any:
		if name, ok := e["var"].(string); ok && len(e) == 1 {
			if !sc.defined(name) {
				a.push(CodeUndefinedVar, SevError, path,
					fmt.Sprintf("variable %q used before definition", name),
					fmt.Sprintf("Add 'let %s' before use or check for typos", name))
			}
			return
		}
		if c, ok := e["call"].(map[string]any); ok && len(e) == 1 {
			if xs, ok := c["args"].([]any); ok {
				base := append(cloneSegs(path), fieldSeg("call"), fieldSeg("args"))
				for i, x := range xs {
					a.expr(x, sc, append(cloneSegs(base), seqSeg(i)))
				}
			}
			return
		}
		for k, v := range e {
			a.expr(v, sc, append(cloneSegs(path), fieldSeg(k)))
		}
	}
}

func (a *scopeAnalyzer) block(block []any, sc *scope, prefix []PathSeg) {
	for i, s := range block {
		if stmt, ok := s.(map[string]any); ok {
			a.stmt(stmt, sc, append(cloneSegs(prefix), seqSeg(i)))
		}
	}
}

func (a *scopeAnalyzer) stmt(stmt map[string]any, sc *scope, path []PathSeg) {
	if spec, ok := stmt["let"].(map[string]any); ok {
		name, _ := spec["name"].(string)
		if name != "" && sc.defined(name) {
			a.push(CodeVariableShadow, SevWarning, path,
				fmt.Sprintf("variable %q shadows an outer definition", name),
				"Use a different name or rename the outer variable")
		}
		// The value is analyzed before the binding exists: a let cannot read
		// itself.
		if v, ok := spec["value"]; ok {
			a.expr(v, sc, append(cloneSegs(path), fieldSeg("let"), fieldSeg("value")))
		}
		if name != "" {
			sc.define(name)
		}
	}

	if spec, ok := stmt["set"].(map[string]any); ok {
		name, _ := spec["name"].(string)
		if name != "" && !sc.defined(name) {
			a.push(CodeUndefinedVar, SevError, path,
				fmt.Sprintf("cannot set undefined variable %q", name),
				fmt.Sprintf("Use 'let' to define %q first", name))
		}
		if v, ok := spec["value"]; ok {
			a.expr(v, sc, append(cloneSegs(path), fieldSeg("set"), fieldSeg("value")))
		}
	}

	if spec, ok := stmt["def"].(map[string]any); ok {
		fnScope := newScope(sc)
		if ps, ok := spec["params"].([]any); ok {
			for _, p := range ps {
				if name, ok := p.(string); ok {
					fnScope.define(name)
				}
			}
		}
		if body, ok := spec["body"].([]any); ok {
			a.block(body, fnScope, append(cloneSegs(path), fieldSeg("def"), fieldSeg("body")))
		}
	}

	if spec, ok := stmt["if"].(map[string]any); ok {
		if c, ok := spec["cond"]; ok {
			a.expr(c, sc, append(cloneSegs(path), fieldSeg("if"), fieldSeg("cond")))
		}
		for _, key := range []string{"then", "else"} {
			if block, ok := spec[key].([]any); ok {
				a.block(block, newScope(sc), append(cloneSegs(path), fieldSeg("if"), fieldSeg(key)))
			}
		}
	}

	if v, ok := stmt["return"]; ok {
		a.expr(v, sc, append(cloneSegs(path), fieldSeg("return")))
	}
	if v, ok := stmt["expr"]; ok {
		a.expr(v, sc, append(cloneSegs(path), fieldSeg("expr")))
	}
	if payload, ok := stmt["print"]; ok {
		base := append(cloneSegs(path), fieldSeg("print"))
		if xs, ok := payload.([]any); ok {
			for i, x := range xs {
				a.expr(x, sc, append(cloneSegs(base), seqSeg(i)))
			}
		} else {
			a.expr(payload, sc, base)
		}
	}
}
