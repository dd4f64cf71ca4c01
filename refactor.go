// refactor.go
//
// Variable-level refactoring: reference tracking, rename-variable, and
// extract-function.
//
// The central primitive is the reference scan: every definition (`let`),
// write (`set`), read (`{var}`) and function parameter is collected with its
// canonical path and owning scope ("global" or the function's id). Rename
// and the free-variable analysis used by extract-function are built on the
// same walk.
package amorph

import (
	"sort"
	"strings"
)

// Reference kinds.
const (
	RefDefinition = "definition"
	RefWrite      = "write"
	RefRead       = "read"
	RefParameter  = "parameter"
)

// VarRef is one occurrence of a variable.
type VarRef struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	ScopeID string `json:"scope_id"`
	StmtIdx int    `json:"statement_idx"`
}

// FindVariableReferences returns every reference to name, optionally
// filtered to one scope ("all" keeps everything).
func FindVariableReferences(program []any, name, scopeID string) []VarRef {
	refs := collectVarRefs(program)[name]
	if scopeID == "" || scopeID == "all" {
		return refs
	}
	var out []VarRef
	for _, r := range refs {
		if r.ScopeID == scopeID {
			out = append(out, r)
		}
	}
	return out
}

// collectVarRefs maps variable names to all their references.
func collectVarRefs(program []any) map[string][]VarRef {
	c := &refCollector{refs: map[string][]VarRef{}}
	for i, s := range program {
		if stmt, ok := s.(map[string]any); ok {
			c.stmt(stmt, "global", []PathSeg{seqSeg(i)}, i)
		}
	}
	return c.refs
}

type refCollector struct {
	refs map[string][]VarRef
}

func (c *refCollector) add(name string, path []PathSeg, kind, scopeID string, stmtIdx int) {
	c.refs[name] = append(c.refs[name], VarRef{
		Name: name, Path: PathString(path), Kind: kind, ScopeID: scopeID, StmtIdx: stmtIdx,
	})
}

func (c *refCollector) expr(node any, scopeID string, path []PathSeg, stmtIdx int) {
	switch e := node.(type) {
	case []any:
		for i, x := range e {
			c.expr(x, scopeID, append(cloneSegs(path), seqSeg(i)), stmtIdx)
		}
	case map[string]any:
		if name, ok := e["var"].(string); ok && len(e) == 1 {
			c.add(name, path, RefRead, scopeID, stmtIdx)
			return
		}
		if call, ok := e["call"].(map[string]any); ok && len(e) == 1 {
			if xs, ok := call["args"].([]any); ok {
				base := append(cloneSegs(path), fieldSeg("call"), fieldSeg("args"))
				for i, x := range xs {
					c.expr(x, scopeID, append(cloneSegs(base), seqSeg(i)), stmtIdx)
				}
			}
			return
		}
		for k, v := range e {
			c.expr(v, scopeID, append(cloneSegs(path), fieldSeg(k)), stmtIdx)
		}
	}
}

func (c *refCollector) stmt(stmt map[string]any, scopeID string, path []PathSeg, stmtIdx int) {
	if spec, ok := stmt["let"].(map[string]any); ok {
		if name, _ := spec["name"].(string); name != "" {
			c.add(name, append(cloneSegs(path), fieldSeg("let"), fieldSeg("name")), RefDefinition, scopeID, stmtIdx)
		}
		if v, ok := spec["value"]; ok {
			c.expr(v, scopeID, append(cloneSegs(path), fieldSeg("let"), fieldSeg("value")), stmtIdx)
		}
	}
	if spec, ok := stmt["set"].(map[string]any); ok {
		if name, _ := spec["name"].(string); name != "" {
			c.add(name, append(cloneSegs(path), fieldSeg("set"), fieldSeg("name")), RefWrite, scopeID, stmtIdx)
		}
		if v, ok := spec["value"]; ok {
			c.expr(v, scopeID, append(cloneSegs(path), fieldSeg("set"), fieldSeg("value")), stmtIdx)
		}
	}
	if spec, ok := stmt["def"].(map[string]any); ok {
		fnID, _ := spec["id"].(string)
		if fnID == "" {
			fnID, _ = spec["name"].(string)
		}
		if ps, ok := spec["params"].([]any); ok {
			for j, p := range ps {
				if name, ok := p.(string); ok {
					c.add(name, append(cloneSegs(path), fieldSeg("def"), fieldSeg("params"), seqSeg(j)),
						RefParameter, fnID, stmtIdx)
				}
			}
		}
		if body, ok := spec["body"].([]any); ok {
			for j, s := range body {
				if st, ok := s.(map[string]any); ok {
					c.stmt(st, fnID, append(cloneSegs(path), fieldSeg("def"), fieldSeg("body"), seqSeg(j)), j)
				}
			}
		}
	}
	if spec, ok := stmt["if"].(map[string]any); ok {
		if v, ok := spec["cond"]; ok {
			c.expr(v, scopeID, append(cloneSegs(path), fieldSeg("if"), fieldSeg("cond")), stmtIdx)
		}
		for _, key := range []string{"then", "else"} {
			if block, ok := spec[key].([]any); ok {
				for j, s := range block {
					if st, ok := s.(map[string]any); ok {
						c.stmt(st, scopeID, append(cloneSegs(path), fieldSeg("if"), fieldSeg(key), seqSeg(j)), j)
					}
				}
			}
		}
	}
	if v, ok := stmt["return"]; ok {
		c.expr(v, scopeID, append(cloneSegs(path), fieldSeg("return")), stmtIdx)
	}
	if v, ok := stmt["expr"]; ok {
		c.expr(v, scopeID, append(cloneSegs(path), fieldSeg("expr")), stmtIdx)
	}
	if payload, ok := stmt["print"]; ok {
		base := append(cloneSegs(path), fieldSeg("print"))
		if xs, ok := payload.([]any); ok {
			for i, x := range xs {
				c.expr(x, scopeID, append(cloneSegs(base), seqSeg(i)), stmtIdx)
			}
		} else {
			c.expr(payload, scopeID, base, stmtIdx)
		}
	}
}

// -----------------------------
// rename_variable
// -----------------------------

// opRenameVariable renames every reference of old_name within the requested
// scope (and optional subtree path) and returns the rewrite count.
func (ctx *editCtx) opRenameVariable(edit map[string]any) (int, error) {
	oldName, _ := edit["old_name"].(string)
	newName, _ := edit["new_name"].(string)
	if oldName == "" || newName == "" {
		return 0, editErr(CodeBadSpec, "rename_variable requires old_name and new_name")
	}
	scopeID, _ := edit["scope"].(string)
	if scopeID == "" {
		scopeID = "all"
	}
	limitPath, _ := edit["path"].(string)
	if limitPath != "" {
		if _, err := ParsePath(limitPath); err != nil {
			return 0, &EditError{Code: CodeBadPath, Msg: err.Error(), Path: limitPath}
		}
	}

	if len(FindVariableReferences(ctx.prog, oldName, scopeID)) == 0 {
		return 0, editErr("E_NOT_FOUND", "variable %q not found in scope %q", oldName, scopeID)
	}

	r := &renamer{old: oldName, new: newName, scope: scopeID, limit: limitPath}
	for i, s := range ctx.prog {
		if stmt, ok := s.(map[string]any); ok {
			r.stmt(stmt, "global", []PathSeg{seqSeg(i)})
		}
	}
	return r.changed, nil
}

type renamer struct {
	old     string
	new     string
	scope   string
	limit   string
	changed int
}

func (r *renamer) inScope(scopeID string) bool {
	return r.scope == "all" || r.scope == scopeID
}

func (r *renamer) inSubtree(path []PathSeg) bool {
	return r.limit == "" || strings.HasPrefix(PathString(path), r.limit)
}

func (r *renamer) expr(node any, path []PathSeg) {
	switch e := node.(type) {
	case []any:
		for i, x := range e {
			r.expr(x, append(cloneSegs(path), seqSeg(i)))
		}
	case map[string]any:
		if name, ok := e["var"].(string); ok && len(e) == 1 {
			if name == r.old && r.inSubtree(path) {
				e["var"] = r.new
				r.changed++
			}
			return
		}
		if call, ok := e["call"].(map[string]any); ok && len(e) == 1 {
			if xs, ok := call["args"].([]any); ok {
				base := append(cloneSegs(path), fieldSeg("call"), fieldSeg("args"))
				for i, x := range xs {
					r.expr(x, append(cloneSegs(base), seqSeg(i)))
				}
			}
			return
		}
		for k, v := range e {
			r.expr(v, append(cloneSegs(path), fieldSeg(k)))
		}
	}
}

func (r *renamer) stmt(stmt map[string]any, scopeID string, path []PathSeg) {
	if r.inScope(scopeID) {
		if spec, ok := stmt["let"].(map[string]any); ok {
			if name, _ := spec["name"].(string); name == r.old && r.inSubtree(path) {
				spec["name"] = r.new
				r.changed++
			}
		}
		if spec, ok := stmt["set"].(map[string]any); ok {
			if name, _ := spec["name"].(string); name == r.old && r.inSubtree(path) {
				spec["name"] = r.new
				r.changed++
			}
		}
		for _, slot := range stmtExprSlots(stmt) {
			r.expr(slot.expr, append(cloneSegs(path), slot.path...))
		}
		if spec, ok := stmt["if"].(map[string]any); ok {
			for _, key := range []string{"then", "else"} {
				if block, ok := spec[key].([]any); ok {
					for j, s := range block {
						if st, ok := s.(map[string]any); ok {
							r.stmt(st, scopeID, append(cloneSegs(path), fieldSeg("if"), fieldSeg(key), seqSeg(j)))
						}
					}
				}
			}
		}
	}

	// Functions are their own scope regardless of the enclosing one.
	if spec, ok := stmt["def"].(map[string]any); ok {
		fnID, _ := spec["id"].(string)
		if fnID == "" {
			fnID, _ = spec["name"].(string)
		}
		if r.inScope(fnID) {
			if ps, ok := spec["params"].([]any); ok {
				for i, p := range ps {
					if name, ok := p.(string); ok && name == r.old {
						pPath := append(cloneSegs(path), fieldSeg("def"), fieldSeg("params"), seqSeg(i))
						if r.inSubtree(pPath) {
							ps[i] = r.new
							r.changed++
						}
					}
				}
			}
		}
		if body, ok := spec["body"].([]any); ok {
			for j, s := range body {
				if st, ok := s.(map[string]any); ok {
					r.stmt(st, fnID, append(cloneSegs(path), fieldSeg("def"), fieldSeg("body"), seqSeg(j)))
				}
			}
		}
	}
}

// -----------------------------
// extract_function
// -----------------------------

// opExtractFunction replaces a consecutive run of top-level statements with
// a call to a freshly inserted function whose body is the extracted block.
func (ctx *editCtx) opExtractFunction(edit map[string]any) error {
	fnName, _ := edit["function_name"].(string)
	if fnName == "" {
		return editErr(CodeBadSpec, "extract_function requires function_name")
	}
	fnID, _ := edit["function_id"].(string)

	rawIdx, ok := edit["statements"].([]any)
	if !ok || len(rawIdx) == 0 {
		return editErr(CodeBadSpec, "extract_function requires a non-empty statements list")
	}
	indices := make([]int, 0, len(rawIdx))
	for _, x := range rawIdx {
		n, ok := asInt(x)
		if !ok || n < 0 || int(n) >= len(ctx.prog) {
			return editErr(CodeBadSpec, "invalid statement index: %v", x)
		}
		indices = append(indices, int(n))
	}
	sort.Ints(indices)
	for i := 0; i+1 < len(indices); i++ {
		if indices[i+1] != indices[i]+1 {
			return editErr(CodeBadSpec, "statement indices must be consecutive")
		}
	}

	var params []any
	if ps, ok := edit["parameters"].([]any); ok {
		params = ps
	} else if edit["parameters"] != nil {
		return editErr(CodeBadSpec, "parameters must be a list")
	}

	insertAt := 0
	if v, ok := edit["insert_at"]; ok {
		n, ok := asInt(v)
		if !ok || n < 0 || int(n) > len(ctx.prog) {
			return editErr(CodeBadSpec, "invalid insert_at: %v", v)
		}
		insertAt = int(n)
	}
	replaceWithCall := true
	if v, ok := edit["replace_with_call"].(bool); ok {
		replaceWithCall = v
	}

	body := make([]any, 0, len(indices))
	for _, i := range indices {
		body = append(body, CopyTree(ctx.prog[i]))
	}

	def := map[string]any{"name": fnName, "params": params, "body": body}
	if params == nil {
		def["params"] = []any{}
	}
	if fnID != "" {
		def["id"] = fnID
	}
	fnStmt := map[string]any{"def": def}

	out := make([]any, 0, len(ctx.prog)+1)
	out = append(out, ctx.prog[:insertAt]...)
	out = append(out, fnStmt)
	out = append(out, ctx.prog[insertAt:]...)
	ctx.prog = out

	if !replaceWithCall {
		return nil
	}

	call := map[string]any{"args": paramArgs(def["params"].([]any))}
	if fnID != "" {
		call["id"] = fnID
	} else {
		call["name"] = fnName
	}
	callStmt := map[string]any{"expr": map[string]any{"call": call}}

	adjusted := make([]int, len(indices))
	for i, idx := range indices {
		if idx >= insertAt {
			adjusted[i] = idx + 1
		} else {
			adjusted[i] = idx
		}
	}
	ctx.prog[adjusted[0]] = callStmt
	for i := len(adjusted) - 1; i >= 1; i-- {
		k := adjusted[i]
		ctx.prog = append(ctx.prog[:k], ctx.prog[k+1:]...)
	}
	return nil
}

func paramArgs(params []any) []any {
	out := make([]any, 0, len(params))
	for _, p := range params {
		if name, ok := p.(string); ok {
			out = append(out, map[string]any{"var": name})
		}
	}
	return out
}

// -----------------------------
// Free variables
// -----------------------------

// AnalyzeFreeVariables returns the names read or written in the block but
// not defined within it; these are the natural parameters of an extracted
// function.
func AnalyzeFreeVariables(statements []any) map[string]bool {
	defined := map[string]bool{}
	used := map[string]bool{}

	var collect func(node any)
	collect = func(node any) {
		switch e := node.(type) {
		case []any:
			for _, x := range e {
				collect(x)
			}
		case map[string]any:
			if name, ok := e["var"].(string); ok && len(e) == 1 {
				used[name] = true
				return
			}
			for _, v := range e {
				collect(v)
			}
		}
	}

	// Statements of if branches are scanned right after their if statement.
	pending := append([]any{}, statements...)
	for len(pending) > 0 {
		s := pending[0]
		pending = pending[1:]
		stmt, ok := s.(map[string]any)
		if !ok {
			continue
		}
		for _, slot := range stmtExprSlots(stmt) {
			collect(slot.expr)
		}
		if spec, ok := stmt["set"].(map[string]any); ok {
			if name, _ := spec["name"].(string); name != "" && !defined[name] {
				used[name] = true
			}
		}
		if spec, ok := stmt["let"].(map[string]any); ok {
			if name, _ := spec["name"].(string); name != "" {
				defined[name] = true
			}
		}
		if spec, ok := stmt["if"].(map[string]any); ok {
			var nested []any
			for _, key := range []string{"then", "else"} {
				if b, ok := spec[key].([]any); ok {
					nested = append(nested, b...)
				}
			}
			pending = append(nested, pending...)
		}
	}

	free := map[string]bool{}
	for name := range used {
		if !defined[name] {
			free[name] = true
		}
	}
	return free
}

// FreeVariableNames is AnalyzeFreeVariables with a deterministic order.
func FreeVariableNames(statements []any) []string {
	set := AnalyzeFreeVariables(statements)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	case interface{ Int64() (int64, error) }:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
