// validate.go
//
// Semantic validator: structural shape, symbol resolution, call-style
// hygiene, operator identity and arity. Collects diagnostics without
// stopping; the composition entry point (ValidateProgram) layers the scope
// and type passes on top when requested.
package amorph

import "fmt"

// ValidateOptions selects the optional passes composed by ValidateProgram.
type ValidateOptions struct {
	PreferID    bool // warn on name-style calls that could use an id
	CheckScopes bool // run the scope analyzer
	CheckTypes  bool // run the type inferencer
}

// ValidateProgram runs the semantic validator and any optional passes over
// the raw (sequence or wrapper) program and returns the combined diagnostic
// list. All passes see the same normalized tree.
func ValidateProgram(raw any, opts ValidateOptions) []Diagnostic {
	program, _, err := Normalize(raw)
	if err != nil {
		return []Diagnostic{{
			Code:     CodeShape,
			Severity: SevError,
			Path:     "/",
			Message:  err.Error(),
		}}
	}
	issues := validateSemantics(program, opts.PreferID)
	if opts.CheckScopes {
		issues = append(issues, AnalyzeScopes(program)...)
	}
	if opts.CheckTypes {
		issues = append(issues, CheckTypes(program)...)
	}
	return issues
}

// symbolTable indexes the top-level function definitions.
type symbolTable struct {
	names    map[string]int    // name → definition count
	ids      map[string]int    // id → definition count
	nameToID map[string]string // unique name → its id (when both present)
}

func collectSymbols(program []any) symbolTable {
	st := symbolTable{
		names:    map[string]int{},
		ids:      map[string]int{},
		nameToID: map[string]string{},
	}
	for _, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			continue
		}
		d, ok := stmt["def"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := d["name"].(string)
		id, _ := d["id"].(string)
		if name != "" {
			st.names[name]++
			if id != "" {
				st.nameToID[name] = id
			}
		}
		if id != "" {
			st.ids[id]++
		}
	}
	return st
}

func validateSemantics(program []any, preferID bool) []Diagnostic {
	var issues []Diagnostic
	push := func(code, severity string, path []PathSeg, msg, hint string) {
		issues = append(issues, Diagnostic{
			Code: code, Severity: severity, Path: PathString(path), Message: msg, Hint: hint,
		})
	}

	st := collectSymbols(program)

	// Duplicate function names and ids.
	seenName := map[string]bool{}
	seenID := map[string]bool{}
	for i, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			push(CodeShape, SevError, []PathSeg{seqSeg(i)}, "statement must be an object", "")
			continue
		}
		d, ok := stmt["def"].(map[string]any)
		if !ok {
			continue
		}
		p := []PathSeg{seqSeg(i), fieldSeg("def")}
		if name, _ := d["name"].(string); name != "" && st.names[name] > 1 {
			if !seenName[name] {
				seenName[name] = true
				push(CodeDuplicateName, SevWarning, p,
					fmt.Sprintf("function name %q defined %d times", name, st.names[name]),
					"Address duplicated functions by id")
			}
		}
		if id, _ := d["id"].(string); id != "" && st.ids[id] > 1 {
			if !seenID[id] {
				seenID[id] = true
				push(CodeDuplicateID, SevError, p,
					fmt.Sprintf("function id %q defined %d times", id, st.ids[id]), "")
			}
		}
	}

	// Duplicate statement-level ids (ids are unique within a program).
	stmtIDs := map[string]string{}
	WalkStatements(program, func(stmt map[string]any, path []PathSeg) {
		id, _ := stmt["id"].(string)
		if id == "" {
			return
		}
		if prev, ok := stmtIDs[id]; ok {
			push(CodeDuplicateID, SevError, path,
				fmt.Sprintf("id %q already used at %s", id, prev), "")
			return
		}
		stmtIDs[id] = PathString(path)
	})

	sawName, sawID := false, false

	// checkExpr follows the expression grammar: var and call leaves, operator
	// applications, list literals. Operator diagnostics anchor at the
	// operator node's own path.
	var checkExpr func(node any, path []PathSeg)
	checkExpr = func(node any, path []PathSeg) {
		switch e := node.(type) {
		case []any:
			for i, x := range e {
				checkExpr(x, append(cloneSegs(path), seqSeg(i)))
			}
		case map[string]any:
			if _, ok := e["var"]; ok && len(e) == 1 {
				return
			}
			if c, ok := e["call"].(map[string]any); ok && len(e) == 1 {
				if id, present := c["id"]; present {
					s, ok := id.(string)
					if !ok || st.ids[s] == 0 {
						push(CodeUnknownFunc, SevError, path,
							fmt.Sprintf("unknown function id in call: %v", id), "")
					}
					sawID = true
				} else if n, present := c["name"]; present {
					s, ok := n.(string)
					if !ok || st.names[s] == 0 {
						push(CodeUnknownFunc, SevError, path,
							fmt.Sprintf("unknown function name in call: %v", n), "")
					} else if preferID && st.names[s] == 1 {
						if id, ok := st.nameToID[s]; ok {
							push(CodePreferID, SevWarning, path,
								fmt.Sprintf("call by name can use id %q", id),
								"Run: amorph migrate-calls <file> --to id")
						}
					}
					sawName = true
				} else {
					push(CodeShape, SevError, path, "call requires {name|id, args?}", "")
				}
				if xs, ok := c["args"].([]any); ok {
					base := append(cloneSegs(path), fieldSeg("call"), fieldSeg("args"))
					for i, x := range xs {
						checkExpr(x, append(cloneSegs(base), seqSeg(i)))
					}
				}
				return
			}
			if inner, ok := e["spread"]; ok && len(e) == 1 {
				checkExpr(inner, append(cloneSegs(path), fieldSeg("spread")))
				return
			}
			if isOpNode(e) {
				for op, payload := range e {
					norm := NormalizeOp(op)
					arity, known := OpArity(op)
					if !known {
						push(CodeUnknownOp, SevError, path,
							fmt.Sprintf("unknown operator: %s", op), "")
					} else {
						cnt := 1
						if xs, ok := payload.([]any); ok && norm != "not" {
							cnt = len(xs)
						}
						if !arity.Accepts(cnt) {
							push(CodeOpArity, SevError, path,
								fmt.Sprintf("operator %s expects %s args, got %d", norm, arity, cnt), "")
						}
					}
					base := append(cloneSegs(path), fieldSeg(norm))
					if xs, ok := payload.([]any); ok && norm != "not" {
						for i, x := range xs {
							checkExpr(x, append(cloneSegs(base), seqSeg(i)))
						}
					} else {
						checkExpr(payload, base)
					}
				}
				return
			}
			// Metadata-bearing object literal: walk its values.
			for k, v := range e {
				checkExpr(v, append(cloneSegs(path), fieldSeg(k)))
			}
		}
	}

	WalkStatements(program, func(stmt map[string]any, path []PathSeg) {
		for _, slot := range stmtExprSlots(stmt) {
			checkExpr(slot.expr, append(cloneSegs(path), slot.path...))
		}
	})

	if sawName && sawID {
		issues = append(issues, Diagnostic{
			Code:     CodeMixedCallStyle,
			Severity: SevWarning,
			Path:     "/",
			Message:  "mixed call styles (name and id) found",
			Hint:     "Unify with: amorph migrate-calls <file> --to id",
		})
	}

	return issues
}
