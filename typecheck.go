// typecheck.go
//
// Optional bottom-up type inference over the value-expression sublanguage.
//
// Types are deliberately shallow: Int, Num, Str, Bool, Null, List<T>,
// Function(arity), plus the two escape hatches — Any absorbs every input
// silently, Unknown records an inference gap without forcing failure.
// Variables and calls infer to Unknown (cross-function inference is out of
// scope), which keeps the pass free of false positives downstream.
package amorph

import (
	"encoding/json"
	"fmt"
	"strings"
)

type TypeKind int

const (
	TInt TypeKind = iota
	TNum
	TStr
	TBool
	TNull
	TList
	TFunc
	TAny
	TUnknown
)

// Type is a shallow structural type. Elem is set for TList, Arity for TFunc.
type Type struct {
	Kind  TypeKind
	Elem  *Type
	Arity int
}

var (
	typeInt     = Type{Kind: TInt}
	typeNum     = Type{Kind: TNum}
	typeStr     = Type{Kind: TStr}
	typeBool    = Type{Kind: TBool}
	typeNull    = Type{Kind: TNull}
	typeAny     = Type{Kind: TAny}
	typeUnknown = Type{Kind: TUnknown}
)

func listOf(elem Type) Type {
	e := elem
	return Type{Kind: TList, Elem: &e}
}

func (t Type) String() string {
	switch t.Kind {
	case TInt:
		return "int"
	case TNum:
		return "float"
	case TStr:
		return "str"
	case TBool:
		return "bool"
	case TNull:
		return "null"
	case TList:
		if t.Elem == nil {
			return "list[unknown]"
		}
		return "list[" + t.Elem.String() + "]"
	case TFunc:
		return fmt.Sprintf("function/%d", t.Arity)
	case TAny:
		return "any"
	default:
		return "unknown"
	}
}

func (t Type) isNumeric() bool { return t.Kind == TInt || t.Kind == TNum }
func (t Type) isLoose() bool   { return t.Kind == TAny || t.Kind == TUnknown }

// joinTypes is the element join used by list: equal kinds keep the kind,
// Int⊔Num is Num, anything else falls back to Any.
func joinTypes(a, b Type) Type {
	if a.Kind == b.Kind {
		if a.Kind == TList {
			if a.Elem != nil && b.Elem != nil {
				return listOf(joinTypes(*a.Elem, *b.Elem))
			}
			return listOf(typeUnknown)
		}
		return a
	}
	if a.Kind == TUnknown {
		return b
	}
	if b.Kind == TUnknown {
		return a
	}
	if a.isNumeric() && b.isNumeric() {
		return typeNum
	}
	return typeAny
}

// typeEnv is the scope chain of inferred variable types.
type typeEnv struct {
	vars   map[string]Type
	parent *typeEnv
}

func newTypeEnv(parent *typeEnv) *typeEnv {
	return &typeEnv{vars: map[string]Type{}, parent: parent}
}

func (e *typeEnv) define(name string, t Type) { e.vars[name] = t }

func (e *typeEnv) lookup(name string) Type {
	for s := e; s != nil; s = s.parent {
		if t, ok := s.vars[name]; ok {
			return t
		}
	}
	return typeUnknown
}

// CheckTypes runs the inference pass and returns its diagnostics.
func CheckTypes(program []any) []Diagnostic {
	c := &typeChecker{}
	env := newTypeEnv(nil)
	for i, s := range program {
		if stmt, ok := s.(map[string]any); ok {
			c.stmt(stmt, env, []PathSeg{seqSeg(i)})
		}
	}
	return c.issues
}

type typeChecker struct {
	issues []Diagnostic
}

func (c *typeChecker) push(code, severity string, path []PathSeg, msg, hint string) {
	c.issues = append(c.issues, Diagnostic{
		Code: code, Severity: severity, Path: PathString(path), Message: msg, Hint: hint,
	})
}

func typeNames(ts []Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (c *typeChecker) infer(expr any, env *typeEnv, path []PathSeg) Type {
	switch e := expr.(type) {
	case nil:
		return typeNull
	case bool:
		return typeBool
	case string:
		return typeStr
	case int64, int:
		return typeInt
	case float64:
		return typeNum
	case []any:
		if len(e) == 0 {
			return listOf(typeUnknown)
		}
		elem := c.infer(e[0], env, append(cloneSegs(path), seqSeg(0)))
		for i := 1; i < len(e); i++ {
			elem = joinTypes(elem, c.infer(e[i], env, append(cloneSegs(path), seqSeg(i))))
		}
		return listOf(elem)
	case map[string]any:
		if name, ok := e["var"].(string); ok && len(e) == 1 {
			return env.lookup(name)
		}
		if _, ok := e["call"]; ok && len(e) == 1 {
			return typeUnknown
		}
		if isOpNode(e) {
			for op, payload := range e {
				return c.inferOp(op, payload, env, path)
			}
		}
		return typeUnknown
	case json.Number:
		if strings.ContainsAny(e.String(), ".eE") {
			return typeNum
		}
		return typeInt
	default:
		return typeUnknown
	}
}

func (c *typeChecker) operandTypes(payload any, env *typeEnv, path []PathSeg, op string) []Type {
	base := append(cloneSegs(path), fieldSeg(op))
	if xs, ok := payload.([]any); ok {
		out := make([]Type, len(xs))
		for i, x := range xs {
			out[i] = c.infer(x, env, append(cloneSegs(base), seqSeg(i)))
		}
		return out
	}
	return []Type{c.infer(payload, env, base)}
}

// broadClass buckets types for eq/ne compatibility.
func broadClass(t Type) string {
	switch {
	case t.isNumeric():
		return "numeric"
	case t.Kind == TStr:
		return "string"
	case t.Kind == TList:
		return "list"
	case t.Kind == TBool:
		return "bool"
	case t.Kind == TNull:
		return "null"
	default:
		return "any"
	}
}

func (c *typeChecker) inferOp(rawOp string, payload any, env *typeEnv, path []PathSeg) Type {
	op := NormalizeOp(rawOp)
	args := c.operandTypes(payload, env, path, op)

	switch op {
	case "add", "sub", "mul", "div", "mod", "pow":
		allNum, allStr := true, true
		for _, t := range args {
			if !t.isNumeric() && !t.isLoose() {
				allNum = false
			}
			if t.Kind != TStr && !t.isLoose() {
				allStr = false
			}
		}
		if op == "add" && allStr && !allNum {
			return typeStr
		}
		if !allNum {
			if op == "add" {
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("add expects all numeric or all string, got %s", typeNames(args)),
					"Convert arguments to same type")
			} else {
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("%s expects numeric arguments, got %s", op, typeNames(args)), "")
			}
			return typeUnknown
		}
		for _, t := range args {
			if t.isLoose() {
				return typeUnknown
			}
		}
		for _, t := range args {
			if t.Kind == TNum {
				return typeNum
			}
		}
		if op == "div" {
			// Integer division only when divisible; statically undecidable.
			return typeNum
		}
		return typeInt

	case "eq", "ne":
		if len(args) == 2 {
			a, b := broadClass(args[0]), broadClass(args[1])
			if a != b && a != "any" && b != "any" && a != "null" && b != "null" {
				c.push(CodeTypeSuspicious, SevWarning, path,
					fmt.Sprintf("%s compares %s with %s", op, args[0], args[1]),
					"Comparison across unrelated types is always false")
			}
		}
		return typeBool

	case "lt", "le", "gt", "ge":
		if len(args) == 2 {
			okNum := (args[0].isNumeric() || args[0].isLoose()) && (args[1].isNumeric() || args[1].isLoose())
			okStr := (args[0].Kind == TStr || args[0].isLoose()) && (args[1].Kind == TStr || args[1].isLoose())
			if !okNum && !okStr {
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("%s orders numbers or strings, got %s", op, typeNames(args)), "")
			}
		}
		return typeBool

	case "and", "or", "not":
		return typeBool

	case "list":
		if len(args) == 0 {
			return listOf(typeUnknown)
		}
		elem := args[0]
		for _, t := range args[1:] {
			elem = joinTypes(elem, t)
		}
		return listOf(elem)

	case "len":
		if len(args) == 1 && args[0].Kind != TList && args[0].Kind != TStr && !args[0].isLoose() {
			c.push(CodeTypeMismatch, SevError, path,
				fmt.Sprintf("len expects a list or string, got %s", args[0]), "")
		}
		return typeInt

	case "get":
		if len(args) == 2 {
			if args[1].Kind != TInt && !args[1].isLoose() {
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("get index must be int, got %s", args[1]), "")
			}
			switch {
			case args[0].Kind == TList:
				if args[0].Elem != nil {
					return *args[0].Elem
				}
				return typeUnknown
			case args[0].Kind == TStr:
				return typeStr
			case args[0].isLoose():
				return typeUnknown
			default:
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("get expects a list or string container, got %s", args[0]), "")
			}
		}
		return typeUnknown

	case "has":
		if len(args) == 2 {
			okList := args[0].Kind == TList || args[0].isLoose()
			okStr := args[0].Kind == TStr
			if !okList && !okStr {
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("has expects a list or string container, got %s", args[0]), "")
			}
			if okStr && args[1].Kind != TStr && !args[1].isLoose() {
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("has on a string expects a string needle, got %s", args[1]), "")
			}
		}
		return typeBool

	case "concat":
		allList, allStr := true, true
		for _, t := range args {
			if t.Kind != TList && !t.isLoose() {
				allList = false
			}
			if t.Kind != TStr && !t.isLoose() {
				allStr = false
			}
		}
		switch {
		case allStr && !allList:
			return typeStr
		case allList:
			elem := typeUnknown
			for _, t := range args {
				if t.Kind == TList && t.Elem != nil {
					elem = joinTypes(elem, *t.Elem)
				}
			}
			return listOf(elem)
		default:
			c.push(CodeTypeMismatch, SevError, path,
				fmt.Sprintf("concat expects all lists or all strings, got %s", typeNames(args)), "")
			return typeUnknown
		}

	case "range":
		for _, t := range args {
			if !t.isNumeric() && !t.isLoose() {
				c.push(CodeTypeMismatch, SevError, path,
					fmt.Sprintf("range expects numeric bounds, got %s", typeNames(args)), "")
				break
			}
		}
		return listOf(typeInt)

	case "input":
		if len(args) == 1 && args[0].Kind != TStr && !args[0].isLoose() {
			c.push(CodeTypeMismatch, SevError, path,
				fmt.Sprintf("input prompt must be a string, got %s", args[0]), "")
		}
		return typeStr

	case "int":
		return typeInt
	}

	return typeUnknown
}

func (c *typeChecker) block(block []any, env *typeEnv, prefix []PathSeg) {
	for i, s := range block {
		if stmt, ok := s.(map[string]any); ok {
			c.stmt(stmt, env, append(cloneSegs(prefix), seqSeg(i)))
		}
	}
}

func (c *typeChecker) stmt(stmt map[string]any, env *typeEnv, path []PathSeg) {
	if spec, ok := stmt["let"].(map[string]any); ok {
		if v, ok := spec["value"]; ok {
			t := c.infer(v, env, append(cloneSegs(path), fieldSeg("let"), fieldSeg("value")))
			if name, _ := spec["name"].(string); name != "" {
				env.define(name, t)
			}
		}
	}
	if spec, ok := stmt["set"].(map[string]any); ok {
		if v, ok := spec["value"]; ok {
			c.infer(v, env, append(cloneSegs(path), fieldSeg("set"), fieldSeg("value")))
		}
	}
	if v, ok := stmt["return"]; ok {
		c.infer(v, env, append(cloneSegs(path), fieldSeg("return")))
	}
	if v, ok := stmt["expr"]; ok {
		c.infer(v, env, append(cloneSegs(path), fieldSeg("expr")))
	}
	if payload, ok := stmt["print"]; ok {
		base := append(cloneSegs(path), fieldSeg("print"))
		if xs, ok := payload.([]any); ok {
			for i, x := range xs {
				c.infer(x, env, append(cloneSegs(base), seqSeg(i)))
			}
		} else {
			c.infer(payload, env, base)
		}
	}
	if spec, ok := stmt["if"].(map[string]any); ok {
		if v, ok := spec["cond"]; ok {
			c.infer(v, env, append(cloneSegs(path), fieldSeg("if"), fieldSeg("cond")))
		}
		for _, key := range []string{"then", "else"} {
			if block, ok := spec[key].([]any); ok {
				c.block(block, newTypeEnv(env), append(cloneSegs(path), fieldSeg("if"), fieldSeg(key)))
			}
		}
	}
	if spec, ok := stmt["def"].(map[string]any); ok {
		fnEnv := newTypeEnv(env)
		if ps, ok := spec["params"].([]any); ok {
			for _, p := range ps {
				if name, ok := p.(string); ok {
					fnEnv.define(name, typeAny)
				}
			}
		}
		if body, ok := spec["body"].([]any); ok {
			c.block(body, fnEnv, append(cloneSegs(path), fieldSeg("def"), fieldSeg("body")))
		}
	}
}
