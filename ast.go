// ast.go
//
// Canonical AST model for Amorph programs.
//
// A program is a JSON tree: an ordered sequence of statement objects, or a
// {version, program} wrapper around one. Every statement and non-literal
// expression is a structured node: a map with one discriminator key plus an
// optional "id". Numbers are kept as json.Number end to end so that the
// Int/Num distinction and exact literal text survive every transformation.
//
// This file owns:
//   - decoding and wrapper normalization,
//   - discriminator and node-kind helpers,
//   - canonical paths ($[n] / fn[id] / field segments),
//   - deep copy, structural equality, and the generic walkers the analyzer,
//     edit, refactor and rewrite engines all share.
package amorph

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Statement discriminators, in the order the evaluator checks them.
var stmtKinds = []string{"let", "set", "def", "if", "return", "print", "expr"}

func isStmtKind(k string) bool {
	for _, s := range stmtKinds {
		if s == k {
			return true
		}
	}
	return false
}

// Header carries the optional wrapper metadata around a program sequence.
type Header struct {
	Version any
}

// DecodeJSON parses a JSON document preserving numbers as json.Number.
func DecodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var data any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeJSONBytes is DecodeJSON over a byte slice.
func DecodeJSONBytes(b []byte) (any, error) {
	return DecodeJSON(strings.NewReader(string(b)))
}

// Normalize accepts either the sequence form or the {version, program}
// wrapper and returns the statement sequence. The wrapper's metadata is
// returned alongside; a nil Header means the input was already a sequence.
func Normalize(raw any) ([]any, *Header, error) {
	if m, ok := raw.(map[string]any); ok {
		if p, ok := m["program"]; ok {
			seq, ok := p.([]any)
			if !ok {
				return nil, nil, fmt.Errorf("program field must be a JSON array")
			}
			return seq, &Header{Version: m["version"]}, nil
		}
	}
	if seq, ok := raw.([]any); ok {
		return seq, nil, nil
	}
	return nil, nil, fmt.Errorf("program must be a JSON array or a {program:[...]} wrapper")
}

// NodeKind returns the discriminator of a structured node: the statement
// keyword if one is present, else the single non-"id" key. Returns "" when
// the node has no recognizable discriminator.
func NodeKind(node map[string]any) string {
	for _, k := range stmtKinds {
		if _, ok := node[k]; ok {
			return k
		}
	}
	var keys []string
	for k := range node {
		if k != "id" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 1 {
		return keys[0]
	}
	return ""
}

// IsStatement reports whether the node carries a statement discriminator.
func IsStatement(node map[string]any) bool {
	return isStmtKind(NodeKind(node))
}

// isOpNode reports whether node is a single-discriminator operator
// application (not a var, call, or statement).
func isOpNode(node map[string]any) bool {
	if len(node) != 1 {
		return false
	}
	for k := range node {
		if k == "var" || k == "call" || isStmtKind(k) {
			return false
		}
	}
	return true
}

// NormalizeOp strips an operator's namespace: "math.add" dispatches as "add".
func NormalizeOp(op string) string {
	if i := strings.LastIndexByte(op, '.'); i >= 0 {
		return op[i+1:]
	}
	return op
}

// -----------------------------
// Canonical paths
// -----------------------------

// PathSeg is one step of a canonical path. Key "$" carries a sequence index,
// key "fn" carries a function id or name in Name, and any other Key names an
// object field.
type PathSeg struct {
	Key   string
	Index int
	Name  string
}

func seqSeg(i int) PathSeg      { return PathSeg{Key: "$", Index: i} }
func fnSeg(id string) PathSeg   { return PathSeg{Key: "fn", Name: id} }
func fieldSeg(k string) PathSeg { return PathSeg{Key: k} }
func (s PathSeg) isSeq() bool   { return s.Key == "$" }
func (s PathSeg) isFnRef() bool { return s.Key == "fn" }

// PathString renders segments as the canonical /-separated form.
func PathString(segs []PathSeg) string {
	if len(segs) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		switch {
		case s.isSeq():
			b.WriteString("$[")
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
		case s.isFnRef():
			b.WriteString("fn[")
			b.WriteString(s.Name)
			b.WriteByte(']')
		default:
			b.WriteString(s.Key)
		}
	}
	return b.String()
}

func validFieldSeg(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// ParsePath parses a canonical path string. Segment grammar: "$[n]",
// "fn[<id-or-name>]", or an alphanumeric field name (underscore and dash
// allowed). Anything else is rejected.
func ParsePath(path string) ([]PathSeg, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path must start with '/'")
	}
	var out []PathSeg
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			continue
		}
		switch {
		case strings.HasPrefix(s, "$[") && strings.HasSuffix(s, "]"):
			n, err := strconv.Atoi(s[2 : len(s)-1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid index segment: %s", s)
			}
			out = append(out, seqSeg(n))
		case strings.HasPrefix(s, "fn[") && strings.HasSuffix(s, "]"):
			name := s[3 : len(s)-1]
			if name == "" {
				return nil, fmt.Errorf("empty fn[] segment")
			}
			out = append(out, fnSeg(name))
		case validFieldSeg(s):
			out = append(out, fieldSeg(s))
		default:
			return nil, fmt.Errorf("invalid path segment: %s", s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty path")
	}
	return out, nil
}

// resolveFnSeg finds the top-level function definition addressed by a fn[x]
// segment: id match first, then a unique name match.
func resolveFnSeg(program []any, ref string) (map[string]any, error) {
	var byName []map[string]any
	for _, stmt := range program {
		m, ok := stmt.(map[string]any)
		if !ok {
			continue
		}
		d, ok := m["def"].(map[string]any)
		if !ok {
			continue
		}
		if id, _ := d["id"].(string); id == ref {
			return d, nil
		}
		if n, _ := d["name"].(string); n == ref {
			byName = append(byName, d)
		}
	}
	if len(byName) == 1 {
		return byName[0], nil
	}
	if len(byName) > 1 {
		return nil, fmt.Errorf("function name %q is ambiguous; address it by id", ref)
	}
	return nil, fmt.Errorf("function not found: %s", ref)
}

// ResolveNode walks a parsed path from the program root to the addressed
// node.
func ResolveNode(program []any, segs []PathSeg) (any, error) {
	var cur any = program
	for i, s := range segs {
		switch {
		case s.isSeq():
			seq, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("expected sequence at step %d", i)
			}
			if s.Index < 0 || s.Index >= len(seq) {
				return nil, fmt.Errorf("index out of range at step %d", i)
			}
			cur = seq[s.Index]
		case s.isFnRef():
			if i != 0 {
				return nil, fmt.Errorf("fn[] segment only valid at path root")
			}
			d, err := resolveFnSeg(program, s.Name)
			if err != nil {
				return nil, err
			}
			cur = d
		default:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected object at step %d", i)
			}
			v, ok := m[s.Key]
			if !ok {
				return nil, fmt.Errorf("missing key at step %d: %s", i, s.Key)
			}
			cur = v
		}
	}
	return cur, nil
}

// -----------------------------
// Tree utilities
// -----------------------------

// CopyTree deep-copies a JSON tree. json.Number and scalars are immutable
// and shared.
func CopyTree(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = CopyTree(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = CopyTree(v)
		}
		return out
	default:
		return node
	}
}

// numberEqual compares two json.Number literals numerically, so 1 and 1.0
// are equal while "1" (a string) is not.
func numberEqual(a, b json.Number) bool {
	if ai, err := a.Int64(); err == nil {
		if bi, err := b.Int64(); err == nil {
			return ai == bi
		}
	}
	af, aerr := a.Float64()
	bf, berr := b.Float64()
	return aerr == nil && berr == nil && af == bf
}

// EqualTree is structural equality over JSON trees, with numeric comparison
// for numbers.
func EqualTree(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !EqualTree(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !EqualTree(av[i], bv[i]) {
				return false
			}
		}
		return true
	case json.Number:
		switch bv := b.(type) {
		case json.Number:
			return numberEqual(av, bv)
		case int64:
			return numberEqual(av, json.Number(strconv.FormatInt(bv, 10)))
		case float64:
			f, err := av.Float64()
			return err == nil && f == bv
		}
		return false
	case int64:
		return EqualTree(json.Number(strconv.FormatInt(av, 10)), b)
	case float64:
		switch bv := b.(type) {
		case json.Number:
			f, err := bv.Float64()
			return err == nil && f == av
		case float64:
			return av == bv
		case int64:
			return av == float64(bv)
		}
		return false
	default:
		return a == b
	}
}

// stmtExprSlots lists the expression-bearing positions of a statement
// (let/set value, return, expr, if cond, print payload), paired with the
// relative path under the statement. `if` branches and def bodies are
// statement blocks, listed by stmtBlockSlots instead.
type exprSlot struct {
	path []PathSeg
	expr any
}

func stmtExprSlots(stmt map[string]any) []exprSlot {
	var out []exprSlot
	if spec, ok := stmt["let"].(map[string]any); ok {
		if v, ok := spec["value"]; ok {
			out = append(out, exprSlot{[]PathSeg{fieldSeg("let"), fieldSeg("value")}, v})
		}
	}
	if spec, ok := stmt["set"].(map[string]any); ok {
		if v, ok := spec["value"]; ok {
			out = append(out, exprSlot{[]PathSeg{fieldSeg("set"), fieldSeg("value")}, v})
		}
	}
	if v, ok := stmt["return"]; ok {
		out = append(out, exprSlot{[]PathSeg{fieldSeg("return")}, v})
	}
	if v, ok := stmt["expr"]; ok {
		out = append(out, exprSlot{[]PathSeg{fieldSeg("expr")}, v})
	}
	if spec, ok := stmt["if"].(map[string]any); ok {
		if v, ok := spec["cond"]; ok {
			out = append(out, exprSlot{[]PathSeg{fieldSeg("if"), fieldSeg("cond")}, v})
		}
	}
	if payload, ok := stmt["print"]; ok {
		out = append(out, exprSlot{[]PathSeg{fieldSeg("print")}, payload})
	}
	return out
}

// stmtBlockSlots lists the nested statement blocks of a statement with their
// relative paths: if/then, if/else and def/body.
type blockSlot struct {
	path  []PathSeg
	block []any
}

func stmtBlockSlots(stmt map[string]any) []blockSlot {
	var out []blockSlot
	if spec, ok := stmt["if"].(map[string]any); ok {
		if b, ok := spec["then"].([]any); ok {
			out = append(out, blockSlot{[]PathSeg{fieldSeg("if"), fieldSeg("then")}, b})
		}
		if b, ok := spec["else"].([]any); ok {
			out = append(out, blockSlot{[]PathSeg{fieldSeg("if"), fieldSeg("else")}, b})
		}
	}
	if spec, ok := stmt["def"].(map[string]any); ok {
		if b, ok := spec["body"].([]any); ok {
			out = append(out, blockSlot{[]PathSeg{fieldSeg("def"), fieldSeg("body")}, b})
		}
	}
	return out
}

// WalkStatements visits every statement in the program, including nested
// blocks, depth first in source order. The callback receives the statement
// and its canonical path.
func WalkStatements(program []any, visit func(stmt map[string]any, path []PathSeg)) {
	var walk func(block []any, prefix []PathSeg)
	walk = func(block []any, prefix []PathSeg) {
		for i, s := range block {
			stmt, ok := s.(map[string]any)
			if !ok {
				continue
			}
			p := append(append([]PathSeg{}, prefix...), seqSeg(i))
			visit(stmt, p)
			for _, b := range stmtBlockSlots(stmt) {
				walk(b.block, append(p, b.path...))
			}
		}
	}
	walk(program, nil)
}

func cloneSegs(segs []PathSeg) []PathSeg {
	out := make([]PathSeg, len(segs))
	copy(out, segs)
	return out
}
