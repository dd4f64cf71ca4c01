// acir.go
//
// Compact binary packing (ACIR: Amorph Compact Intermediate Representation).
//
// Layout: magic "ACIR" + one version byte + a CBOR-encoded document
// {v: <version>, s: <string table>, p: <program>} where identifier strings
// (ids, operator names, variable and function names, parameters, object
// keys) appear as integer indices into s. String *literals* stay verbatim.
// The JSON fallback format writes the same document as compact JSON with no
// magic header; Unpack sniffs the magic to pick the decoder.
//
// Statements encode as small tagged tuples:
//
//	["l", name, value (, id)]          let
//	["s", name, value (, id)]          set
//	["d", name, params, body, fnid (, id)]  def
//	["i", cond, then, else (, id)]     if
//	["r", value (, id)]                return
//	["p", [args] (, id)]               print
//	["x", value (, id)]                expr
//
// and expressions as ["v", sym], ["c", byID, sym, args], ["o", sym, args],
// ["spread", e], ["obj", [[keySym, v]...]]. Ids round-trip verbatim. Unpack
// returns a normalized tree: a one-element operand list (of an operator
// other than `not`, or of print) comes back as the bare operand unless that
// operand is itself a list literal; `if` always carries then and else; defs
// and calls always carry params and args.
package amorph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

// ACIR format constants.
const (
	acirMagic   = "ACIR"
	acirVersion = 1
)

type acirDoc struct {
	V int      `cbor:"v" json:"v"`
	S []string `cbor:"s" json:"s"`
	P []any    `cbor:"p" json:"p"`
}

var acirEncMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// -----------------------------
// String interning
// -----------------------------

func collectStrings(node any, acc map[string]bool) {
	switch n := node.(type) {
	case map[string]any:
		if id, ok := n["id"].(string); ok {
			acc[id] = true
		}
		if isOpNode(n) {
			for op := range n {
				acc[op] = true
			}
		}
		if v, ok := n["var"].(string); ok {
			acc[v] = true
		}
		if c, ok := n["call"].(map[string]any); ok {
			if s, ok := c["name"].(string); ok {
				acc[s] = true
			}
			if s, ok := c["id"].(string); ok {
				acc[s] = true
			}
		}
		for _, key := range []string{"let", "set"} {
			if s, ok := n[key].(map[string]any); ok {
				if name, ok := s["name"].(string); ok {
					acc[name] = true
				}
			}
		}
		if d, ok := n["def"].(map[string]any); ok {
			if s, ok := d["name"].(string); ok {
				acc[s] = true
			}
			if s, ok := d["id"].(string); ok {
				acc[s] = true
			}
			if ps, ok := d["params"].([]any); ok {
				for _, p := range ps {
					if s, ok := p.(string); ok {
						acc[s] = true
					}
				}
			}
		}
		// Object-literal keys.
		if !isOpNode(n) && NodeKind(n) == "" {
			for k := range n {
				acc[k] = true
			}
		}
		for _, v := range n {
			collectStrings(v, acc)
		}
	case []any:
		for _, x := range n {
			collectStrings(x, acc)
		}
	}
}

// -----------------------------
// Encoding
// -----------------------------

type acirEncoder struct {
	table map[string]int
}

func (e *acirEncoder) sym(s string) (int, error) {
	i, ok := e.table[s]
	if !ok {
		return 0, fmt.Errorf("string missing from intern table: %q", s)
	}
	return i, nil
}

func scalarForPack(v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil && !containsFloatMark(n.String()) {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("bad number literal: %s", n.String())
		}
		return f, nil
	}
	return v, nil
}

func containsFloatMark(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' || s[i] == 'e' || s[i] == 'E' {
			return true
		}
	}
	return false
}

func (e *acirEncoder) expr(node any) (any, error) {
	switch x := node.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case json.Number:
		return scalarForPack(x)
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			enc, err := e.expr(v)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case map[string]any:
		if name, ok := x["var"].(string); ok && len(x) == 1 {
			s, err := e.sym(name)
			if err != nil {
				return nil, err
			}
			return []any{"v", s}, nil
		}
		if c, ok := x["call"].(map[string]any); ok && len(x) == 1 {
			var args []any
			if xs, ok := c["args"].([]any); ok {
				for _, a := range xs {
					enc, err := e.expr(a)
					if err != nil {
						return nil, err
					}
					args = append(args, enc)
				}
			}
			if args == nil {
				args = []any{}
			}
			if id, ok := c["id"].(string); ok {
				s, err := e.sym(id)
				if err != nil {
					return nil, err
				}
				return []any{"c", int64(1), s, args}, nil
			}
			name, _ := c["name"].(string)
			s, err := e.sym(name)
			if err != nil {
				return nil, err
			}
			return []any{"c", int64(0), s, args}, nil
		}
		if inner, ok := x["spread"]; ok && len(x) == 1 {
			enc, err := e.expr(inner)
			if err != nil {
				return nil, err
			}
			return []any{"spread", enc}, nil
		}
		if isOpNode(x) {
			for op, payload := range x {
				s, err := e.sym(op)
				if err != nil {
					return nil, err
				}
				var operands []any
				if xs, ok := payload.([]any); ok && NormalizeOp(op) != "not" {
					operands = xs
				} else {
					operands = []any{payload}
				}
				args := make([]any, len(operands))
				for i, a := range operands {
					enc, err := e.expr(a)
					if err != nil {
						return nil, err
					}
					args[i] = enc
				}
				return []any{"o", s, args}, nil
			}
		}
		// Generic object literal: keys interned, deterministic order.
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]any, 0, len(keys))
		for _, k := range keys {
			ks, err := e.sym(k)
			if err != nil {
				return nil, err
			}
			enc, err := e.expr(x[k])
			if err != nil {
				return nil, err
			}
			items = append(items, []any{ks, enc})
		}
		return []any{"obj", items}, nil
	}
	return nil, fmt.Errorf("invalid expression for packing: %T", node)
}

func (e *acirEncoder) stmt(stmt map[string]any) (any, error) {
	withID := func(out []any) []any {
		if id, ok := stmt["id"].(string); ok {
			if s, err := e.sym(id); err == nil {
				return append(out, int64(s))
			}
		}
		return out
	}

	if s, ok := stmt["let"].(map[string]any); ok {
		name, _ := s["name"].(string)
		ns, err := e.sym(name)
		if err != nil {
			return nil, err
		}
		v, err := e.expr(s["value"])
		if err != nil {
			return nil, err
		}
		return withID([]any{"l", ns, v}), nil
	}
	if s, ok := stmt["set"].(map[string]any); ok {
		name, _ := s["name"].(string)
		ns, err := e.sym(name)
		if err != nil {
			return nil, err
		}
		v, err := e.expr(s["value"])
		if err != nil {
			return nil, err
		}
		return withID([]any{"s", ns, v}), nil
	}
	if d, ok := stmt["def"].(map[string]any); ok {
		name, _ := d["name"].(string)
		ns, err := e.sym(name)
		if err != nil {
			return nil, err
		}
		var params []any
		if ps, ok := d["params"].([]any); ok {
			for _, p := range ps {
				s, _ := p.(string)
				sym, err := e.sym(s)
				if err != nil {
					return nil, err
				}
				params = append(params, int64(sym))
			}
		}
		if params == nil {
			params = []any{}
		}
		var body []any
		if bs, ok := d["body"].([]any); ok {
			for _, b := range bs {
				m, ok := b.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("def body statement must be an object")
				}
				enc, err := e.stmt(m)
				if err != nil {
					return nil, err
				}
				body = append(body, enc)
			}
		}
		if body == nil {
			body = []any{}
		}
		fid := int64(-1)
		if id, ok := d["id"].(string); ok {
			s, err := e.sym(id)
			if err != nil {
				return nil, err
			}
			fid = int64(s)
		}
		return withID([]any{"d", ns, params, body, fid}), nil
	}
	if s, ok := stmt["if"].(map[string]any); ok {
		cond, err := e.expr(s["cond"])
		if err != nil {
			return nil, err
		}
		encBlock := func(key string) ([]any, error) {
			out := []any{}
			if bs, ok := s[key].([]any); ok {
				for _, b := range bs {
					m, ok := b.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("%s block statement must be an object", key)
					}
					enc, err := e.stmt(m)
					if err != nil {
						return nil, err
					}
					out = append(out, enc)
				}
			}
			return out, nil
		}
		thenb, err := encBlock("then")
		if err != nil {
			return nil, err
		}
		elseb, err := encBlock("else")
		if err != nil {
			return nil, err
		}
		return withID([]any{"i", cond, thenb, elseb}), nil
	}
	if v, ok := stmt["return"]; ok {
		enc, err := e.expr(v)
		if err != nil {
			return nil, err
		}
		return withID([]any{"r", enc}), nil
	}
	if payload, ok := stmt["print"]; ok {
		args := []any{}
		appendOne := func(x any) error {
			enc, err := e.expr(x)
			if err != nil {
				return err
			}
			args = append(args, enc)
			return nil
		}
		if xs, ok := payload.([]any); ok {
			for _, x := range xs {
				if err := appendOne(x); err != nil {
					return nil, err
				}
			}
		} else if err := appendOne(payload); err != nil {
			return nil, err
		}
		return withID([]any{"p", args}), nil
	}
	if v, ok := stmt["expr"]; ok {
		enc, err := e.expr(v)
		if err != nil {
			return nil, err
		}
		return withID([]any{"x", enc}), nil
	}
	return nil, fmt.Errorf("unknown statement for packing")
}

// EncodeACIR builds the intern document for a program sequence.
func EncodeACIR(program []any) (*acirDoc, error) {
	acc := map[string]bool{}
	collectStrings(program, acc)
	table := make([]string, 0, len(acc))
	for s := range acc {
		table = append(table, s)
	}
	sort.Strings(table)
	index := make(map[string]int, len(table))
	for i, s := range table {
		index[s] = i
	}
	enc := &acirEncoder{table: index}
	out := make([]any, len(program))
	for i, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("statement %d is not an object", i)
		}
		e, err := enc.stmt(stmt)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return &acirDoc{V: acirVersion, S: table, P: out}, nil
}

// -----------------------------
// Decoding
// -----------------------------

type acirDecoder struct {
	strings []string
}

func (d *acirDecoder) unsym(v any) (string, error) {
	i, ok := asInt(v)
	if !ok || i < 0 || int(i) >= len(d.strings) {
		return "", fmt.Errorf("bad string index: %v", v)
	}
	return d.strings[i], nil
}

// numTree converts decoded CBOR/JSON scalars back to the canonical AST
// number representation (json.Number).
func numTree(v any) any {
	switch n := v.(type) {
	case int64:
		return json.Number(strconv.FormatInt(n, 10))
	case uint64:
		return json.Number(strconv.FormatUint(n, 10))
	case float64:
		return json.Number(strconv.FormatFloat(n, 'g', -1, 64))
	case json.Number:
		return n
	}
	return v
}

func (d *acirDecoder) expr(node any) (any, error) {
	switch x := node.(type) {
	case nil, bool, string:
		return x, nil
	case int64, uint64, float64, json.Number:
		return numTree(x), nil
	case []any:
		if len(x) == 0 {
			return []any{}, nil
		}
		if tag, ok := x[0].(string); ok {
			switch tag {
			case "v":
				if len(x) == 2 {
					name, err := d.unsym(x[1])
					if err != nil {
						return nil, err
					}
					return map[string]any{"var": name}, nil
				}
			case "c":
				if len(x) == 4 {
					mode, _ := asInt(x[1])
					ref, err := d.unsym(x[2])
					if err != nil {
						return nil, err
					}
					rawArgs, _ := x[3].([]any)
					args := make([]any, len(rawArgs))
					for i, a := range rawArgs {
						v, err := d.expr(a)
						if err != nil {
							return nil, err
						}
						args[i] = v
					}
					call := map[string]any{"args": args}
					if mode == 1 {
						call["id"] = ref
					} else {
						call["name"] = ref
					}
					return map[string]any{"call": call}, nil
				}
			case "o":
				if len(x) == 3 {
					op, err := d.unsym(x[1])
					if err != nil {
						return nil, err
					}
					rawArgs, _ := x[2].([]any)
					vals := make([]any, len(rawArgs))
					for i, a := range rawArgs {
						v, err := d.expr(a)
						if err != nil {
							return nil, err
						}
						vals[i] = v
					}
					if len(vals) == 1 {
						if _, isList := vals[0].([]any); !isList || NormalizeOp(op) == "not" {
							return map[string]any{op: vals[0]}, nil
						}
					}
					return map[string]any{op: vals}, nil
				}
			case "spread":
				if len(x) == 2 {
					v, err := d.expr(x[1])
					if err != nil {
						return nil, err
					}
					return map[string]any{"spread": v}, nil
				}
			case "obj":
				if len(x) == 2 {
					items, _ := x[1].([]any)
					out := make(map[string]any, len(items))
					for _, it := range items {
						pair, ok := it.([]any)
						if !ok || len(pair) != 2 {
							return nil, fmt.Errorf("bad obj pair")
						}
						k, err := d.unsym(pair[0])
						if err != nil {
							return nil, err
						}
						v, err := d.expr(pair[1])
						if err != nil {
							return nil, err
						}
						out[k] = v
					}
					return out, nil
				}
			}
		}
		out := make([]any, len(x))
		for i, v := range x {
			dv, err := d.expr(v)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	}
	return numTree(node), nil
}

func (d *acirDecoder) stmt(node any) (map[string]any, error) {
	tup, ok := node.([]any)
	if !ok || len(tup) == 0 {
		return nil, fmt.Errorf("bad statement tuple")
	}
	tag, _ := tup[0].(string)
	baseLen := map[string]int{"l": 3, "s": 3, "d": 5, "i": 4, "r": 2, "p": 2, "x": 2}[tag]
	if baseLen == 0 {
		return nil, fmt.Errorf("unknown statement tag: %q", tag)
	}

	sid := ""
	if len(tup) == baseLen+1 {
		if _, ok := asInt(tup[len(tup)-1]); ok {
			s, err := d.unsym(tup[len(tup)-1])
			if err != nil {
				return nil, err
			}
			sid = s
			tup = tup[:baseLen]
		}
	}
	if len(tup) != baseLen {
		return nil, fmt.Errorf("bad %q tuple length: %d", tag, len(tup))
	}

	attach := func(out map[string]any) map[string]any {
		if sid != "" {
			out["id"] = sid
		}
		return out
	}

	switch tag {
	case "l", "s":
		name, err := d.unsym(tup[1])
		if err != nil {
			return nil, err
		}
		v, err := d.expr(tup[2])
		if err != nil {
			return nil, err
		}
		key := "let"
		if tag == "s" {
			key = "set"
		}
		return attach(map[string]any{key: map[string]any{"name": name, "value": v}}), nil
	case "d":
		name, err := d.unsym(tup[1])
		if err != nil {
			return nil, err
		}
		rawParams, _ := tup[2].([]any)
		params := make([]any, len(rawParams))
		for i, p := range rawParams {
			s, err := d.unsym(p)
			if err != nil {
				return nil, err
			}
			params[i] = s
		}
		rawBody, _ := tup[3].([]any)
		body := make([]any, len(rawBody))
		for i, b := range rawBody {
			s, err := d.stmt(b)
			if err != nil {
				return nil, err
			}
			body[i] = s
		}
		def := map[string]any{"name": name, "params": params, "body": body}
		if fid, ok := asInt(tup[4]); ok && fid >= 0 {
			id, err := d.unsym(tup[4])
			if err != nil {
				return nil, err
			}
			def["id"] = id
		}
		return attach(map[string]any{"def": def}), nil
	case "i":
		cond, err := d.expr(tup[1])
		if err != nil {
			return nil, err
		}
		decBlock := func(v any) ([]any, error) {
			raw, _ := v.([]any)
			out := make([]any, len(raw))
			for i, b := range raw {
				s, err := d.stmt(b)
				if err != nil {
					return nil, err
				}
				out[i] = s
			}
			return out, nil
		}
		thenb, err := decBlock(tup[2])
		if err != nil {
			return nil, err
		}
		elseb, err := decBlock(tup[3])
		if err != nil {
			return nil, err
		}
		return attach(map[string]any{"if": map[string]any{"cond": cond, "then": thenb, "else": elseb}}), nil
	case "r":
		v, err := d.expr(tup[1])
		if err != nil {
			return nil, err
		}
		return attach(map[string]any{"return": v}), nil
	case "p":
		raw, _ := tup[1].([]any)
		args := make([]any, len(raw))
		for i, a := range raw {
			v, err := d.expr(a)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		var payload any = args
		if len(args) == 1 {
			if _, isList := args[0].([]any); !isList {
				payload = args[0]
			}
		}
		return attach(map[string]any{"print": payload}), nil
	case "x":
		v, err := d.expr(tup[1])
		if err != nil {
			return nil, err
		}
		return attach(map[string]any{"expr": v}), nil
	}
	return nil, fmt.Errorf("unknown statement tag: %q", tag)
}

// DecodeACIR reconstructs the canonical program from an intern document.
func DecodeACIR(doc *acirDoc) ([]any, error) {
	d := &acirDecoder{strings: doc.S}
	out := make([]any, len(doc.P))
	for i, s := range doc.P {
		stmt, err := d.stmt(s)
		if err != nil {
			return nil, err
		}
		out[i] = stmt
	}
	return out, nil
}

// -----------------------------
// Public pack/unpack
// -----------------------------

// Pack encodes a program (sequence or wrapper) into ACIR bytes. Format
// "cbor" (default) produces magic+version+CBOR; "json" produces the intern
// document as compact JSON.
func Pack(data any, format string) ([]byte, string, error) {
	program, _, err := Normalize(data)
	if err != nil {
		return nil, "", err
	}
	doc, err := EncodeACIR(program)
	if err != nil {
		return nil, "", err
	}
	switch format {
	case "", "cbor":
		body, err := acirEncMode.Marshal(doc)
		if err != nil {
			return nil, "", fmt.Errorf("cbor encode: %w", err)
		}
		var buf bytes.Buffer
		buf.WriteString(acirMagic)
		buf.WriteByte(acirVersion)
		buf.Write(body)
		return buf.Bytes(), "cbor", nil
	case "json":
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, "", err
		}
		return b, "json", nil
	}
	return nil, "", fmt.Errorf("unknown pack format: %q", format)
}

// Unpack decodes ACIR bytes back to the canonical program. With format ""
// the magic header selects the decoder.
func Unpack(buf []byte, format string) ([]any, error) {
	hasMagic := len(buf) > len(acirMagic)+1 && string(buf[:len(acirMagic)]) == acirMagic
	if format == "" {
		if hasMagic {
			format = "cbor"
		} else {
			format = "json"
		}
	}
	var doc acirDoc
	switch format {
	case "cbor":
		if !hasMagic {
			return nil, fmt.Errorf("missing ACIR magic header")
		}
		if buf[len(acirMagic)] != acirVersion {
			return nil, fmt.Errorf("unsupported ACIR version: %d", buf[len(acirMagic)])
		}
		if err := cbor.Unmarshal(buf[len(acirMagic)+1:], &doc); err != nil {
			return nil, fmt.Errorf("cbor decode: %w", err)
		}
	case "json":
		dec := json.NewDecoder(bytes.NewReader(buf))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("json decode: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown unpack format: %q", format)
	}
	if doc.V != acirVersion {
		return nil, fmt.Errorf("unsupported ACIR document version: %d", doc.V)
	}
	return DecodeACIR(&doc)
}
