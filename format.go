// format.go
//
// Canonical serialization and the bijective key minifier.
//
// Canonical form: UTF-8, LF line endings, two-space indentation, and a
// deterministic key order — within a structured node "id" first, then the
// discriminator, then the remaining keys lexicographically; plain objects
// put "id" (when present) first and sort the rest. Canonicalization is a
// pure function of the tree, so it is idempotent by construction and
// byte-identical across runs.
//
// Minification maps long keys to short tokens through a fixed bijective
// keymap; unminify applies the inverse map. Values are never touched.
package amorph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// keyMap is the bijective long→short key table. The reverse table is derived
// once at init.
var keyMap = map[string]string{
	// statements and fields
	"let":    "l",
	"set":    "s",
	"def":    "d",
	"if":     "i",
	"then":   "t",
	"else":   "e",
	"return": "r",
	"print":  "p",
	"expr":   "x",
	"var":    "v",
	"call":   "c",
	"name":   "n",
	"value":  "val",
	"params": "pa",
	"body":   "b",
	"cond":   "co",
	"id":     "id",
}

var revKeyMap = func() map[string]string {
	m := make(map[string]string, len(keyMap))
	for k, v := range keyMap {
		m[v] = k
	}
	return m
}()

func transformKeys(node any, mapping map[string]string) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			nk := k
			if mapped, ok := mapping[k]; ok {
				nk = mapped
			}
			out[nk] = transformKeys(v, mapping)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = transformKeys(v, mapping)
		}
		return out
	default:
		return node
	}
}

// MinifyKeys rewrites a tree with the short-key table.
func MinifyKeys(node any) any { return transformKeys(node, keyMap) }

// UnminifyKeys is the exact inverse of MinifyKeys.
func UnminifyKeys(node any) any { return transformKeys(node, revKeyMap) }

// canonicalKeyOrder returns the emission order for an object's keys: "id"
// first, then the node's discriminator, then everything else sorted.
func canonicalKeyOrder(m map[string]any) []string {
	disc := NodeKind(m)
	var rest []string
	for k := range m {
		if k == "id" || (k == disc && disc != "") {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	var out []string
	if _, ok := m["id"]; ok {
		out = append(out, "id")
	}
	if disc != "" {
		out = append(out, disc)
	}
	return append(out, rest...)
}

func writeScalar(buf *bytes.Buffer, v any) error {
	switch s := v.(type) {
	case json.Number:
		buf.WriteString(s.String())
		return nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}

func writeCanonical(buf *bytes.Buffer, node any, indent int, compact bool) error {
	pad := func(n int) {
		if compact {
			return
		}
		for i := 0; i < n; i++ {
			buf.WriteString("  ")
		}
	}
	switch n := node.(type) {
	case map[string]any:
		if len(n) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteByte('{')
		if !compact {
			buf.WriteByte('\n')
		}
		keys := canonicalKeyOrder(n)
		for i, k := range keys {
			pad(indent + 1)
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if !compact {
				buf.WriteByte(' ')
			}
			if err := writeCanonical(buf, n[k], indent+1, compact); err != nil {
				return err
			}
			if i < len(keys)-1 {
				buf.WriteByte(',')
			}
			if !compact {
				buf.WriteByte('\n')
			}
		}
		pad(indent)
		buf.WriteByte('}')
		return nil
	case []any:
		if len(n) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteByte('[')
		if !compact {
			buf.WriteByte('\n')
		}
		for i, v := range n {
			pad(indent + 1)
			if err := writeCanonical(buf, v, indent+1, compact); err != nil {
				return err
			}
			if i < len(n)-1 {
				buf.WriteByte(',')
			}
			if !compact {
				buf.WriteByte('\n')
			}
		}
		pad(indent)
		buf.WriteByte(']')
		return nil
	default:
		return writeScalar(buf, node)
	}
}

// Canonical renders the tree in canonical pretty form, with a trailing
// newline.
func Canonical(node any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, node, 0, false); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// CanonicalCompact renders the tree with canonical key order but no
// whitespace; used for minified output and intern documents.
func CanonicalCompact(node any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, node, 0, true); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return buf.Bytes(), nil
}
