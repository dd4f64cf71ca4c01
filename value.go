// value.go
//
// Runtime value model for the Amorph evaluator.
//
// Values form a small tagged union: null, bool, int64, float64, string, and
// list. There is no runtime object type; objects exist only as AST nodes, so
// a multi-key object reaching the evaluator is an E_TYPE_RUNTIME error raised
// in vm.go.
// Equality is structural, and numeric comparisons cross the Int/Num boundary
// (1 == 1.0).
package amorph

import (
	"strconv"
	"strings"
)

// ValueTag enumerates the runtime kinds a Value may hold. The tag determines
// which Go type Value.Data carries.
type ValueTag int

const (
	VTNull ValueTag = iota // no payload
	VTBool                 // bool
	VTInt                  // int64
	VTNum                  // float64
	VTStr                  // string
	VTList                 // []Value
)

// Value is the universal runtime carrier used by the VM.
type Value struct {
	Tag  ValueTag
	Data interface{}
}

// Null is the singleton null Value.
var Null = Value{Tag: VTNull}

// Primitive constructors.
func Bool(b bool) Value     { return Value{Tag: VTBool, Data: b} }
func Int(n int64) Value     { return Value{Tag: VTInt, Data: n} }
func Num(f float64) Value   { return Value{Tag: VTNum, Data: f} }
func Str(s string) Value    { return Value{Tag: VTStr, Data: s} }
func List(xs []Value) Value { return Value{Tag: VTList, Data: xs} }

func isNumber(v Value) bool { return v.Tag == VTInt || v.Tag == VTNum }

func toFloat(v Value) float64 {
	if v.Tag == VTInt {
		return float64(v.Data.(int64))
	}
	return v.Data.(float64)
}

// String renders the value the way `print` writes it: strings bare, numbers
// in their shortest form, lists bracketed with quoted string elements.
func (v Value) String() string {
	switch v.Tag {
	case VTNull:
		return "null"
	case VTBool:
		if v.Data.(bool) {
			return "true"
		}
		return "false"
	case VTInt:
		return strconv.FormatInt(v.Data.(int64), 10)
	case VTNum:
		return strconv.FormatFloat(v.Data.(float64), 'g', -1, 64)
	case VTStr:
		return v.Data.(string)
	case VTList:
		var b strings.Builder
		b.WriteByte('[')
		for i, x := range v.Data.([]Value) {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(x.quoted())
		}
		b.WriteByte(']')
		return b.String()
	default:
		return "<unknown>"
	}
}

// quoted is String except that string elements keep their quotes, so nested
// lists stay unambiguous.
func (v Value) quoted() string {
	if v.Tag == VTStr {
		return strconv.Quote(v.Data.(string))
	}
	return v.String()
}

// Truthy implements the condition check used by `if`, `and`, `or` and `not`:
// null, false, zero, the empty string and the empty list are falsy.
func Truthy(v Value) bool {
	switch v.Tag {
	case VTNull:
		return false
	case VTBool:
		return v.Data.(bool)
	case VTInt:
		return v.Data.(int64) != 0
	case VTNum:
		return v.Data.(float64) != 0
	case VTStr:
		return v.Data.(string) != ""
	case VTList:
		return len(v.Data.([]Value)) > 0
	default:
		return true
	}
}

// ValueEqual is structural equality. Int and Num compare numerically; other
// cross-type comparisons are false.
func ValueEqual(a, b Value) bool {
	if isNumber(a) && isNumber(b) {
		if a.Tag == VTInt && b.Tag == VTInt {
			return a.Data.(int64) == b.Data.(int64)
		}
		return toFloat(a) == toFloat(b)
	}
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case VTNull:
		return true
	case VTBool:
		return a.Data.(bool) == b.Data.(bool)
	case VTStr:
		return a.Data.(string) == b.Data.(string)
	case VTList:
		ax := a.Data.([]Value)
		bx := b.Data.([]Value)
		if len(ax) != len(bx) {
			return false
		}
		for i := range ax {
			if !ValueEqual(ax[i], bx[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ValueToTree converts a runtime value back into the JSON tree shape used by
// the AST layer (trace payloads, REPL echo).
func ValueToTree(v Value) any {
	switch v.Tag {
	case VTNull:
		return nil
	case VTBool:
		return v.Data.(bool)
	case VTInt:
		return v.Data.(int64)
	case VTNum:
		return v.Data.(float64)
	case VTStr:
		return v.Data.(string)
	case VTList:
		xs := v.Data.([]Value)
		out := make([]any, len(xs))
		for i, x := range xs {
			out[i] = ValueToTree(x)
		}
		return out
	default:
		return nil
	}
}
