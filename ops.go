// ops.go
//
// Built-in operator registry.
//
// Each operator maps to an arity class (fixed / ranged / variadic) and an
// evaluator over already-evaluated argument values. `and` and `or` are the
// exception: they receive the unevaluated operand expressions plus a callback
// into the expression evaluator, which is how short-circuiting stays inside
// the registry instead of leaking special cases into the VM walk.
//
// Namespaced operators ("math.add") dispatch by their suffix; see NormalizeOp
// in ast.go.
package amorph

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// -----------------------------
// Arity classes
// -----------------------------

type ArityKind int

const (
	ArityFixed ArityKind = iota
	ArityRanged
	ArityVariadic
)

// Arity describes how many operands an operator accepts.
type Arity struct {
	Kind ArityKind
	Lo   int // fixed: exact; ranged: lower bound
	Hi   int // ranged: upper bound
	Min  int // variadic: minimum
}

func FixedArity(n int) Arity       { return Arity{Kind: ArityFixed, Lo: n} }
func RangedArity(lo, hi int) Arity { return Arity{Kind: ArityRanged, Lo: lo, Hi: hi} }
func VariadicArity(min int) Arity  { return Arity{Kind: ArityVariadic, Min: min} }

// Accepts reports whether n operands satisfy the class.
func (a Arity) Accepts(n int) bool {
	switch a.Kind {
	case ArityFixed:
		return n == a.Lo
	case ArityRanged:
		return n >= a.Lo && n <= a.Hi
	default:
		return n >= a.Min
	}
}

func (a Arity) String() string {
	switch a.Kind {
	case ArityFixed:
		return fmt.Sprintf("exactly %d", a.Lo)
	case ArityRanged:
		return fmt.Sprintf("%d to %d", a.Lo, a.Hi)
	default:
		return fmt.Sprintf("at least %d", a.Min)
	}
}

// OpEval is a strict evaluator over evaluated operand values. The VM handle
// is passed for the few operators with effects (input).
type OpEval func(vm *VM, args []Value) (Value, error)

// LazyEval receives the raw operand expressions and the expression
// evaluator; used by the short-circuit operators.
type LazyEval func(operands []any, eval func(any) (Value, error)) (Value, error)

// OpEntry is one registry row.
type OpEntry struct {
	Arity Arity
	Eval  OpEval
	Lazy  LazyEval
}

// LookupOp resolves an operator identifier (possibly namespaced) to its
// registry entry.
func LookupOp(op string) (*OpEntry, bool) {
	e, ok := opRegistry[NormalizeOp(op)]
	return e, ok
}

// KnownOp reports whether the identifier names a built-in operator.
func KnownOp(op string) bool {
	_, ok := opRegistry[NormalizeOp(op)]
	return ok
}

// OpArity returns the arity class for a known operator.
func OpArity(op string) (Arity, bool) {
	e, ok := opRegistry[NormalizeOp(op)]
	if !ok {
		return Arity{}, false
	}
	return e.Arity, true
}

// -----------------------------
// Checked int64 arithmetic
// -----------------------------

func addInt64(a, b int64) (int64, bool) {
	s := a + b
	if (a > 0 && b > 0 && s < 0) || (a < 0 && b < 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func subInt64(a, b int64) (int64, bool) {
	s := a - b
	if (a >= 0 && b < 0 && s < 0) || (a < 0 && b > 0 && s >= 0) {
		return 0, false
	}
	return s, true
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

// -----------------------------
// Evaluators
// -----------------------------

func allStrings(args []Value) bool {
	for _, a := range args {
		if a.Tag != VTStr {
			return false
		}
	}
	return true
}

func allNumeric(args []Value) bool {
	for _, a := range args {
		if !isNumber(a) {
			return false
		}
	}
	return true
}

func allInts(args []Value) bool {
	for _, a := range args {
		if a.Tag != VTInt {
			return false
		}
	}
	return true
}

func evalAdd(_ *VM, args []Value) (Value, error) {
	if allStrings(args) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(a.Data.(string))
		}
		return Str(b.String()), nil
	}
	if !allNumeric(args) {
		return Null, rtErr(ErrTypeRuntime, "add expects all numeric or all string arguments")
	}
	if allInts(args) {
		acc := int64(0)
		for _, a := range args {
			s, ok := addInt64(acc, a.Data.(int64))
			if !ok {
				return Null, rtErr(ErrOverflow, "integer overflow in add")
			}
			acc = s
		}
		return Int(acc), nil
	}
	acc := 0.0
	for _, a := range args {
		acc += toFloat(a)
	}
	return Num(acc), nil
}

func evalSub(_ *VM, args []Value) (Value, error) {
	if !allNumeric(args) {
		return Null, rtErr(ErrTypeRuntime, "sub expects numeric arguments")
	}
	a, b := args[0], args[1]
	if a.Tag == VTInt && b.Tag == VTInt {
		s, ok := subInt64(a.Data.(int64), b.Data.(int64))
		if !ok {
			return Null, rtErr(ErrOverflow, "integer overflow in sub")
		}
		return Int(s), nil
	}
	return Num(toFloat(a) - toFloat(b)), nil
}

func evalMul(_ *VM, args []Value) (Value, error) {
	if !allNumeric(args) {
		return Null, rtErr(ErrTypeRuntime, "mul expects numeric arguments")
	}
	if allInts(args) {
		acc := int64(1)
		for _, a := range args {
			p, ok := mulInt64(acc, a.Data.(int64))
			if !ok {
				return Null, rtErr(ErrOverflow, "integer overflow in mul")
			}
			acc = p
		}
		return Int(acc), nil
	}
	acc := 1.0
	for _, a := range args {
		acc *= toFloat(a)
	}
	return Num(acc), nil
}

func evalDiv(_ *VM, args []Value) (Value, error) {
	if !allNumeric(args) {
		return Null, rtErr(ErrTypeRuntime, "div expects numeric arguments")
	}
	a, b := args[0], args[1]
	if toFloat(b) == 0 {
		return Null, rtErr(ErrDivZero, "division by zero")
	}
	if a.Tag == VTInt && b.Tag == VTInt {
		ai, bi := a.Data.(int64), b.Data.(int64)
		if ai%bi == 0 {
			return Int(ai / bi), nil
		}
		return Num(float64(ai) / float64(bi)), nil
	}
	return Num(toFloat(a) / toFloat(b)), nil
}

func evalMod(_ *VM, args []Value) (Value, error) {
	if !allNumeric(args) {
		return Null, rtErr(ErrTypeRuntime, "mod expects numeric arguments")
	}
	a, b := args[0], args[1]
	if toFloat(b) == 0 {
		return Null, rtErr(ErrDivZero, "modulo by zero")
	}
	// Truncated-toward-zero convention; Go's % already has it.
	if a.Tag == VTInt && b.Tag == VTInt {
		return Int(a.Data.(int64) % b.Data.(int64)), nil
	}
	af, bf := toFloat(a), toFloat(b)
	return Num(af - math.Trunc(af/bf)*bf), nil
}

func evalPow(_ *VM, args []Value) (Value, error) {
	if !allNumeric(args) {
		return Null, rtErr(ErrTypeRuntime, "pow expects numeric arguments")
	}
	a, b := args[0], args[1]
	if a.Tag == VTInt && b.Tag == VTInt && b.Data.(int64) >= 0 {
		base, exp := a.Data.(int64), b.Data.(int64)
		acc := int64(1)
		for i := int64(0); i < exp; i++ {
			p, ok := mulInt64(acc, base)
			if !ok {
				return Null, rtErr(ErrOverflow, "integer overflow in pow")
			}
			acc = p
		}
		return Int(acc), nil
	}
	return Num(math.Pow(toFloat(a), toFloat(b))), nil
}

func orderable(a, b Value) bool {
	return (isNumber(a) && isNumber(b)) || (a.Tag == VTStr && b.Tag == VTStr)
}

func compareEval(name string, cmp func(int) bool) OpEval {
	return func(_ *VM, args []Value) (Value, error) {
		a, b := args[0], args[1]
		if !orderable(a, b) {
			return Null, rtErr(ErrTypeRuntime, "%s expects two numbers or two strings", name)
		}
		var c int
		if a.Tag == VTStr {
			c = strings.Compare(a.Data.(string), b.Data.(string))
		} else {
			af, bf := toFloat(a), toFloat(b)
			switch {
			case af < bf:
				c = -1
			case af > bf:
				c = 1
			}
		}
		return Bool(cmp(c)), nil
	}
}

func evalNot(_ *VM, args []Value) (Value, error) {
	return Bool(!Truthy(args[0])), nil
}

func lazyAnd(operands []any, eval func(any) (Value, error)) (Value, error) {
	last := Bool(true)
	for _, e := range operands {
		v, err := eval(e)
		if err != nil {
			return Null, err
		}
		last = v
		if !Truthy(v) {
			break
		}
	}
	return Bool(Truthy(last)), nil
}

func lazyOr(operands []any, eval func(any) (Value, error)) (Value, error) {
	last := Bool(false)
	for _, e := range operands {
		v, err := eval(e)
		if err != nil {
			return Null, err
		}
		last = v
		if Truthy(v) {
			break
		}
	}
	return Bool(Truthy(last)), nil
}

func evalList(_ *VM, args []Value) (Value, error) {
	return List(append([]Value{}, args...)), nil
}

func evalLen(_ *VM, args []Value) (Value, error) {
	switch args[0].Tag {
	case VTList:
		return Int(int64(len(args[0].Data.([]Value)))), nil
	case VTStr:
		return Int(int64(len(args[0].Data.(string)))), nil
	}
	return Null, rtErr(ErrTypeRuntime, "len expects a list or string")
}

func evalGet(_ *VM, args []Value) (Value, error) {
	container, key := args[0], args[1]
	if key.Tag != VTInt {
		return Null, rtErr(ErrTypeRuntime, "get index must be an integer")
	}
	i := key.Data.(int64)
	switch container.Tag {
	case VTList:
		xs := container.Data.([]Value)
		if i < 0 || i >= int64(len(xs)) {
			return Null, rtErr(ErrIndex, "list index out of range: %d", i)
		}
		return xs[i], nil
	case VTStr:
		s := container.Data.(string)
		if i < 0 || i >= int64(len(s)) {
			return Null, rtErr(ErrIndex, "string index out of range: %d", i)
		}
		return Str(string(s[i])), nil
	}
	return Null, rtErr(ErrTypeRuntime, "get expects a list or string container")
}

func evalHas(_ *VM, args []Value) (Value, error) {
	container, needle := args[0], args[1]
	switch container.Tag {
	case VTList:
		for _, x := range container.Data.([]Value) {
			if ValueEqual(x, needle) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case VTStr:
		if needle.Tag != VTStr {
			return Null, rtErr(ErrTypeRuntime, "has on a string expects a string needle")
		}
		return Bool(strings.Contains(container.Data.(string), needle.Data.(string))), nil
	}
	return Null, rtErr(ErrTypeRuntime, "has expects a list or string container")
}

func evalConcat(_ *VM, args []Value) (Value, error) {
	if allStrings(args) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(a.Data.(string))
		}
		return Str(b.String()), nil
	}
	all := true
	for _, a := range args {
		if a.Tag != VTList {
			all = false
			break
		}
	}
	if !all {
		return Null, rtErr(ErrTypeRuntime, "concat expects all lists or all strings")
	}
	var out []Value
	for _, a := range args {
		out = append(out, a.Data.([]Value)...)
	}
	return List(out), nil
}

func rangeBound(v Value) (int64, error) {
	switch v.Tag {
	case VTInt:
		return v.Data.(int64), nil
	case VTNum:
		return int64(v.Data.(float64)), nil
	}
	return 0, rtErr(ErrTypeRuntime, "range expects numeric bounds")
}

func evalRange(_ *VM, args []Value) (Value, error) {
	if len(args) == 1 {
		n, err := rangeBound(args[0])
		if err != nil {
			return Null, err
		}
		var out []Value
		for i := int64(1); i <= n; i++ {
			out = append(out, Int(i))
		}
		return List(out), nil
	}
	a, err := rangeBound(args[0])
	if err != nil {
		return Null, err
	}
	b, err := rangeBound(args[1])
	if err != nil {
		return Null, err
	}
	var out []Value
	if a <= b {
		for i := a; i <= b; i++ {
			out = append(out, Int(i))
		}
	} else {
		for i := a; i >= b; i-- {
			out = append(out, Int(i))
		}
	}
	return List(out), nil
}

func evalInput(vm *VM, args []Value) (Value, error) {
	prompt := ""
	if len(args) == 1 {
		prompt = args[0].String()
	}
	line, err := vm.readInput(prompt)
	if err != nil {
		return Null, err
	}
	return Str(line), nil
}

func evalInt(_ *VM, args []Value) (Value, error) {
	switch v := args[0]; v.Tag {
	case VTInt:
		return v, nil
	case VTNum:
		return Int(int64(math.Trunc(v.Data.(float64)))), nil
	case VTStr:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Data.(string)), 10, 64)
		if err != nil {
			return Null, rtErr(ErrTypeRuntime, "int parse failed: %q", v.Data.(string))
		}
		return Int(n), nil
	}
	return Null, rtErr(ErrTypeRuntime, "int expects a string or number")
}

// -----------------------------
// Registry
// -----------------------------

var opRegistry = map[string]*OpEntry{
	// arithmetic
	"add": {Arity: VariadicArity(2), Eval: evalAdd},
	"sub": {Arity: FixedArity(2), Eval: evalSub},
	"mul": {Arity: VariadicArity(2), Eval: evalMul},
	"div": {Arity: FixedArity(2), Eval: evalDiv},
	"mod": {Arity: FixedArity(2), Eval: evalMod},
	"pow": {Arity: FixedArity(2), Eval: evalPow},

	// comparisons
	"eq": {Arity: FixedArity(2), Eval: func(_ *VM, args []Value) (Value, error) {
		return Bool(ValueEqual(args[0], args[1])), nil
	}},
	"ne": {Arity: FixedArity(2), Eval: func(_ *VM, args []Value) (Value, error) {
		return Bool(!ValueEqual(args[0], args[1])), nil
	}},
	"lt": {Arity: FixedArity(2), Eval: compareEval("lt", func(c int) bool { return c < 0 })},
	"le": {Arity: FixedArity(2), Eval: compareEval("le", func(c int) bool { return c <= 0 })},
	"gt": {Arity: FixedArity(2), Eval: compareEval("gt", func(c int) bool { return c > 0 })},
	"ge": {Arity: FixedArity(2), Eval: compareEval("ge", func(c int) bool { return c >= 0 })},

	// logic
	"not": {Arity: FixedArity(1), Eval: evalNot},
	"and": {Arity: VariadicArity(1), Lazy: lazyAnd},
	"or":  {Arity: VariadicArity(1), Lazy: lazyOr},

	// collections
	"list":   {Arity: VariadicArity(0), Eval: evalList},
	"len":    {Arity: FixedArity(1), Eval: evalLen},
	"get":    {Arity: FixedArity(2), Eval: evalGet},
	"has":    {Arity: FixedArity(2), Eval: evalHas},
	"concat": {Arity: VariadicArity(2), Eval: evalConcat},

	// sequences / io / conversion
	"range": {Arity: RangedArity(1, 2), Eval: evalRange},
	"input": {Arity: RangedArity(0, 1), Eval: evalInput},
	"int":   {Arity: FixedArity(1), Eval: evalInt},
}
