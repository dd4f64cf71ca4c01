// vm.go
//
// Tree-walking evaluator for Amorph programs.
//
// Execution model:
//   - Statements run in order; the program result is the last statement's
//     value (expr statements yield their value, bindings yield null).
//   - Frames form a lexical chain. `let` defines in the innermost frame,
//     `set` updates the nearest enclosing binding, `if` branches run in a
//     fresh child frame, and a function call pushes a frame whose parent is
//     the *global* frame (lexical-global scoping; called functions do not see
//     the caller's locals).
//   - Function definitions are registered in program-global registries by
//     name and by id. All top-level defs are registered before execution, so
//     forward references work; a def inside a branch stays registered after
//     the branch exits.
//   - Effects (print, input) cross into the I/O backend at exactly one point
//     each, where the capability gates are enforced.
//   - With TraceJSON enabled the VM emits one NDJSON event per line on the
//     trace channel: enter/exit around calls, eval for statements and
//     operators, effect for I/O. Emission is synchronous and cannot change
//     program behavior.
//
// The walk is strictly sequential and deterministic: same program, same
// stdin script, same capability profile, same clock → byte-identical stdout
// and trace output.
package amorph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxDepth bounds function-call nesting before E_RECURSION.
const DefaultMaxDepth = 512

// VMOptions configures a VM instance. The zero value runs quietly with all
// capabilities granted.
type VMOptions struct {
	IO         IOBackend        // nil → QuietIO
	Trace      bool             // human-readable trace lines on the trace channel
	TraceJSON  bool             // NDJSON events on the trace channel
	DenyPrint  bool             // print → E_CAP_DENIED
	DenyInput  bool             // input → E_CAP_DENIED
	RichErrors bool             // attach path/call-stack/excerpt to runtime errors
	MaxDepth   int              // 0 → DefaultMaxDepth
	Clock      func() time.Time // nil → time.Now; fix it for deterministic traces
}

// FuncDef is a recorded function definition: a closed (params, body) pair.
type FuncDef struct {
	ID     string
	Name   string
	Params []string
	Body   []any
}

// Frame is a lexical scope: name→value bindings plus a parent link.
type Frame struct {
	parent *Frame
	vars   map[string]Value
}

// NewFrame creates a frame with the given parent (nil for the global frame).
func NewFrame(parent *Frame) *Frame {
	return &Frame{parent: parent, vars: map[string]Value{}}
}

// Define binds name in this frame, shadowing any outer binding.
func (f *Frame) Define(name string, v Value) { f.vars[name] = v }

// Set updates the nearest enclosing binding; false when no frame holds name.
func (f *Frame) Set(name string, v Value) bool {
	for e := f; e != nil; e = e.parent {
		if _, ok := e.vars[name]; ok {
			e.vars[name] = v
			return true
		}
	}
	return false
}

// Get retrieves the nearest visible binding.
func (f *Frame) Get(name string) (Value, bool) {
	for e := f; e != nil; e = e.parent {
		if v, ok := e.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// VM executes one program against one I/O backend. Instances are not safe
// for concurrent use; the backend is exclusive to the VM for a run.
type VM struct {
	opts        VMOptions
	io          IOBackend
	global      *Frame
	funcsByName map[string]*FuncDef
	funcsByID   map[string]*FuncDef

	callSeq   int64
	depth     int
	callStack []string
	curPath   []PathSeg
}

// NewVM builds a VM from options, filling in defaults.
func NewVM(opts VMOptions) *VM {
	if opts.IO == nil {
		opts.IO = NewQuietIO()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &VM{
		opts:        opts,
		io:          opts.IO,
		global:      NewFrame(nil),
		funcsByName: map[string]*FuncDef{},
		funcsByID:   map[string]*FuncDef{},
	}
}

// IO exposes the backend (tests read captured output through it).
func (vm *VM) IO() IOBackend { return vm.io }

// Run executes a program (sequence or wrapper form) and returns the result
// value: the last statement's value at top level.
func (vm *VM) Run(raw any) (Value, error) {
	program, _, err := Normalize(raw)
	if err != nil {
		return Null, rtErr(ErrShape, "%s", err.Error())
	}
	// Top-level defs are visible before the first statement runs.
	for _, s := range program {
		if stmt, ok := s.(map[string]any); ok {
			if _, ok := stmt["def"]; ok {
				if err := vm.registerDef(stmt); err != nil {
					return Null, err
				}
			}
		}
	}
	result := Null
	for i, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			return Null, rtErr(ErrShape, "statement %d is not an object", i)
		}
		path := []PathSeg{seqSeg(i)}
		v, ret, err := vm.execStmt(stmt, path, vm.global)
		if err != nil {
			return Null, err
		}
		if ret != nil {
			return Null, vm.enrich(rtErr(ErrReturnOutsideFn, "return outside function"), stmt, path)
		}
		result = v
	}
	return result, nil
}

// ExecTop executes a single statement in the global frame; used by the REPL.
func (vm *VM) ExecTop(stmt map[string]any) (Value, error) {
	path := []PathSeg{seqSeg(0)}
	v, ret, err := vm.execStmt(stmt, path, vm.global)
	if err != nil {
		return Null, err
	}
	if ret != nil {
		return Null, rtErr(ErrReturnOutsideFn, "return outside function")
	}
	return v, nil
}

// EvalExprTree evaluates a bare expression in the global frame; REPL helper.
func (vm *VM) EvalExprTree(expr any) (Value, error) {
	return vm.evalExpr(expr, vm.global, nil)
}

// -----------------------------
// Statements
// -----------------------------

// returnSignal propagates a `return` up to the enclosing call.
type returnSignal struct {
	val Value
}

func (vm *VM) execStmt(stmt map[string]any, path []PathSeg, frame *Frame) (Value, *returnSignal, error) {
	vm.curPath = path
	kind := NodeKind(stmt)
	vm.emit("eval", kind, path, "")
	vm.traceText("stmt %s at %s", kind, PathString(path))

	switch kind {
	case "let", "set":
		spec, ok := stmt[kind].(map[string]any)
		if !ok {
			return Null, nil, vm.enrich(rtErr(ErrShape, "%s requires {name, value}", kind), stmt, path)
		}
		name, _ := spec["name"].(string)
		if name == "" {
			return Null, nil, vm.enrich(rtErr(ErrShape, "%s requires a string name", kind), stmt, path)
		}
		v, err := vm.evalExpr(spec["value"], frame, append(cloneSegs(path), fieldSeg(kind), fieldSeg("value")))
		if err != nil {
			return Null, nil, err
		}
		if kind == "let" {
			frame.Define(name, v)
		} else if !frame.Set(name, v) {
			return Null, nil, vm.enrich(rtErr(ErrUndefinedVar, "variable not found: %s", name), stmt, path)
		}
		return Null, nil, nil

	case "def":
		if err := vm.registerDef(stmt); err != nil {
			return Null, nil, vm.enrich(err, stmt, path)
		}
		return Null, nil, nil

	case "if":
		spec, ok := stmt["if"].(map[string]any)
		if !ok {
			return Null, nil, vm.enrich(rtErr(ErrShape, "if requires {cond, then?, else?}"), stmt, path)
		}
		cond, err := vm.evalExpr(spec["cond"], frame, append(cloneSegs(path), fieldSeg("if"), fieldSeg("cond")))
		if err != nil {
			return Null, nil, err
		}
		branchKey := "then"
		if !Truthy(cond) {
			branchKey = "else"
		}
		branch, ok := spec[branchKey].([]any)
		if !ok {
			return Null, nil, nil
		}
		return vm.execBlock(branch, append(cloneSegs(path), fieldSeg("if"), fieldSeg(branchKey)), NewFrame(frame))

	case "return":
		v, err := vm.evalExpr(stmt["return"], frame, append(cloneSegs(path), fieldSeg("return")))
		if err != nil {
			return Null, nil, err
		}
		return Null, &returnSignal{val: v}, nil

	case "print":
		return Null, nil, vm.execPrint(stmt, path, frame)

	case "expr":
		v, err := vm.evalExpr(stmt["expr"], frame, append(cloneSegs(path), fieldSeg("expr")))
		if err != nil {
			return Null, nil, err
		}
		return v, nil, nil
	}

	return Null, nil, vm.enrich(rtErr(ErrShape, "unknown statement kind"), stmt, path)
}

func (vm *VM) execBlock(block []any, prefix []PathSeg, frame *Frame) (Value, *returnSignal, error) {
	result := Null
	for i, s := range block {
		stmt, ok := s.(map[string]any)
		if !ok {
			return Null, nil, rtErr(ErrShape, "statement %d is not an object", i)
		}
		v, ret, err := vm.execStmt(stmt, append(cloneSegs(prefix), seqSeg(i)), frame)
		if err != nil {
			return Null, nil, err
		}
		if ret != nil {
			return Null, ret, nil
		}
		result = v
	}
	return result, nil, nil
}

func (vm *VM) registerDef(stmt map[string]any) error {
	spec, ok := stmt["def"].(map[string]any)
	if !ok {
		return rtErr(ErrShape, "def requires an object payload")
	}
	name, _ := spec["name"].(string)
	if name == "" {
		return rtErr(ErrShape, "def requires a string name")
	}
	var params []string
	if ps, ok := spec["params"].([]any); ok {
		for _, p := range ps {
			s, ok := p.(string)
			if !ok {
				return rtErr(ErrShape, "def params must be strings")
			}
			params = append(params, s)
		}
	}
	body, _ := spec["body"].([]any)
	id, _ := spec["id"].(string)
	def := &FuncDef{ID: id, Name: name, Params: params, Body: body}
	vm.funcsByName[name] = def
	if id != "" {
		vm.funcsByID[id] = def
	}
	return nil
}

func (vm *VM) execPrint(stmt map[string]any, path []PathSeg, frame *Frame) error {
	payload := stmt["print"]
	base := append(cloneSegs(path), fieldSeg("print"))

	var vals []Value
	appendArg := func(x any, p []PathSeg) error {
		if m, ok := x.(map[string]any); ok && len(m) == 1 {
			if inner, ok := m["spread"]; ok {
				seq, err := vm.evalExpr(inner, frame, append(cloneSegs(p), fieldSeg("spread")))
				if err != nil {
					return err
				}
				if seq.Tag != VTList {
					return vm.enrich(rtErr(ErrTypeRuntime, "spread expects a list expression"), x, p)
				}
				vals = append(vals, seq.Data.([]Value)...)
				return nil
			}
		}
		v, err := vm.evalExpr(x, frame, p)
		if err != nil {
			return err
		}
		vals = append(vals, v)
		return nil
	}

	if xs, ok := payload.([]any); ok {
		for i, x := range xs {
			if err := appendArg(x, append(cloneSegs(base), seqSeg(i))); err != nil {
				return err
			}
		}
	} else if err := appendArg(payload, base); err != nil {
		return err
	}

	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return vm.writeStdout(strings.Join(parts, " "), stmt, path)
}

// -----------------------------
// Expressions
// -----------------------------

func (vm *VM) evalExpr(expr any, frame *Frame, path []PathSeg) (Value, error) {
	switch e := expr.(type) {
	case nil:
		return Null, nil
	case bool:
		return Bool(e), nil
	case string:
		return Str(e), nil
	case json.Number:
		return numberValue(e), nil
	case int64:
		return Int(e), nil
	case int:
		return Int(int64(e)), nil
	case float64:
		return Num(e), nil
	case []any:
		out := make([]Value, len(e))
		for i, x := range e {
			v, err := vm.evalExpr(x, frame, append(cloneSegs(path), seqSeg(i)))
			if err != nil {
				return Null, err
			}
			out[i] = v
		}
		return List(out), nil
	case map[string]any:
		if name, ok := e["var"].(string); ok && len(e) == 1 {
			v, ok := frame.Get(name)
			if !ok {
				return Null, vm.enrich(rtErr(ErrUndefinedVar, "variable not found: %s", name), e, path)
			}
			return v, nil
		}
		if spec, ok := e["call"].(map[string]any); ok && len(e) == 1 {
			return vm.callFunc(spec, frame, path)
		}
		if isOpNode(e) {
			for op, payload := range e {
				return vm.applyOp(op, payload, frame, path)
			}
		}
		return Null, vm.enrich(rtErr(ErrTypeRuntime, "objects are not runtime values"), e, path)
	}
	return Null, vm.enrich(rtErr(ErrTypeRuntime, "invalid expression"), expr, path)
}

// numberValue classifies a JSON literal: integral text → Int, else Num.
func numberValue(n json.Number) Value {
	if i, err := n.Int64(); err == nil && !strings.ContainsAny(n.String(), ".eE") {
		return Int(i)
	}
	f, err := n.Float64()
	if err != nil {
		return Null
	}
	return Num(f)
}

func (vm *VM) applyOp(op string, payload any, frame *Frame, path []PathSeg) (Value, error) {
	entry, ok := LookupOp(op)
	if !ok {
		return Null, vm.enrich(rtErr(ErrTypeRuntime, "unknown operator: %s", op), payload, path)
	}

	// Operand list: `not` always takes its payload whole; other operators
	// treat a list payload as the operand vector.
	var operands []any
	if NormalizeOp(op) != "not" {
		if xs, ok := payload.([]any); ok {
			operands = xs
		} else {
			operands = []any{payload}
		}
	} else {
		operands = []any{payload}
	}

	if !entry.Arity.Accepts(len(operands)) {
		return Null, vm.enrich(rtErr(ErrArgCount, "operator %s expects %s args, got %d",
			NormalizeOp(op), entry.Arity, len(operands)), payload, path)
	}

	vm.emit("eval", NormalizeOp(op), path, "")
	vm.traceText("op %s at %s", NormalizeOp(op), PathString(path))

	base := append(cloneSegs(path), fieldSeg(NormalizeOp(op)))
	if entry.Lazy != nil {
		i := 0
		evalNext := func(x any) (Value, error) {
			p := append(cloneSegs(base), seqSeg(i))
			i++
			return vm.evalExpr(x, frame, p)
		}
		v, err := entry.Lazy(operands, evalNext)
		return v, vm.enrichOp(err, payload, path)
	}

	args := make([]Value, len(operands))
	for i, x := range operands {
		v, err := vm.evalExpr(x, frame, append(cloneSegs(base), seqSeg(i)))
		if err != nil {
			return Null, err
		}
		args[i] = v
	}
	v, err := entry.Eval(vm, args)
	return v, vm.enrichOp(err, payload, path)
}

func (vm *VM) callFunc(spec map[string]any, frame *Frame, path []PathSeg) (Value, error) {
	name, _ := spec["name"].(string)
	id, _ := spec["id"].(string)
	if name == "" && id == "" {
		return Null, vm.enrich(rtErr(ErrShape, "call requires {name|id, args?}"), spec, path)
	}

	var def *FuncDef
	if id != "" {
		def = vm.funcsByID[id]
		if def == nil {
			return Null, vm.enrich(rtErr(ErrUnknownFunc, "function id not defined: %s", id), spec, path)
		}
	} else {
		def = vm.funcsByName[name]
		if def == nil {
			return Null, vm.enrich(rtErr(ErrUnknownFunc, "function not defined: %s", name), spec, path)
		}
	}

	// Arguments evaluate left-to-right in the caller's scope.
	var args []Value
	if xs, ok := spec["args"].([]any); ok {
		argBase := append(cloneSegs(path), fieldSeg("call"), fieldSeg("args"))
		for i, x := range xs {
			v, err := vm.evalExpr(x, frame, append(cloneSegs(argBase), seqSeg(i)))
			if err != nil {
				return Null, err
			}
			args = append(args, v)
		}
	}
	if len(args) != len(def.Params) {
		return Null, vm.enrich(rtErr(ErrArgCount, "function %s expects %d args, got %d",
			def.displayName(), len(def.Params), len(args)), spec, path)
	}

	if vm.depth >= vm.opts.MaxDepth {
		return Null, vm.enrich(rtErr(ErrRecursion, "recursion depth limit exceeded (%d)", vm.opts.MaxDepth), spec, path)
	}

	vm.callSeq++
	callID := vm.callSeq
	vm.emitCall(callID, "enter", def.displayName(), path)
	vm.callStack = append(vm.callStack, def.displayName())
	vm.depth++

	// Lexical-global scoping: the callee's parent frame is the global frame,
	// not the caller's.
	fnFrame := NewFrame(vm.global)
	for i, p := range def.Params {
		fnFrame.Define(p, args[i])
	}

	ref := def.ID
	if ref == "" {
		ref = def.Name
	}
	bodyPrefix := []PathSeg{fnSeg(ref), fieldSeg("body")}
	_, ret, err := vm.execBlock(def.Body, bodyPrefix, fnFrame)

	vm.depth--
	vm.callStack = vm.callStack[:len(vm.callStack)-1]
	vm.emitCall(callID, "exit", def.displayName(), path)

	if err != nil {
		return Null, err
	}
	if ret != nil {
		return ret.val, nil
	}
	// Fell through the end of the body.
	return Null, nil
}

func (d *FuncDef) displayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.ID != "" {
		return d.ID
	}
	return "anonymous"
}

// -----------------------------
// Effects & capability gates
// -----------------------------

func (vm *VM) writeStdout(line string, node any, path []PathSeg) error {
	if vm.opts.DenyPrint {
		return vm.enrich(rtErr(ErrCapDenied, "effect denied: print"), node, path)
	}
	vm.emit("effect", "print", path, "stdout")
	return vm.io.Write(line)
}

func (vm *VM) readInput(prompt string) (string, error) {
	if vm.opts.DenyInput {
		return "", vm.enrich(rtErr(ErrCapDenied, "effect denied: input"), nil, vm.curPath)
	}
	vm.emit("effect", "input", vm.curPath, "stdin")
	return vm.io.Read(prompt)
}

// -----------------------------
// Tracing
// -----------------------------

type traceEvent struct {
	TS     float64 `json:"ts"`
	CallID int64   `json:"call_id"`
	Kind   string  `json:"kind"`
	Op     string  `json:"op,omitempty"`
	Path   string  `json:"path"`
	Chan   string  `json:"channel,omitempty"`
}

func (vm *VM) emit(kind, op string, path []PathSeg, channel string) {
	if !vm.opts.TraceJSON {
		return
	}
	ev := traceEvent{
		TS:     float64(vm.opts.Clock().UnixNano()) / 1e9,
		CallID: vm.callSeq,
		Kind:   kind,
		Op:     op,
		Path:   PathString(path),
		Chan:   channel,
	}
	if b, err := json.Marshal(ev); err == nil {
		_ = vm.io.Trace(b)
	}
}

func (vm *VM) emitCall(callID int64, kind, fn string, path []PathSeg) {
	if !vm.opts.TraceJSON {
		return
	}
	ev := traceEvent{
		TS:     float64(vm.opts.Clock().UnixNano()) / 1e9,
		CallID: callID,
		Kind:   kind,
		Op:     fn,
		Path:   PathString(path),
	}
	if b, err := json.Marshal(ev); err == nil {
		_ = vm.io.Trace(b)
	}
}

func (vm *VM) traceText(format string, args ...any) {
	if !vm.opts.Trace {
		return
	}
	_ = vm.io.Trace([]byte("[trace] " + fmt.Sprintf(format, args...)))
}

// -----------------------------
// Rich error context
// -----------------------------

// enrich attaches path, call stack and a subtree excerpt to a runtime error
// when rich errors are on. Errors that already carry context pass through.
func (vm *VM) enrich(err error, node any, path []PathSeg) error {
	if err == nil || !vm.opts.RichErrors {
		return err
	}
	re, ok := err.(*RuntimeError)
	if !ok || re.Context != nil {
		return err
	}
	re.Context = &ErrorContext{
		Path:      PathString(path),
		CallStack: append([]string{}, vm.callStack...),
		Excerpt:   excerpt(node),
	}
	return re
}

// enrichOp is enrich for operator evaluators, which return bare errors.
func (vm *VM) enrichOp(err error, node any, path []PathSeg) error {
	if err == nil {
		return nil
	}
	return vm.enrich(err, node, path)
}

func excerpt(node any) string {
	if node == nil {
		return ""
	}
	b, err := json.Marshal(node)
	if err != nil {
		return ""
	}
	s := string(b)
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
