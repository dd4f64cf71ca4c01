package amorph

import (
	"strings"
	"testing"
	"time"
)

const progArithmeticFn = `[
	{"let":{"name":"x","value":{"add":[1,2]}}},
	{"def":{"name":"double","params":["n"],"body":[{"return":{"mul":[{"var":"n"},2]}}]}},
	{"let":{"name":"y","value":{"call":{"name":"double","args":[{"var":"x"}]}}}},
	{"print":[{"var":"y"}]}
]`

func Test_VM_Arithmetic_And_Function(t *testing.T) {
	io, _, err := runScripted(t, progArithmeticFn, nil, VMOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := io.Stdout(); got != "6\n" {
		t.Fatalf("stdout = %q, want %q", got, "6\n")
	}
}

const progFactorial = `[
	{"def":{"name":"fact","id":"fn_fact","params":["n"],"body":[
		{"if":{"cond":{"le":[{"var":"n"},1]},
			"then":[{"return":1}],
			"else":[{"return":{"mul":[{"var":"n"},{"call":{"id":"fn_fact","args":[{"sub":[{"var":"n"},1]}]}}]}}]}}
	]}},
	{"print":[{"call":{"id":"fn_fact","args":[5]}}]}
]`

func Test_VM_Recursive_Factorial(t *testing.T) {
	io, _, err := runScripted(t, progFactorial, nil, VMOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := io.Stdout(); got != "120\n" {
		t.Fatalf("stdout = %q, want %q", got, "120\n")
	}
}

func Test_VM_WrapperForm_And_Result(t *testing.T) {
	// Wrapper form is accepted; the program result is the last statement's
	// value, and expr statements yield theirs.
	src := `{"version":"0.1","program":[{"expr":{"add":[2,3]}}]}`
	_, v, err := runScripted(t, src, nil, VMOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if v.Tag != VTInt || v.Data.(int64) != 5 {
		t.Fatalf("result = %#v, want Int 5", v)
	}
}

func Test_VM_Scoping_LexicalGlobal(t *testing.T) {
	// The callee must see globals but not the caller's locals.
	src := `[
		{"let":{"name":"g","value":10}},
		{"def":{"name":"probe","params":[],"body":[{"return":{"var":"local"}}]}},
		{"def":{"name":"caller","params":[],"body":[
			{"let":{"name":"local","value":1}},
			{"return":{"call":{"name":"probe","args":[]}}}
		]}},
		{"expr":{"call":{"name":"caller","args":[]}}}
	]`
	_, _, err := runScripted(t, src, nil, VMOptions{})
	wantRuntimeKind(t, err, ErrUndefinedVar)

	src2 := `[
		{"let":{"name":"g","value":10}},
		{"def":{"name":"probe","params":[],"body":[{"return":{"var":"g"}}]}},
		{"expr":{"call":{"name":"probe","args":[]}}}
	]`
	_, v, err := runScripted(t, src2, nil, VMOptions{})
	if err != nil {
		t.Fatalf("global read failed: %v", err)
	}
	if v.Tag != VTInt || v.Data.(int64) != 10 {
		t.Fatalf("result = %#v, want Int 10", v)
	}
}

func Test_VM_Set_Updates_Nearest_Binding(t *testing.T) {
	src := `[
		{"let":{"name":"x","value":1}},
		{"if":{"cond":true,"then":[{"set":{"name":"x","value":2}}]}},
		{"print":[{"var":"x"}]}
	]`
	io, _, err := runScripted(t, src, nil, VMOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := io.Stdout(); got != "2\n" {
		t.Fatalf("stdout = %q, want %q", got, "2\n")
	}

	_, _, err = runScripted(t, `[{"set":{"name":"nope","value":1}}]`, nil, VMOptions{})
	wantRuntimeKind(t, err, ErrUndefinedVar)
}

func Test_VM_If_Branch_Scope_Is_Fresh(t *testing.T) {
	// A let inside a branch is not visible after the branch exits.
	src := `[
		{"if":{"cond":true,"then":[{"let":{"name":"inner","value":1}}]}},
		{"print":[{"var":"inner"}]}
	]`
	_, _, err := runScripted(t, src, nil, VMOptions{})
	wantRuntimeKind(t, err, ErrUndefinedVar)
}

func Test_VM_ShortCircuit_And_Or(t *testing.T) {
	// The failing operand after the short circuit must never evaluate.
	src := `[
		{"let":{"name":"r","value":{"or":[true,{"div":[1,0]}]}}},
		{"let":{"name":"s","value":{"and":[false,{"div":[1,0]}]}}},
		{"print":[{"var":"r"},{"var":"s"}]}
	]`
	io, _, err := runScripted(t, src, nil, VMOptions{})
	if err != nil {
		t.Fatalf("short-circuit evaluated too much: %v", err)
	}
	if got := io.Stdout(); got != "true false\n" {
		t.Fatalf("stdout = %q", got)
	}
}

func Test_VM_Print_Spread(t *testing.T) {
	src := `[
		{"let":{"name":"xs","value":{"list":[1,2,3]}}},
		{"print":[{"spread":{"var":"xs"}},"done"]}
	]`
	io, _, err := runScripted(t, src, nil, VMOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := io.Stdout(); got != "1 2 3 done\n" {
		t.Fatalf("stdout = %q", got)
	}
}

func Test_VM_Input_Scripted_And_Gated(t *testing.T) {
	src := `[
		{"let":{"name":"line","value":{"input":["? "]}}},
		{"print":[{"concat":[{"var":"line"},"!"]}]}
	]`
	io, _, err := runScripted(t, src, []string{"hello"}, VMOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := io.Stdout(); got != "hello!\n" {
		t.Fatalf("stdout = %q", got)
	}

	_, _, err = runScripted(t, src, []string{"hello"}, VMOptions{DenyInput: true})
	wantRuntimeKind(t, err, ErrCapDenied)

	_, _, err = runScripted(t, `[{"print":[1]}]`, nil, VMOptions{DenyPrint: true})
	wantRuntimeKind(t, err, ErrCapDenied)
}

func Test_VM_Operator_Errors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		kind string
	}{
		{"div zero", `[{"expr":{"div":[1,0]}}]`, ErrDivZero},
		{"mod zero", `[{"expr":{"mod":[5,0]}}]`, ErrDivZero},
		{"mixed add", `[{"expr":{"add":[1,"a"]}}]`, ErrTypeRuntime},
		{"get range", `[{"expr":{"get":[{"list":[1]},5]}}]`, ErrIndex},
		{"unknown func", `[{"expr":{"call":{"name":"nope","args":[]}}}]`, ErrUnknownFunc},
		{"arity op", `[{"expr":{"len":[1,2]}}]`, ErrArgCount},
		{"return top", `[{"return":1}]`, ErrReturnOutsideFn},
		{"overflow mul", `[{"expr":{"mul":[9223372036854775807,2]}}]`, ErrOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := runScripted(t, tc.src, nil, VMOptions{})
			wantRuntimeKind(t, err, tc.kind)
		})
	}
}

func Test_VM_ArgCount_On_Calls(t *testing.T) {
	src := `[
		{"def":{"name":"one","params":["a"],"body":[{"return":{"var":"a"}}]}},
		{"expr":{"call":{"name":"one","args":[1,2]}}}
	]`
	_, _, err := runScripted(t, src, nil, VMOptions{})
	wantRuntimeKind(t, err, ErrArgCount)
}

func Test_VM_Recursion_Guard(t *testing.T) {
	src := `[
		{"def":{"name":"loop","params":[],"body":[{"return":{"call":{"name":"loop","args":[]}}}]}},
		{"expr":{"call":{"name":"loop","args":[]}}}
	]`
	_, _, err := runScripted(t, src, nil, VMOptions{MaxDepth: 32})
	wantRuntimeKind(t, err, ErrRecursion)
}

func Test_VM_Operators_Table(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{`{"add":["a","b","c"]}`, "abc"},
		{`{"add":[1,2,3]}`, "6"},
		{`{"add":[1,2.5]}`, "3.5"},
		{`{"sub":[10,4]}`, "6"},
		{`{"div":[10,2]}`, "5"},
		{`{"div":[7,2]}`, "3.5"},
		{`{"mod":[7,3]}`, "1"},
		{`{"mod":[-7,3]}`, "-1"},
		{`{"pow":[2,10]}`, "1024"},
		{`{"eq":[1,1.0]}`, "true"},
		{`{"ne":["a","b"]}`, "true"},
		{`{"lt":["apple","banana"]}`, "true"},
		{`{"ge":[3,3]}`, "true"},
		{`{"not":[0]}`, "false"},
		{`{"len":["hello"]}`, "5"},
		{`{"len":[{"list":[1,2]}]}`, "2"},
		{`{"get":["abc",1]}`, "b"},
		{`{"has":[{"list":[1,2]},2]}`, "true"},
		{`{"has":["hello","ell"]}`, "true"},
		{`{"concat":["ab","cd"]}`, "abcd"},
		{`{"range":[3]}`, "[1, 2, 3]"},
		{`{"range":[5,3]}`, "[5, 4, 3]"},
		{`{"range":[-1]}`, "[]"},
		{`{"int":["42"]}`, "42"},
		{`{"int":[3.9]}`, "3"},
		{`{"math.add":[1,2]}`, "3"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			io, _, err := runScripted(t, `[{"print":[`+tc.expr+`]}]`, nil, VMOptions{})
			if err != nil {
				t.Fatalf("eval failed: %v", err)
			}
			if got := strings.TrimSuffix(io.Stdout(), "\n"); got != tc.want {
				t.Fatalf("%s = %q, want %q", tc.expr, got, tc.want)
			}
		})
	}
}

func Test_VM_Not_TruthinessOfListPayload(t *testing.T) {
	// `not` takes its payload whole: a one-element list literal is truthy.
	io, _, err := runScripted(t, `[{"print":[{"not":[1]}]}]`, nil, VMOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := io.Stdout(); got != "false\n" {
		t.Fatalf("stdout = %q", got)
	}
}

func Test_VM_Objects_Are_Not_Values(t *testing.T) {
	_, _, err := runScripted(t, `[{"expr":{"a":1,"b":2}}]`, nil, VMOptions{})
	wantRuntimeKind(t, err, ErrTypeRuntime)
}

func Test_VM_Trace_Deterministic(t *testing.T) {
	clock := func() time.Time { return time.Unix(1700000000, 0) }
	run := func() ([]string, string) {
		io := NewScriptedIO([]string{"7"})
		vm := NewVM(VMOptions{IO: io, TraceJSON: true, Clock: clock})
		src := `[
			{"def":{"name":"dbl","id":"fn_dbl","params":["n"],"body":[{"return":{"mul":[{"var":"n"},2]}}]}},
			{"let":{"name":"x","value":{"int":[{"input":[]}]}}},
			{"print":[{"call":{"id":"fn_dbl","args":[{"var":"x"}]}}]}
		]`
		if _, err := vm.Run(mustTree(t, src)); err != nil {
			t.Fatalf("run failed: %v", err)
		}
		return io.Traces, io.Stdout()
	}

	t1, out1 := run()
	t2, out2 := run()
	if out1 != "14\n" {
		t.Fatalf("stdout = %q", out1)
	}
	if out1 != out2 || strings.Join(t1, "\n") != strings.Join(t2, "\n") {
		t.Fatal("trace or stdout not byte-identical across runs")
	}
	if len(t1) == 0 {
		t.Fatal("expected trace events")
	}
	// Events are NDJSON with the documented fields.
	joined := strings.Join(t1, "\n")
	for _, want := range []string{`"kind":"enter"`, `"kind":"exit"`, `"kind":"eval"`, `"channel":"stdin"`, `"channel":"stdout"`, `"call_id":1`} {
		if !strings.Contains(joined, want) {
			t.Fatalf("trace missing %s:\n%s", want, joined)
		}
	}
}

func Test_VM_RichError_Context(t *testing.T) {
	src := `[
		{"def":{"name":"boom","id":"fn_boom","params":[],"body":[{"return":{"div":[1,0]}}]}},
		{"expr":{"call":{"id":"fn_boom","args":[]}}}
	]`
	_, _, err := runScripted(t, src, nil, VMOptions{RichErrors: true})
	re := wantRuntimeKind(t, err, ErrDivZero)
	if re.Context == nil {
		t.Fatal("expected rich context")
	}
	if !strings.Contains(re.Context.Path, "fn[fn_boom]") {
		t.Fatalf("context path = %q", re.Context.Path)
	}
	if len(re.Context.CallStack) != 1 || re.Context.CallStack[0] != "boom" {
		t.Fatalf("call stack = %#v", re.Context.CallStack)
	}
	rich := re.FormatRich()
	if !strings.Contains(rich, "Call stack:") {
		t.Fatalf("rich format missing call stack:\n%s", rich)
	}

	// Disabled by default.
	_, _, err = runScripted(t, src, nil, VMOptions{})
	re = wantRuntimeKind(t, err, ErrDivZero)
	if re.Context != nil {
		t.Fatal("context should be absent without RichErrors")
	}
}

func Test_VM_Def_Forward_Reference(t *testing.T) {
	src := `[
		{"print":[{"call":{"name":"later","args":[]}}]},
		{"def":{"name":"later","params":[],"body":[{"return":"ok"}]}}
	]`
	io, _, err := runScripted(t, src, nil, VMOptions{})
	if err != nil {
		t.Fatalf("forward reference failed: %v", err)
	}
	if got := io.Stdout(); got != "ok\n" {
		t.Fatalf("stdout = %q", got)
	}
}
