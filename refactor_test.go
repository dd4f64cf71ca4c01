package amorph

import "testing"

const progRename = `[
	{"let":{"name":"x","value":10}},
	{"let":{"name":"y","value":{"mul":[{"var":"x"},2]}}},
	{"print":[{"var":"x"}]}
]`

func Test_Refactor_FindVariableReferences(t *testing.T) {
	program := mustProgram(t, progRename)
	refs := FindVariableReferences(program, "x", "all")
	if len(refs) != 3 {
		t.Fatalf("refs = %#v", refs)
	}
	kinds := map[string]int{}
	for _, r := range refs {
		kinds[r.Kind]++
		if r.ScopeID != "global" {
			t.Fatalf("scope = %q", r.ScopeID)
		}
	}
	if kinds[RefDefinition] != 1 || kinds[RefRead] != 2 {
		t.Fatalf("kinds = %#v", kinds)
	}
}

func Test_Refactor_References_Track_Scopes_And_Params(t *testing.T) {
	src := `[
		{"def":{"name":"f","id":"fn_f","params":["n"],"body":[
			{"return":{"add":[{"var":"n"},1]}}
		]}},
		{"let":{"name":"n","value":5}}
	]`
	program := mustProgram(t, src)

	inFn := FindVariableReferences(program, "n", "fn_f")
	if len(inFn) != 2 {
		t.Fatalf("fn refs = %#v", inFn)
	}
	var sawParam bool
	for _, r := range inFn {
		if r.Kind == RefParameter {
			sawParam = true
		}
	}
	if !sawParam {
		t.Fatalf("missing parameter ref: %#v", inFn)
	}

	global := FindVariableReferences(program, "n", "global")
	if len(global) != 1 || global[0].Kind != RefDefinition {
		t.Fatalf("global refs = %#v", global)
	}
}

func Test_Refactor_RenameVariable_All_Scope(t *testing.T) {
	program := mustProgram(t, progRename)
	edits := mustProgram(t, `[{"op":"rename_variable","old_name":"x","new_name":"count","scope":"all"}]`)
	next, report, err := ApplyEdits(program, edits)
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if report.Details[0].Changed != 3 {
		t.Fatalf("changed = %d, want 3", report.Details[0].Changed)
	}
	if refs := FindVariableReferences(next, "x", "all"); len(refs) != 0 {
		t.Fatalf("stale references: %#v", refs)
	}
	if refs := FindVariableReferences(next, "count", "all"); len(refs) != 3 {
		t.Fatalf("new references: %#v", refs)
	}

	// A second rename of the old name has nothing to do.
	_, _, err = ApplyEdits(next, edits)
	ee, ok := err.(*EditError)
	if !ok || ee.Code != "E_NOT_FOUND" {
		t.Fatalf("err = %v", err)
	}
}

func Test_Refactor_RenameVariable_Function_Scope_Only(t *testing.T) {
	src := `[
		{"let":{"name":"v","value":1}},
		{"def":{"name":"f","id":"fn_f","params":["v"],"body":[
			{"return":{"var":"v"}}
		]}}
	]`
	program := mustProgram(t, src)
	edits := mustProgram(t, `[{"op":"rename_variable","old_name":"v","new_name":"w","scope":"fn_f"}]`)
	next, report, err := ApplyEdits(program, edits)
	if err != nil {
		t.Fatalf("rename failed: %v", err)
	}
	if report.Details[0].Changed != 2 {
		t.Fatalf("changed = %d, want 2", report.Details[0].Changed)
	}
	// Global v untouched.
	if next[0].(map[string]any)["let"].(map[string]any)["name"] != "v" {
		t.Fatalf("global binding renamed: %#v", next[0])
	}
	d := next[1].(map[string]any)["def"].(map[string]any)
	if d["params"].([]any)[0] != "w" {
		t.Fatalf("param not renamed: %#v", d["params"])
	}
}

func Test_Refactor_AnalyzeFreeVariables(t *testing.T) {
	src := `[
		{"let":{"name":"local","value":{"add":[{"var":"outer_a"},1]}}},
		{"set":{"name":"outer_b","value":{"var":"local"}}},
		{"print":[{"var":"local"}]}
	]`
	block := mustProgram(t, src)
	free := AnalyzeFreeVariables(block)
	if !free["outer_a"] || !free["outer_b"] {
		t.Fatalf("free = %#v", free)
	}
	if free["local"] {
		t.Fatalf("local should not be free: %#v", free)
	}
	names := FreeVariableNames(block)
	if len(names) != 2 || names[0] != "outer_a" || names[1] != "outer_b" {
		t.Fatalf("names = %#v", names)
	}
}

func Test_Refactor_ExtractFunction(t *testing.T) {
	src := `[
		{"let":{"name":"a","value":1}},
		{"print":[{"var":"a"}]},
		{"print":["after"]}
	]`
	program := mustProgram(t, src)
	edits := mustProgram(t, `[{
		"op":"extract_function",
		"function_name":"show",
		"function_id":"fn_show",
		"statements":[1],
		"parameters":["a"],
		"insert_at":0,
		"replace_with_call":true
	}]`)
	next, _, err := ApplyEdits(program, edits)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(next) != 4 {
		t.Fatalf("len = %d: %#v", len(next), next)
	}
	d := next[0].(map[string]any)["def"].(map[string]any)
	if d["name"] != "show" || d["id"] != "fn_show" {
		t.Fatalf("def = %#v", d)
	}
	call := next[2].(map[string]any)["expr"].(map[string]any)["call"].(map[string]any)
	if call["id"] != "fn_show" {
		t.Fatalf("call = %#v", call)
	}
	if _, hasName := call["name"]; hasName {
		t.Fatalf("id-style call should not carry name: %#v", call)
	}

	// The program still runs and behaves the same.
	io := NewScriptedIO(nil)
	vm := NewVM(VMOptions{IO: io})
	if _, err := vm.Run(next); err != nil {
		t.Fatalf("extracted program failed: %v", err)
	}
	if got := io.Stdout(); got != "1\nafter\n" {
		t.Fatalf("stdout = %q", got)
	}
}

func Test_Refactor_ExtractFunction_Rejects_Gaps(t *testing.T) {
	program := mustProgram(t, progThreeLets)
	edits := mustProgram(t, `[{
		"op":"extract_function",
		"function_name":"f",
		"statements":[0,2],
		"parameters":[],
		"insert_at":0
	}]`)
	_, _, err := ApplyEdits(program, edits)
	ee, ok := err.(*EditError)
	if !ok || ee.Code != CodeBadSpec {
		t.Fatalf("err = %v", err)
	}
}
