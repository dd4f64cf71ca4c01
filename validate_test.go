package amorph

import "testing"

func Test_Validate_OK_Program(t *testing.T) {
	issues := ValidateProgram(mustTree(t, progArithmeticFn), ValidateOptions{})
	if hasIssue(issues, CodeUnknownFunc) || hasIssue(issues, CodeUnknownOp) || hasIssue(issues, CodeOpArity) {
		t.Fatalf("unexpected issues: %#v", issues)
	}
	if !NewReport(issues).OK {
		t.Fatalf("report should be ok: %#v", issues)
	}
}

func Test_Validate_Shape(t *testing.T) {
	issues := ValidateProgram(mustTree(t, `{"not-a-program":true}`), ValidateOptions{})
	d := findIssue(t, issues, CodeShape)
	if d.Severity != SevError || d.Path != "/" {
		t.Fatalf("bad shape issue: %#v", d)
	}
}

func Test_Validate_Unknown_Function(t *testing.T) {
	issues := ValidateProgram(mustTree(t, `[{"expr":{"call":{"name":"ghost","args":[]}}}]`), ValidateOptions{})
	d := findIssue(t, issues, CodeUnknownFunc)
	if d.Path != "/$[0]/expr" {
		t.Fatalf("path = %q", d.Path)
	}

	issues = ValidateProgram(mustTree(t, `[{"expr":{"call":{"id":"fn_ghost","args":[]}}}]`), ValidateOptions{})
	findIssue(t, issues, CodeUnknownFunc)
}

func Test_Validate_Unknown_And_Arity_Operators(t *testing.T) {
	issues := ValidateProgram(mustTree(t, `[{"expr":{"frobnicate":[1]}}]`), ValidateOptions{})
	findIssue(t, issues, CodeUnknownOp)

	issues = ValidateProgram(mustTree(t, `[{"let":{"name":"x","value":{"sub":[1]}}}]`), ValidateOptions{})
	d := findIssue(t, issues, CodeOpArity)
	if d.Path != "/$[0]/let/value" {
		t.Fatalf("path = %q", d.Path)
	}

	// Namespaced operators check against the suffix.
	issues = ValidateProgram(mustTree(t, `[{"expr":{"math.sub":[1,2]}}]`), ValidateOptions{})
	if hasIssue(issues, CodeUnknownOp) || hasIssue(issues, CodeOpArity) {
		t.Fatalf("namespaced op should resolve: %#v", issues)
	}
}

func Test_Validate_Operator_Inside_Nested_Blocks(t *testing.T) {
	src := `[
		{"def":{"name":"f","params":[],"body":[
			{"if":{"cond":true,"then":[{"expr":{"mod":[1]}}]}}
		]}}
	]`
	issues := ValidateProgram(mustTree(t, src), ValidateOptions{})
	d := findIssue(t, issues, CodeOpArity)
	if d.Path != "/$[0]/def/body/$[0]/if/then/$[0]/expr" {
		t.Fatalf("path = %q", d.Path)
	}
}

func Test_Validate_Duplicate_IDs_And_Names(t *testing.T) {
	src := `[
		{"def":{"name":"f","id":"fn_1","params":[],"body":[]}},
		{"def":{"name":"f","id":"fn_1","params":[],"body":[]}}
	]`
	issues := ValidateProgram(mustTree(t, src), ValidateOptions{})
	if d := findIssue(t, issues, CodeDuplicateID); d.Severity != SevError {
		t.Fatalf("duplicate id severity = %q", d.Severity)
	}
	if d := findIssue(t, issues, CodeDuplicateName); d.Severity != SevWarning {
		t.Fatalf("duplicate name severity = %q", d.Severity)
	}

	// Statement-level ids must also be unique.
	src = `[
		{"id":"s1","let":{"name":"a","value":1}},
		{"id":"s1","let":{"name":"b","value":2}}
	]`
	issues = ValidateProgram(mustTree(t, src), ValidateOptions{})
	findIssue(t, issues, CodeDuplicateID)
}

func Test_Validate_PreferID_And_MixedStyle(t *testing.T) {
	src := `[
		{"def":{"name":"f","id":"fn_f","params":[],"body":[]}},
		{"def":{"name":"g","id":"fn_g","params":[],"body":[]}},
		{"expr":{"call":{"name":"f","args":[]}}},
		{"expr":{"call":{"id":"fn_g","args":[]}}}
	]`
	issues := ValidateProgram(mustTree(t, src), ValidateOptions{PreferID: true})
	d := findIssue(t, issues, CodePreferID)
	if d.Severity != SevWarning || d.Hint == "" {
		t.Fatalf("prefer-id issue: %#v", d)
	}

	mixed := 0
	for _, i := range issues {
		if i.Code == CodeMixedCallStyle {
			mixed++
		}
	}
	if mixed != 1 {
		t.Fatalf("mixed-style warnings = %d, want exactly 1", mixed)
	}
}

func Test_Validate_Composes_Optional_Passes(t *testing.T) {
	src := `[{"let":{"name":"x","value":{"add":[1,"text"]}}},{"expr":{"var":"ghost"}}]`
	issues := ValidateProgram(mustTree(t, src), ValidateOptions{CheckTypes: true, CheckScopes: true})
	if !hasIssue(issues, CodeTypeMismatch) || !hasIssue(issues, CodeUndefinedVar) {
		t.Fatalf("expected both passes to contribute: %#v", issues)
	}
	if NewReport(issues).OK {
		t.Fatal("report should not be ok")
	}
}
