package amorph

import (
	"strings"
	"testing"
)

func Test_Types_Add_Mismatch(t *testing.T) {
	program := mustProgram(t, `[{"let":{"name":"x","value":{"add":[1,"text"]}}}]`)
	issues := CheckTypes(program)
	if len(issues) != 1 {
		t.Fatalf("issues = %#v", issues)
	}
	d := issues[0]
	if d.Code != CodeTypeMismatch || d.Severity != SevError {
		t.Fatalf("issue = %#v", d)
	}
	if d.Path != "/$[0]/let/value" {
		t.Fatalf("path = %q", d.Path)
	}
	if d.Hint != "Convert arguments to same type" {
		t.Fatalf("hint = %q", d.Hint)
	}
}

func Test_Types_Arithmetic_Results(t *testing.T) {
	cases := []struct {
		src  string
		want string // expected inferred type of x, asserted via downstream op
	}{
		// add over ints stays int-friendly for a later numeric op.
		{`[{"let":{"name":"x","value":{"add":[1,2]}}},{"expr":{"mul":[{"var":"x"},2]}}]`, ""},
		// string add flows into a later string comparison.
		{`[{"let":{"name":"x","value":{"add":["a","b"]}}},{"expr":{"lt":[{"var":"x"},"z"]}}]`, ""},
	}
	for _, tc := range cases {
		if issues := CheckTypes(mustProgram(t, tc.src)); len(issues) != 0 {
			t.Fatalf("unexpected issues for %s: %#v", tc.src, issues)
		}
	}

	// A string propagated into a numeric op is caught downstream.
	src := `[{"let":{"name":"x","value":{"add":["a","b"]}}},{"expr":{"sub":[{"var":"x"},1]}}]`
	issues := CheckTypes(mustProgram(t, src))
	d := findIssue(t, issues, CodeTypeMismatch)
	if d.Path != "/$[1]/expr" {
		t.Fatalf("path = %q", d.Path)
	}
}

func Test_Types_Ordering_Operators(t *testing.T) {
	issues := CheckTypes(mustProgram(t, `[{"expr":{"lt":[1,"a"]}}]`))
	findIssue(t, issues, CodeTypeMismatch)

	if issues := CheckTypes(mustProgram(t, `[{"expr":{"lt":["a","b"]}}]`)); len(issues) != 0 {
		t.Fatalf("string ordering is fine: %#v", issues)
	}
}

func Test_Types_Eq_Suspicious(t *testing.T) {
	issues := CheckTypes(mustProgram(t, `[{"expr":{"eq":[1,"a"]}}]`))
	d := findIssue(t, issues, CodeTypeSuspicious)
	if d.Severity != SevWarning {
		t.Fatalf("severity = %q", d.Severity)
	}

	// null compares with anything quietly.
	if issues := CheckTypes(mustProgram(t, `[{"expr":{"eq":[null,1]}}]`)); len(issues) != 0 {
		t.Fatalf("null-any eq should pass: %#v", issues)
	}
}

func Test_Types_Collections(t *testing.T) {
	// len over a non-container.
	issues := CheckTypes(mustProgram(t, `[{"expr":{"len":[1]}}]`))
	findIssue(t, issues, CodeTypeMismatch)

	// get element type flows onward: list of strings indexed then ordered
	// against a string is fine.
	src := `[
		{"let":{"name":"xs","value":{"list":["a","b"]}}},
		{"expr":{"lt":[{"get":[{"var":"xs"},0]},"z"]}}
	]`
	if issues := CheckTypes(mustProgram(t, src)); len(issues) != 0 {
		t.Fatalf("get element typing failed: %#v", issues)
	}

	// concat mixing a list and a string.
	issues = CheckTypes(mustProgram(t, `[{"expr":{"concat":[{"list":[1]},"a"]}}]`))
	findIssue(t, issues, CodeTypeMismatch)

	// range bounds must be numeric.
	issues = CheckTypes(mustProgram(t, `[{"expr":{"range":["a"]}}]`))
	findIssue(t, issues, CodeTypeMismatch)
}

func Test_Types_Unknown_Suppresses_FalsePositives(t *testing.T) {
	// Calls and cross-function flows infer to unknown and never error.
	src := `[
		{"def":{"name":"f","params":["a"],"body":[{"return":{"var":"a"}}]}},
		{"let":{"name":"x","value":{"call":{"name":"f","args":[1]}}}},
		{"expr":{"add":[{"var":"x"},1]}},
		{"expr":{"lt":[{"var":"x"},"s"]}}
	]`
	if issues := CheckTypes(mustProgram(t, src)); len(issues) != 0 {
		t.Fatalf("unknown should absorb: %#v", issues)
	}
}

func Test_Types_Mismatch_Lists_Offending_Types(t *testing.T) {
	issues := CheckTypes(mustProgram(t, `[{"expr":{"sub":[1,"a"]}}]`))
	d := findIssue(t, issues, CodeTypeMismatch)
	if !strings.Contains(d.Message, "int") || !strings.Contains(d.Message, "str") {
		t.Fatalf("message should list offending types: %q", d.Message)
	}
}
