package amorph

import "testing"

// mustTree parses a JSON document (numbers preserved) or fails the test.
func mustTree(t *testing.T, src string) any {
	t.Helper()
	tree, err := DecodeJSONBytes([]byte(src))
	if err != nil {
		t.Fatalf("bad test JSON: %v\n%s", err, src)
	}
	return tree
}

// mustProgram parses a JSON program sequence.
func mustProgram(t *testing.T, src string) []any {
	t.Helper()
	tree := mustTree(t, src)
	program, _, err := Normalize(tree)
	if err != nil {
		t.Fatalf("bad test program: %v", err)
	}
	return program
}

// runScripted executes a program against a scripted backend and returns the
// backend for output inspection.
func runScripted(t *testing.T, src string, stdin []string, opts VMOptions) (*ScriptedIO, Value, error) {
	t.Helper()
	io := NewScriptedIO(stdin)
	opts.IO = io
	vm := NewVM(opts)
	v, err := vm.Run(mustTree(t, src))
	return io, v, err
}

// wantRuntimeKind asserts err is a *RuntimeError of the given kind.
func wantRuntimeKind(t *testing.T, err error, kind string) *RuntimeError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	re, ok := err.(*RuntimeError)
	if !ok {
		t.Fatalf("expected *RuntimeError, got %T: %v", err, err)
	}
	if re.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%s)", kind, re.Kind, re.Msg)
	}
	return re
}

// findIssue returns the first diagnostic with the given code.
func findIssue(t *testing.T, issues []Diagnostic, code string) Diagnostic {
	t.Helper()
	for _, d := range issues {
		if d.Code == code {
			return d
		}
	}
	t.Fatalf("no %s diagnostic in %#v", code, issues)
	return Diagnostic{}
}

func hasIssue(issues []Diagnostic, code string) bool {
	for _, d := range issues {
		if d.Code == code {
			return true
		}
	}
	return false
}
