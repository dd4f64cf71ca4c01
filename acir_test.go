package amorph

import (
	"strings"
	"testing"
)

const progPackFixture = `[
	{"id":"s_0","let":{"name":"x","value":{"add":[1,2.5]}}},
	{"def":{"name":"greet","id":"fn_greet","params":["who"],"body":[
		{"if":{"cond":{"eq":[{"var":"who"},""]},
			"then":[{"return":"hello"}],
			"else":[{"return":{"concat":["hello, ",{"var":"who"}]}}]}}
	]}},
	{"print":[{"call":{"id":"fn_greet","args":["ada"]}},{"spread":{"list":[1,2]}}]},
	{"expr":{"not":false}}
]`

func Test_ACIR_RoundTrip_CBOR(t *testing.T) {
	program := mustProgram(t, progPackFixture)

	buf, format, err := Pack(program, "cbor")
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if format != "cbor" {
		t.Fatalf("format = %q", format)
	}
	if string(buf[:4]) != "ACIR" || buf[4] != 1 {
		t.Fatalf("bad header: % x", buf[:5])
	}

	back, err := Unpack(buf, "")
	if err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if !EqualTree(program, back) {
		a, _ := Canonical(program)
		b, _ := Canonical(back)
		t.Fatalf("round trip mismatch:\n--- in ---\n%s--- out ---\n%s", a, b)
	}
}

func Test_ACIR_RoundTrip_JSON_Fallback(t *testing.T) {
	program := mustProgram(t, progPackFixture)

	buf, format, err := Pack(program, "json")
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	if format != "json" {
		t.Fatalf("format = %q", format)
	}
	if strings.HasPrefix(string(buf), "ACIR") {
		t.Fatal("json fallback must not carry the binary magic")
	}

	back, err := Unpack(buf, "")
	if err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if !EqualTree(program, back) {
		t.Fatal("json round trip mismatch")
	}
}

func Test_ACIR_Ids_Preserved(t *testing.T) {
	program := mustProgram(t, progPackFixture)
	buf, _, err := Pack(program, "cbor")
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	back, err := Unpack(buf, "")
	if err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	stmt := back[0].(map[string]any)
	if stmt["id"] != "s_0" {
		t.Fatalf("statement id lost: %#v", stmt)
	}
	def := back[1].(map[string]any)["def"].(map[string]any)
	if def["id"] != "fn_greet" {
		t.Fatalf("def id lost: %#v", def)
	}
}

func Test_ACIR_Interns_Identifiers(t *testing.T) {
	program := mustProgram(t, progPackFixture)
	doc, err := EncodeACIR(program)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	inTable := func(s string) bool {
		for _, x := range doc.S {
			if x == s {
				return true
			}
		}
		return false
	}
	for _, s := range []string{"x", "add", "greet", "fn_greet", "who", "concat", "s_0"} {
		if !inTable(s) {
			t.Fatalf("%q missing from string table %#v", s, doc.S)
		}
	}
	// The table is sorted for determinism.
	for i := 1; i < len(doc.S); i++ {
		if doc.S[i-1] > doc.S[i] {
			t.Fatalf("string table not sorted: %#v", doc.S)
		}
	}
	// String literals are not interned.
	if inTable("hello, ") {
		t.Fatalf("literal interned: %#v", doc.S)
	}
}

func Test_ACIR_Wrapper_Accepted(t *testing.T) {
	tree := mustTree(t, `{"version":"0.1","program":[{"let":{"name":"a","value":1}}]}`)
	buf, _, err := Pack(tree, "cbor")
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}
	back, err := Unpack(buf, "")
	if err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if len(back) != 1 {
		t.Fatalf("program len = %d", len(back))
	}
}

func Test_ACIR_Unpack_Rejects_Garbage(t *testing.T) {
	if _, err := Unpack([]byte("ACIR\x07junk"), ""); err == nil {
		t.Fatal("bad version accepted")
	}
	if _, err := Unpack([]byte("{not json"), ""); err == nil {
		t.Fatal("garbage accepted")
	}
}
