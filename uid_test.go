package amorph

import (
	"strings"
	"testing"
)

func Test_UID_Format(t *testing.T) {
	id := GenUID("amr")
	if !strings.HasPrefix(id, "amr_") || len(id) != len("amr_")+8 {
		t.Fatalf("id = %q", id)
	}
	if id == GenUID("amr") {
		t.Fatal("ids should not repeat")
	}
}

func Test_AddUIDs_Shallow(t *testing.T) {
	program := mustProgram(t, `[
		{"let":{"name":"a","value":1}},
		{"id":"keep","let":{"name":"b","value":2}},
		{"def":{"name":"f","params":[],"body":[{"return":1}]}}
	]`)
	added := AddUIDs(program, false)
	// let a, def stmt, def spec each get one; existing id kept.
	if added != 3 {
		t.Fatalf("added = %d", added)
	}
	if program[1].(map[string]any)["id"] != "keep" {
		t.Fatal("existing id overwritten")
	}
	d := program[2].(map[string]any)["def"].(map[string]any)
	if id, _ := d["id"].(string); !strings.HasPrefix(id, "fn_") {
		t.Fatalf("def id = %v", d["id"])
	}
	// Shallow: body statements untouched.
	body := d["body"].([]any)
	if _, ok := body[0].(map[string]any)["id"]; ok {
		t.Fatal("shallow stamping recursed")
	}
}

func Test_AddUIDs_Deep(t *testing.T) {
	program := mustProgram(t, `[
		{"def":{"name":"f","params":[],"body":[{"return":1}]}},
		{"if":{"cond":true,"then":[{"let":{"name":"x","value":1}}],"else":[{"print":[1]}]}}
	]`)
	AddUIDs(program, true)
	body := program[0].(map[string]any)["def"].(map[string]any)["body"].([]any)
	if _, ok := body[0].(map[string]any)["id"]; !ok {
		t.Fatal("body statement not stamped")
	}
	spec := program[1].(map[string]any)["if"].(map[string]any)
	for _, key := range []string{"then", "else"} {
		b := spec[key].([]any)
		if _, ok := b[0].(map[string]any)["id"]; !ok {
			t.Fatalf("%s branch not stamped", key)
		}
	}
}

func Test_FindStmtByID(t *testing.T) {
	program := mustProgram(t, progThreeLets)
	idx, ok := FindStmtByID(program, "s_b")
	if !ok || idx != 1 {
		t.Fatalf("idx=%d ok=%v", idx, ok)
	}
	if _, ok := FindStmtByID(program, "missing"); ok {
		t.Fatal("found a ghost")
	}
}
