package amorph

import "testing"

func Test_Migrate_Calls_To_ID(t *testing.T) {
	program := mustProgram(t, `[
		{"def":{"name":"f","id":"fn_f","params":[],"body":[]}},
		{"expr":{"call":{"name":"f","args":[]}}},
		{"expr":{"call":{"id":"fn_f","args":[]}}}
	]`)
	changed := MigrateCallsToID(program)
	if changed != 1 {
		t.Fatalf("changed = %d", changed)
	}
	c := program[1].(map[string]any)["expr"].(map[string]any)["call"].(map[string]any)
	if c["id"] != "fn_f" {
		t.Fatalf("call = %#v", c)
	}
	if _, hasName := c["name"]; hasName {
		t.Fatalf("name kept: %#v", c)
	}
}

func Test_Migrate_Skips_Ambiguous_Names(t *testing.T) {
	program := mustProgram(t, `[
		{"def":{"name":"dup","id":"fn_1","params":[],"body":[]}},
		{"def":{"name":"dup","id":"fn_2","params":[],"body":[]}},
		{"expr":{"call":{"name":"dup","args":[]}}}
	]`)
	if changed := MigrateCallsToID(program); changed != 0 {
		t.Fatalf("changed = %d, ambiguous name must be skipped", changed)
	}
	c := program[2].(map[string]any)["expr"].(map[string]any)["call"].(map[string]any)
	if c["name"] != "dup" {
		t.Fatalf("call rewritten despite ambiguity: %#v", c)
	}
}

func Test_Migrate_Calls_To_Name_Is_Inverse(t *testing.T) {
	program := mustProgram(t, `[
		{"def":{"name":"f","id":"fn_f","params":[],"body":[]}},
		{"expr":{"call":{"name":"f","args":[]}}}
	]`)
	MigrateCallsToID(program)
	changed := MigrateCallsToName(program)
	if changed != 1 {
		t.Fatalf("changed = %d", changed)
	}
	c := program[1].(map[string]any)["expr"].(map[string]any)["call"].(map[string]any)
	if c["name"] != "f" {
		t.Fatalf("call = %#v", c)
	}
	if _, hasID := c["id"]; hasID {
		t.Fatalf("id kept: %#v", c)
	}
}

func Test_Migrate_Calls_Inside_Bodies(t *testing.T) {
	program := mustProgram(t, `[
		{"def":{"name":"f","id":"fn_f","params":[],"body":[]}},
		{"def":{"name":"g","id":"fn_g","params":[],"body":[
			{"return":{"call":{"name":"f","args":[]}}}
		]}}
	]`)
	if changed := MigrateCallsToID(program); changed != 1 {
		t.Fatalf("changed = %d", changed)
	}
	ret := program[1].(map[string]any)["def"].(map[string]any)["body"].([]any)[0].(map[string]any)
	c := ret["return"].(map[string]any)["call"].(map[string]any)
	if c["id"] != "fn_f" {
		t.Fatalf("nested call not migrated: %#v", c)
	}
}
