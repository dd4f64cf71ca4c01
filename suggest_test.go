package amorph

import "testing"

func Test_Suggest_Missing_Ids_And_Mixed_Style(t *testing.T) {
	program := mustProgram(t, `[
		{"def":{"name":"f","params":[],"body":[]}},
		{"def":{"name":"g","id":"fn_g","params":[],"body":[]}},
		{"expr":{"call":{"name":"f","args":[]}}},
		{"expr":{"call":{"id":"fn_g","args":[]}}}
	]`)
	suggestions := SuggestImprovements(program)

	byOp := map[string]int{}
	for _, s := range suggestions {
		byOp[s.Operation]++
	}
	if byOp["add_uid"] != 1 {
		t.Fatalf("add_uid suggestions = %d: %#v", byOp["add_uid"], suggestions)
	}
	if byOp["add_uid_all"] != 1 {
		t.Fatalf("add_uid_all suggestions = %d", byOp["add_uid_all"])
	}
	if byOp["migrate_calls"] != 1 {
		t.Fatalf("migrate_calls suggestions = %d", byOp["migrate_calls"])
	}
}

func Test_Suggest_SingleLetter_Rename(t *testing.T) {
	program := mustProgram(t, `[
		{"let":{"name":"q","value":1}},
		{"print":[{"var":"q"}]},
		{"print":[{"var":"q"}]},
		{"print":[{"var":"q"}]}
	]`)
	suggestions := SuggestImprovements(program)
	var found *Suggestion
	for i := range suggestions {
		if suggestions[i].Operation == "rename_variable" {
			found = &suggestions[i]
		}
	}
	if found == nil {
		t.Fatalf("no rename suggestion: %#v", suggestions)
	}
	if found.EditSpec["old_name"] != "q" {
		t.Fatalf("spec = %#v", found.EditSpec)
	}
}

func Test_Suggest_Extract_Candidates_Carry_Free_Vars(t *testing.T) {
	program := mustProgram(t, `[
		{"print":[{"var":"a"}]},
		{"print":[{"var":"b"}]},
		{"print":[{"var":"a"}]}
	]`)
	suggestions := SuggestImprovements(program)
	var found *Suggestion
	for i := range suggestions {
		if suggestions[i].Operation == "extract_function" {
			found = &suggestions[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("no extract suggestion: %#v", suggestions)
	}
	params := found.EditSpec["parameters"].([]any)
	if len(params) != 2 {
		t.Fatalf("parameters = %#v", params)
	}
}

func Test_Suggest_Health_Report(t *testing.T) {
	program := mustProgram(t, progFactorial)
	rep := AnalyzeProgramHealth(program)
	if rep.TotalStatements != 2 || rep.TotalFunctions != 1 || rep.FunctionsWithID != 1 {
		t.Fatalf("report = %#v", rep)
	}
	if rep.CallStyle != "id" {
		t.Fatalf("call style = %q", rep.CallStyle)
	}
	if rep.TotalVariables == 0 || rep.AvgFunctionLength == 0 {
		t.Fatalf("report = %#v", rep)
	}
}

func Test_Suggest_Clean_Program(t *testing.T) {
	program := mustProgram(t, `[
		{"id":"s_1","def":{"name":"f","id":"fn_f","params":[],"body":[]}},
		{"id":"s_2","expr":{"call":{"id":"fn_f","args":[]}}}
	]`)
	for _, s := range SuggestImprovements(program) {
		switch s.Operation {
		case "add_uid", "add_uid_all", "migrate_calls", "rename_variable":
			t.Fatalf("unexpected suggestion: %#v", s)
		}
	}
}
