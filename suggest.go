// suggest.go
//
// Improvement suggestions: missing ids, mixed call styles, rename and
// extract-function candidates, plus a small health-metric report. Every
// suggestion carries an edit spec: rename_variable and extract_function
// specs are ApplyEdits operations, while the add_uid and migrate_calls specs
// name the AddUIDs and MigrateCallsToID steps, which ApplyEdits does not
// accept.
package amorph

import (
	"fmt"
	"sort"
)

// Suggestion is one proposed improvement.
type Suggestion struct {
	Operation string         `json:"operation"`
	Reason    string         `json:"reason"`
	EditSpec  map[string]any `json:"edit_spec"`
	Priority  string         `json:"priority"` // high | medium | low
	Impact    string         `json:"estimated_impact"`
}

// SuggestImprovements analyzes a program and returns actionable
// suggestions, highest priority concerns first within each category.
func SuggestImprovements(program []any) []Suggestion {
	var out []Suggestion

	// Functions lacking a stable id.
	for i, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			continue
		}
		d, ok := stmt["def"].(map[string]any)
		if !ok {
			continue
		}
		if _, ok := d["id"]; !ok {
			name, _ := d["name"].(string)
			if name == "" {
				name = "anonymous"
			}
			out = append(out, Suggestion{
				Operation: "add_uid",
				Reason:    fmt.Sprintf("function %q lacks a stable id for robust references", name),
				EditSpec: map[string]any{
					"op":   "add_uid",
					"path": fmt.Sprintf("/$[%d]/def", i),
					"deep": false,
				},
				Priority: "medium",
				Impact:   "Safe",
			})
		}
	}

	// Statements lacking ids.
	missing := 0
	for _, s := range program {
		if stmt, ok := s.(map[string]any); ok {
			if _, ok := stmt["id"]; !ok {
				missing++
			}
		}
	}
	if missing > 0 {
		out = append(out, Suggestion{
			Operation: "add_uid_all",
			Reason:    fmt.Sprintf("%d statements lack ids for precise targeting", missing),
			EditSpec:  map[string]any{"op": "add_uid", "deep": true},
			Priority:  "low",
			Impact:    "Safe",
		})
	}

	// Mixed call styles.
	hasName, hasID := callStyles(program)
	if hasName && hasID {
		out = append(out, Suggestion{
			Operation: "migrate_calls",
			Reason:    "mixed call styles (name and id) found - inconsistent references",
			EditSpec:  map[string]any{"op": "migrate_calls", "to": "id"},
			Priority:  "medium",
			Impact:    "Safe",
		})
	}

	// Single-letter variables with many references.
	refs := collectVarRefs(program)
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if len(name) == 1 && len(refs[name]) > 3 {
			out = append(out, Suggestion{
				Operation: "rename_variable",
				Reason:    fmt.Sprintf("single-letter variable %q used %d times", name, len(refs[name])),
				EditSpec: map[string]any{
					"op":       "rename_variable",
					"old_name": name,
					"new_name": name + "_descriptive",
					"scope":    "all",
				},
				Priority: "medium",
				Impact:   "Safe",
			})
		}
	}

	// Runs of plain statements that could become a function.
	out = append(out, suggestExtractFunction(program, 3)...)

	return out
}

func callStyles(program []any) (hasName, hasID bool) {
	walkMaps(program, func(node map[string]any) {
		if c, ok := node["call"].(map[string]any); ok {
			if _, ok := c["name"]; ok {
				hasName = true
			}
			if _, ok := c["id"]; ok {
				hasID = true
			}
		}
	})
	return
}

func suggestExtractFunction(program []any, minStatements int) []Suggestion {
	var out []Suggestion
	for i := 0; i+minStatements <= len(program); i++ {
		run := program[i : i+minStatements]
		plain := true
		for _, s := range run {
			stmt, ok := s.(map[string]any)
			if !ok || stmt["def"] != nil {
				plain = false
				break
			}
		}
		if !plain {
			continue
		}
		free := FreeVariableNames(run)
		indices := make([]any, minStatements)
		for j := range indices {
			indices[j] = i + j
		}
		params := make([]any, len(free))
		for j, name := range free {
			params[j] = name
		}
		out = append(out, Suggestion{
			Operation: "extract_function",
			Reason:    fmt.Sprintf("sequence of %d statements at /$[%d] could be extracted", minStatements, i),
			EditSpec: map[string]any{
				"op":                "extract_function",
				"function_name":     fmt.Sprintf("extracted_function_%d", i),
				"statements":        indices,
				"parameters":        params,
				"insert_at":         i,
				"replace_with_call": true,
			},
			Priority: "low",
			Impact:   "Optimization",
		})
	}
	return out
}

// HealthReport summarizes program-wide metrics.
type HealthReport struct {
	TotalStatements   int      `json:"total_statements"`
	TotalFunctions    int      `json:"total_functions"`
	FunctionsWithID   int      `json:"functions_with_id"`
	StatementsWithID  int      `json:"statements_with_id"`
	TotalVariables    int      `json:"total_variables"`
	UniqueVariables   []string `json:"unique_variables"`
	AvgFunctionLength float64  `json:"avg_function_length"`
	MaxNestingDepth   int      `json:"max_nesting_depth"`
	CallStyle         string   `json:"call_style"` // name | id | mixed | none
}

// AnalyzeProgramHealth computes the metric report.
func AnalyzeProgramHealth(program []any) HealthReport {
	rep := HealthReport{}
	var fnLengths []int

	var depth func(node any, d int) int
	depth = func(node any, d int) int {
		max := d
		switch n := node.(type) {
		case map[string]any:
			for _, v := range n {
				if m := depth(v, d+1); m > max {
					max = m
				}
			}
		case []any:
			for _, v := range n {
				if m := depth(v, d+1); m > max {
					max = m
				}
			}
		}
		return max
	}

	rep.TotalStatements = len(program)
	for _, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := stmt["id"]; ok {
			rep.StatementsWithID++
		}
		if d, ok := stmt["def"].(map[string]any); ok {
			rep.TotalFunctions++
			if _, ok := d["id"]; ok {
				rep.FunctionsWithID++
			}
			body, _ := d["body"].([]any)
			fnLengths = append(fnLengths, len(body))
			for _, b := range body {
				if m := depth(b, 0); m > rep.MaxNestingDepth {
					rep.MaxNestingDepth = m
				}
			}
		}
	}

	refs := collectVarRefs(program)
	rep.TotalVariables = len(refs)
	for name := range refs {
		rep.UniqueVariables = append(rep.UniqueVariables, name)
	}
	sort.Strings(rep.UniqueVariables)

	if len(fnLengths) > 0 {
		sum := 0
		for _, n := range fnLengths {
			sum += n
		}
		rep.AvgFunctionLength = float64(sum) / float64(len(fnLengths))
	}

	hasName, hasID := callStyles(program)
	switch {
	case hasName && hasID:
		rep.CallStyle = "mixed"
	case hasID:
		rep.CallStyle = "id"
	case hasName:
		rep.CallStyle = "name"
	default:
		rep.CallStyle = "none"
	}
	return rep
}
