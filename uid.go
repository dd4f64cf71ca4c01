// uid.go
//
// Stable id stamping. Every statement and function definition may carry a
// string id; the editing tools address nodes through them. GenUID derives
// short random ids ("amr_3fa9c1d2", "fn_0b7e44aa") from UUIDs.
package amorph

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenUID returns a fresh id with the given prefix.
func GenUID(prefix string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s_%s", prefix, hex[:8])
}

// AddUIDs stamps a fresh id on every statement and function definition that
// lacks one. With deep set it also recurses into function bodies and if
// branches. Returns the number of ids added. The tree is modified in place.
func AddUIDs(program []any, deep bool) int {
	var addBlock func(block []any) int
	addBlock = func(block []any) int {
		count := 0
		for _, s := range block {
			stmt, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := stmt["id"]; !ok {
				stmt["id"] = GenUID("amr")
				count++
			}
			if d, ok := stmt["def"].(map[string]any); ok {
				if _, ok := d["id"]; !ok {
					d["id"] = GenUID("fn")
					count++
				}
				if deep {
					if body, ok := d["body"].([]any); ok {
						count += addBlock(body)
					}
				}
			}
			if deep {
				if spec, ok := stmt["if"].(map[string]any); ok {
					for _, key := range []string{"then", "else"} {
						if b, ok := spec[key].([]any); ok {
							count += addBlock(b)
						}
					}
				}
			}
		}
		return count
	}
	return addBlock(program)
}

// FindStmtByID locates a top-level statement by stable id.
func FindStmtByID(program []any, id string) (int, bool) {
	for i, s := range program {
		if stmt, ok := s.(map[string]any); ok {
			if sid, _ := stmt["id"].(string); sid == id {
				return i, true
			}
		}
	}
	return 0, false
}
