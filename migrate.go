// migrate.go
//
// Call-style migration: rewrite call sites to id-style (robust against
// renames) or back to name-style (readable). Names defined more than once
// are ambiguous and their call sites are left alone.
package amorph

// fnMaps indexes top-level defs: unique name → id, plus the set of
// duplicated names.
func fnMaps(program []any) (byName map[string]string, dup map[string]bool) {
	byName = map[string]string{}
	dup = map[string]bool{}
	for _, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			continue
		}
		d, ok := stmt["def"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := d["name"].(string)
		id, _ := d["id"].(string)
		if name == "" || id == "" {
			continue
		}
		if prev, ok := byName[name]; ok && prev != id {
			dup[name] = true
			continue
		}
		byName[name] = id
	}
	return byName, dup
}

// MigrateCallsToID stamps missing ids, then rewrites every unambiguous
// name-style call to id-style. Returns the number of rewritten calls.
func MigrateCallsToID(program []any) int {
	AddUIDs(program, true)
	byName, dup := fnMaps(program)
	changed := 0
	walkMaps(program, func(node map[string]any) {
		c, ok := node["call"].(map[string]any)
		if !ok {
			return
		}
		if _, hasID := c["id"]; hasID {
			return
		}
		name, _ := c["name"].(string)
		if id, ok := byName[name]; ok && !dup[name] {
			c["id"] = id
			delete(c, "name")
			changed++
		}
	})
	return changed
}

// MigrateCallsToName rewrites id-style calls back to name-style where the
// id resolves. Returns the number of rewritten calls.
func MigrateCallsToName(program []any) int {
	byID := map[string]string{}
	for _, s := range program {
		stmt, ok := s.(map[string]any)
		if !ok {
			continue
		}
		d, ok := stmt["def"].(map[string]any)
		if !ok {
			continue
		}
		id, _ := d["id"].(string)
		name, _ := d["name"].(string)
		if id != "" && name != "" {
			byID[id] = name
		}
	}
	changed := 0
	walkMaps(program, func(node map[string]any) {
		c, ok := node["call"].(map[string]any)
		if !ok {
			return
		}
		id, _ := c["id"].(string)
		if name, ok := byID[id]; ok {
			c["name"] = name
			delete(c, "id")
			changed++
		}
	})
	return changed
}
