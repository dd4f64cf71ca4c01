// edit.go
//
// Declarative edit engine.
//
// An edit batch is an ordered list of operations addressed by stable id or
// canonical path. The whole batch is transactional: operations apply to a
// deep copy and the copy is swapped in only when every operation succeeds,
// so a failing batch leaves the input tree untouched and reports the first
// failure. Dry-run applies to the copy, then returns the preview and a
// structural diff instead of committing.
//
// Operations: add_function, rename_function, insert_before, insert_after,
// replace_call, delete_node, rename_variable, extract_function (the last
// two live in refactor.go).
package amorph

import "fmt"

// EditError reports a failed operation with a stable code.
type EditError struct {
	Code string
	Msg  string
	Path string
}

func (e *EditError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s (at %s)", e.Code, e.Msg, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Msg)
}

func editErr(code, format string, args ...any) *EditError {
	return &EditError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// EditDetail is one line of the apply report.
type EditDetail struct {
	Op      string `json:"op"`
	Index   int    `json:"index"`
	Changed int    `json:"changed,omitempty"`
}

// EditReport summarizes a successful batch.
type EditReport struct {
	Applied int          `json:"applied"`
	Details []EditDetail `json:"details"`
}

// editCtx owns the working copy for the duration of a batch.
type editCtx struct {
	prog []any
}

// ApplyEdits applies the batch transactionally and returns the new tree.
// On failure the original program is returned unchanged along with the
// first failing operation's error.
func ApplyEdits(program []any, edits []any) ([]any, *EditReport, error) {
	ctx := &editCtx{prog: CopyTree(program).([]any)}
	report, err := ctx.apply(edits)
	if err != nil {
		return program, nil, err
	}
	return ctx.prog, report, nil
}

// DryRunEdits produces the same report plus the preview tree and a
// structural diff, without committing anything.
func DryRunEdits(program []any, edits []any) ([]any, *EditReport, []string, error) {
	ctx := &editCtx{prog: CopyTree(program).([]any)}
	report, err := ctx.apply(edits)
	if err != nil {
		return program, nil, nil, err
	}
	return ctx.prog, report, DiffTrees(program, ctx.prog), nil
}

func (ctx *editCtx) apply(edits []any) (*EditReport, error) {
	report := &EditReport{Details: []EditDetail{}}
	for i, e := range edits {
		edit, ok := e.(map[string]any)
		if !ok {
			return nil, editErr(CodeBadSpec, "edit %d must be an object", i)
		}
		op, _ := edit["op"].(string)
		var changed int
		var err error
		switch op {
		case "add_function":
			err = ctx.opAddFunction(edit)
		case "rename_function":
			changed, err = ctx.opRenameFunction(edit)
		case "insert_before":
			err = ctx.opInsert(edit, 0)
		case "insert_after":
			err = ctx.opInsert(edit, 1)
		case "replace_call":
			changed, err = ctx.opReplaceCall(edit)
		case "delete_node":
			err = ctx.opDeleteNode(edit)
		case "rename_variable":
			changed, err = ctx.opRenameVariable(edit)
		case "extract_function":
			err = ctx.opExtractFunction(edit)
		default:
			err = editErr(CodeBadSpec, "unknown op: %q", op)
		}
		if err != nil {
			return nil, err
		}
		report.Applied++
		report.Details = append(report.Details, EditDetail{Op: op, Index: i, Changed: changed})
	}
	return report, nil
}

// -----------------------------
// Addressing
// -----------------------------

// seqSlot addresses one element of a mutable sequence. set replaces the
// whole sequence inside its owner, which is how Go slices are spliced.
type seqSlot struct {
	get func() []any
	set func([]any)
	idx int
}

// seqSlotByPath resolves a canonical path whose last segment must be a
// sequence index. Path errors carry E_BAD_PATH and occur before any
// mutation.
func (ctx *editCtx) seqSlotByPath(path string) (*seqSlot, error) {
	segs, err := ParsePath(path)
	if err != nil {
		return nil, &EditError{Code: CodeBadPath, Msg: err.Error(), Path: path}
	}
	last := segs[len(segs)-1]
	if !last.isSeq() {
		return nil, &EditError{Code: CodeBadPath, Msg: "path must end with a sequence segment like $[n]", Path: path}
	}

	get := func() []any { return ctx.prog }
	set := func(s []any) { ctx.prog = s }
	var cur any = ctx.prog

	for i, s := range segs[:len(segs)-1] {
		switch {
		case s.isSeq():
			seq, ok := cur.([]any)
			if !ok {
				return nil, &EditError{Code: CodeBadPath, Msg: fmt.Sprintf("expected sequence at step %d", i), Path: path}
			}
			if s.Index < 0 || s.Index >= len(seq) {
				return nil, &EditError{Code: CodeBadPath, Msg: fmt.Sprintf("index out of range at step %d", i), Path: path}
			}
			idx := s.Index
			cur = seq[idx]
			get = func() []any { v, _ := seq[idx].([]any); return v }
			set = func(v []any) { seq[idx] = v }
		case s.isFnRef():
			if i != 0 {
				return nil, &EditError{Code: CodeBadPath, Msg: "fn[] segment only valid at path root", Path: path}
			}
			d, err := resolveFnSeg(ctx.prog, s.Name)
			if err != nil {
				return nil, &EditError{Code: CodeBadPath, Msg: err.Error(), Path: path}
			}
			cur = d
		default:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, &EditError{Code: CodeBadPath, Msg: fmt.Sprintf("expected object at step %d", i), Path: path}
			}
			v, ok := m[s.Key]
			if !ok {
				return nil, &EditError{Code: CodeBadPath, Msg: fmt.Sprintf("missing key at step %d: %s", i, s.Key), Path: path}
			}
			key := s.Key
			cur = v
			get = func() []any { x, _ := m[key].([]any); return x }
			set = func(v []any) { m[key] = v }
		}
	}

	if _, ok := cur.([]any); !ok {
		return nil, &EditError{Code: CodeBadPath, Msg: "addressed parent is not a sequence", Path: path}
	}
	return &seqSlot{get: get, set: set, idx: last.Index}, nil
}

// stmtSlotByID finds a statement by stable id anywhere in the program and
// returns the slot of its containing sequence.
func (ctx *editCtx) stmtSlotByID(id string) (*seqSlot, bool) {
	var found *seqSlot
	var walkBlock func(get func() []any, set func([]any))
	walkBlock = func(get func() []any, set func([]any)) {
		block := get()
		for i, s := range block {
			stmt, ok := s.(map[string]any)
			if !ok {
				continue
			}
			if sid, _ := stmt["id"].(string); sid == id && found == nil {
				found = &seqSlot{get: get, set: set, idx: i}
				return
			}
			if spec, ok := stmt["if"].(map[string]any); ok {
				for _, key := range []string{"then", "else"} {
					key := key
					if _, ok := spec[key].([]any); ok {
						walkBlock(
							func() []any { v, _ := spec[key].([]any); return v },
							func(v []any) { spec[key] = v },
						)
					}
				}
			}
			if spec, ok := stmt["def"].(map[string]any); ok {
				if _, ok := spec["body"].([]any); ok {
					walkBlock(
						func() []any { v, _ := spec["body"].([]any); return v },
						func(v []any) { spec["body"] = v },
					)
				}
			}
			if found != nil {
				return
			}
		}
	}
	walkBlock(func() []any { return ctx.prog }, func(v []any) { ctx.prog = v })
	return found, found != nil
}

func (ctx *editCtx) resolveTarget(edit map[string]any, opName string) (*seqSlot, error) {
	if t, ok := edit["target"]; ok {
		id, ok := t.(string)
		if !ok {
			return nil, editErr(CodeBadSpec, "%s.target must be a string", opName)
		}
		slot, ok := ctx.stmtSlotByID(id)
		if !ok {
			return nil, editErr("E_NOT_FOUND", "statement id not found: %s", id)
		}
		return slot, nil
	}
	if p, ok := edit["path"]; ok {
		path, ok := p.(string)
		if !ok {
			return nil, editErr(CodeBadSpec, "%s.path must be a string", opName)
		}
		return ctx.seqSlotByPath(path)
	}
	return nil, editErr(CodeBadSpec, "%s requires target or path", opName)
}

// -----------------------------
// Operations
// -----------------------------

func (ctx *editCtx) opAddFunction(edit map[string]any) error {
	name, _ := edit["name"].(string)
	params, okP := edit["params"].([]any)
	body, okB := edit["body"].([]any)
	if edit["params"] == nil {
		params, okP = []any{}, true
	}
	if edit["body"] == nil {
		body, okB = []any{}, true
	}
	if name == "" || !okP || !okB {
		return editErr(CodeBadSpec, "add_function requires {name:str, params:list, body:list}")
	}
	def := map[string]any{"name": name, "params": params, "body": body}
	if id, _ := edit["id"].(string); id != "" {
		def["id"] = id
	}
	ctx.prog = append(ctx.prog, map[string]any{"def": def})
	return nil
}

func (ctx *editCtx) opRenameFunction(edit map[string]any) (int, error) {
	newName, _ := edit["to"].(string)
	if newName == "" {
		return 0, editErr(CodeBadSpec, "rename_function requires {to:str} and either {id} or {from}")
	}
	fnID, hasID := edit["id"].(string)
	oldName, hasFrom := edit["from"].(string)

	var targets []map[string]any
	for _, s := range ctx.prog {
		stmt, ok := s.(map[string]any)
		if !ok {
			continue
		}
		d, ok := stmt["def"].(map[string]any)
		if !ok {
			continue
		}
		switch {
		case hasID:
			if id, _ := d["id"].(string); id == fnID {
				targets = append(targets, d)
			}
		case hasFrom:
			if n, _ := d["name"].(string); n == oldName {
				targets = append(targets, d)
			}
		}
	}
	if !hasID && !hasFrom {
		return 0, editErr(CodeBadSpec, "rename_function requires id or from")
	}
	if hasFrom && len(targets) > 1 {
		return 0, editErr("E_AMBIGUOUS", "multiple functions named %q found; use id", oldName)
	}
	if len(targets) == 0 {
		return 0, editErr("E_NOT_FOUND", "function not found")
	}

	// Which name do the rewritable call sites carry.
	callName := oldName
	if !hasFrom {
		callName, _ = targets[0]["name"].(string)
	}

	changed := 0
	for _, d := range targets {
		d["name"] = newName
		changed++
	}

	// Rewrite name-style call sites; id-style calls keep working untouched.
	walkMaps(ctx.prog, func(node map[string]any) {
		c, ok := node["call"].(map[string]any)
		if !ok {
			return
		}
		if _, hasCallID := c["id"]; hasCallID {
			return
		}
		if n, _ := c["name"].(string); callName != "" && n == callName {
			c["name"] = newName
		}
	})
	return changed, nil
}

func (ctx *editCtx) opInsert(edit map[string]any, offset int) error {
	node, ok := edit["node"].(map[string]any)
	if !ok {
		return editErr(CodeBadSpec, "insert requires {node:object} and target or path")
	}
	opName := "insert_before"
	if offset == 1 {
		opName = "insert_after"
	}
	slot, err := ctx.resolveTarget(edit, opName)
	if err != nil {
		return err
	}
	seq := slot.get()
	at := slot.idx + offset
	if at < 0 || at > len(seq) {
		return editErr(CodeBadPath, "insert position out of range: %d", at)
	}
	out := make([]any, 0, len(seq)+1)
	out = append(out, seq[:at]...)
	out = append(out, node)
	out = append(out, seq[at:]...)
	slot.set(out)
	return nil
}

func (ctx *editCtx) opReplaceCall(edit map[string]any) (int, error) {
	match, okM := edit["match"].(map[string]any)
	setv, okS := edit["set"].(map[string]any)
	if !okM || !okS {
		return 0, editErr(CodeBadSpec, "replace_call requires {match:{}, set:{}}")
	}
	mName, _ := match["name"].(string)
	mID, _ := match["id"].(string)
	if mName == "" && mID == "" {
		return 0, editErr(CodeBadSpec, "replace_call match must include name or id")
	}

	changed := 0
	walkMaps(ctx.prog, func(node map[string]any) {
		c, ok := node["call"].(map[string]any)
		if !ok {
			return
		}
		cID, _ := c["id"].(string)
		cName, _ := c["name"].(string)
		if !(mID != "" && cID == mID) && !(mName != "" && cName == mName) {
			return
		}
		if n, ok := setv["name"]; ok {
			c["name"] = n
			delete(c, "id")
		}
		if id, ok := setv["id"]; ok {
			c["id"] = id
			delete(c, "name")
		}
		if args, ok := setv["args"]; ok {
			c["args"] = CopyTree(args)
		}
		changed++
	})
	return changed, nil
}

func (ctx *editCtx) opDeleteNode(edit map[string]any) error {
	slot, err := ctx.resolveTarget(edit, "delete_node")
	if err != nil {
		return err
	}
	seq := slot.get()
	if slot.idx < 0 || slot.idx >= len(seq) {
		return editErr(CodeBadPath, "delete index out of range: %d", slot.idx)
	}
	out := make([]any, 0, len(seq)-1)
	out = append(out, seq[:slot.idx]...)
	out = append(out, seq[slot.idx+1:]...)
	slot.set(out)
	return nil
}

// walkMaps visits every map node in the tree, depth first.
func walkMaps(node any, visit func(map[string]any)) {
	switch n := node.(type) {
	case map[string]any:
		for _, v := range n {
			walkMaps(v, visit)
		}
		visit(n)
	case []any:
		for _, v := range n {
			walkMaps(v, visit)
		}
	}
}

// -----------------------------
// Structural diff
// -----------------------------

// DiffTrees lists the canonical paths at which two trees differ. Sequences
// of different length report the sequence path itself; equal-length
// containers descend.
func DiffTrees(before, after any) []string {
	var out []string
	diffTrees(nil, before, after, &out)
	return out
}

func diffTrees(prefix []PathSeg, a, b any, out *[]string) {
	if EqualTree(a, b) {
		return
	}
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		keys := map[string]bool{}
		for k := range am {
			keys[k] = true
		}
		for k := range bm {
			keys[k] = true
		}
		for k := range keys {
			av, inA := am[k]
			bv, inB := bm[k]
			if !inA || !inB {
				*out = append(*out, PathString(append(cloneSegs(prefix), fieldSeg(k))))
				continue
			}
			diffTrees(append(cloneSegs(prefix), fieldSeg(k)), av, bv, out)
		}
		return
	}
	as, aok := a.([]any)
	bs, bok := b.([]any)
	if aok && bok {
		if len(as) != len(bs) {
			*out = append(*out, PathString(prefix))
			return
		}
		for i := range as {
			diffTrees(append(cloneSegs(prefix), seqSeg(i)), as[i], bs[i], out)
		}
		return
	}
	*out = append(*out, PathString(prefix))
}

// FormatDiff renders a diff list for human output.
func FormatDiff(paths []string) string {
	out := ""
	for _, p := range paths {
		out += "~ " + p + "\n"
	}
	if out == "" {
		out = "(no structural changes)\n"
	}
	return out
}
