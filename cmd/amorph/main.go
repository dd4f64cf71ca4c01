// Command amorph is the CLI front-end over the Amorph core: run, validate,
// format, minify, pack, edit, rewrite, migrate and suggest, plus a small
// JSON REPL.
//
// Exit codes: 0 success, 1 static or runtime error, 2 usage / I/O error.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	amorph "github.com/elmisi/amorph-code"
)

// usageErr marks failures that should exit 2 (bad invocation, unreadable
// files) instead of 1 (program-level errors).
type usageErr struct{ err error }

func (u usageErr) Error() string { return u.err.Error() }

// progErr marks ordinary static/runtime failures (exit 1).
type progErr struct{ err error }

func (p progErr) Error() string { return p.err.Error() }

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
		// Every RunE failure is a usageErr or a progErr; anything else comes
		// from cobra's own argument and flag checks, a bad invocation.
		var p progErr
		if errors.As(err, &p) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// readTree loads a JSON (or YAML, for edit/rule files) document with
// numbers preserved.
func readTree(path string) (any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, usageErr{err}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, usageErr{fmt.Errorf("%s: %w", path, err)}
		}
		return yamlToTree(raw), nil
	default:
		tree, err := amorph.DecodeJSONBytes(b)
		if err != nil {
			return nil, usageErr{fmt.Errorf("%s: %w", path, err)}
		}
		return tree, nil
	}
}

// yamlToTree converts a yaml.v3 document into the canonical JSON tree shape
// (string-keyed maps, json.Number scalars).
func yamlToTree(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = yamlToTree(v)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = yamlToTree(v)
		}
		return out
	case int:
		return json.Number(fmt.Sprintf("%d", n))
	case int64:
		return json.Number(fmt.Sprintf("%d", n))
	case float64:
		b, _ := json.Marshal(n)
		return json.Number(b)
	default:
		return node
	}
}

func writeCanonicalFile(path string, tree any) error {
	b, err := amorph.Canonical(tree)
	if err != nil {
		return progErr{err}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return usageErr{err}
	}
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return progErr{err}
	}
	fmt.Println(string(b))
	return nil
}

func asSequence(tree any) ([]any, error) {
	program, _, err := amorph.Normalize(tree)
	if err != nil {
		return nil, progErr{err}
	}
	return program, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "amorph",
		Short:         "Amorph: an AI-first language whose programs are canonical ASTs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newFmtCmd(),
		newMinifyCmd(),
		newUnminifyCmd(),
		newPackCmd(),
		newUnpackCmd(),
		newEditCmd(),
		newRewriteCmd(),
		newAddUIDCmd(),
		newMigrateCallsCmd(),
		newSuggestCmd(),
		newReplCmd(),
	)
	return root
}

func newRunCmd() *cobra.Command {
	var trace, traceJSON, quiet, denyInput, denyPrint, richErrors bool
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			opts := amorph.VMOptions{
				Trace:      trace,
				TraceJSON:  traceJSON,
				DenyInput:  denyInput,
				DenyPrint:  denyPrint,
				RichErrors: richErrors,
			}
			if quiet {
				opts.IO = amorph.NewQuietIO()
			} else {
				opts.IO = amorph.NewStdIO()
			}
			vm := amorph.NewVM(opts)
			result, err := vm.Run(tree)
			if err != nil {
				var re *amorph.RuntimeError
				if richErrors && errors.As(err, &re) {
					fmt.Fprintln(os.Stderr, re.FormatRich())
					return progErr{errors.New(re.Kind)}
				}
				return progErr{err}
			}
			if result.Tag != amorph.VTNull && !quiet {
				fmt.Println(result.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "emit a human-readable execution trace")
	cmd.Flags().BoolVar(&traceJSON, "trace-json", false, "emit NDJSON trace events on stderr")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "capture program prints instead of writing them")
	cmd.Flags().BoolVar(&denyInput, "deny-input", false, "deny the input capability")
	cmd.Flags().BoolVar(&denyPrint, "deny-print", false, "deny the print capability")
	cmd.Flags().BoolVar(&richErrors, "rich-errors", false, "attach path and call stack to runtime errors")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var asJSON, checkTypes, checkScopes bool
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a program (semantics, optionally scopes and types)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			issues := amorph.ValidateProgram(tree, amorph.ValidateOptions{
				PreferID:    true,
				CheckScopes: checkScopes,
				CheckTypes:  checkTypes,
			})
			report := amorph.NewReport(issues)
			if asJSON {
				if err := printJSON(report); err != nil {
					return err
				}
				if !report.OK {
					return progErr{errors.New("validation failed")}
				}
				return nil
			}
			if report.OK {
				fmt.Println("OK")
				return nil
			}
			first := report.Issues[0]
			return progErr{fmt.Errorf("Invalid: [%s] %s at %s", first.Code, first.Message, first.Path)}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit a JSON report")
	cmd.Flags().BoolVar(&checkTypes, "check-types", false, "run the type inference pass")
	cmd.Flags().BoolVar(&checkScopes, "check-scopes", false, "run the scope analysis pass")
	return cmd
}

func newFmtCmd() *cobra.Command {
	var inPlace bool
	cmd := &cobra.Command{
		Use:   "fmt <file>",
		Short: "Canonicalize a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			if inPlace {
				return writeCanonicalFile(args[0], tree)
			}
			b, err := amorph.Canonical(tree)
			if err != nil {
				return progErr{err}
			}
			fmt.Print(string(b))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&inPlace, "in-place", "i", false, "rewrite the file in place")
	return cmd
}

func newMinifyCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "minify <file>",
		Short: "Convert to the short-key form",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			b, err := amorph.CanonicalCompact(amorph.MinifyKeys(tree))
			if err != nil {
				return progErr{err}
			}
			if err := os.WriteFile(output, append(b, '\n'), 0o644); err != nil {
				return usageErr{err}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newUnminifyCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "unminify <file>",
		Short: "Restore canonical keys from the short-key form",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			return writeCanonicalFile(output, amorph.UnminifyKeys(tree))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newPackCmd() *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "pack <file>",
		Short: "Pack a program into the ACIR binary form",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			buf, fmtName, err := amorph.Pack(tree, format)
			if err != nil {
				return progErr{err}
			}
			if err := os.WriteFile(output, buf, 0o644); err != nil {
				return usageErr{err}
			}
			fmt.Printf("wrote %s (%s, %d bytes)\n", output, fmtName, len(buf))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().StringVar(&format, "format", "", "cbor (default) or json")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newUnpackCmd() *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "unpack <file>",
		Short: "Unpack ACIR back to the canonical program",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			buf, err := os.ReadFile(args[0])
			if err != nil {
				return usageErr{err}
			}
			program, err := amorph.Unpack(buf, format)
			if err != nil {
				return progErr{err}
			}
			if err := writeCanonicalFile(output, program); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	cmd.Flags().StringVar(&format, "format", "", "cbor or json (sniffed when omitted)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newEditCmd() *cobra.Command {
	var dryRun, jsonErrors bool
	cmd := &cobra.Command{
		Use:   "edit <program> <edits>",
		Short: "Apply declarative edits transactionally",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			progTree, err := readTree(args[0])
			if err != nil {
				return err
			}
			editsTree, err := readTree(args[1])
			if err != nil {
				return err
			}
			program, err := asSequence(progTree)
			if err != nil {
				return err
			}
			edits, ok := editsTree.([]any)
			if !ok {
				return usageErr{errors.New("edits must be a JSON array")}
			}
			// Stable ids make target addressing reliable.
			amorph.AddUIDs(program, true)

			if dryRun {
				preview, report, diff, err := amorph.DryRunEdits(program, edits)
				if err != nil {
					return editFailure(err, jsonErrors)
				}
				return printJSON(map[string]any{
					"report":  report,
					"diff":    diff,
					"preview": preview,
				})
			}
			next, report, err := amorph.ApplyEdits(program, edits)
			if err != nil {
				return editFailure(err, jsonErrors)
			}
			if err := writeCanonicalFile(args[0], next); err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report and preview without writing")
	cmd.Flags().BoolVar(&jsonErrors, "json-errors", false, "emit failures as JSON")
	return cmd
}

func editFailure(err error, asJSON bool) error {
	var ee *amorph.EditError
	if asJSON && errors.As(err, &ee) {
		b, _ := json.Marshal(map[string]any{"error": map[string]any{
			"code": ee.Code, "message": ee.Msg, "path": ee.Path,
		}})
		fmt.Println(string(b))
		return progErr{errors.New(ee.Code)}
	}
	return progErr{err}
}

func newRewriteCmd() *cobra.Command {
	var dryRun bool
	var limit int
	cmd := &cobra.Command{
		Use:   "rewrite <program> <rules>",
		Short: "Apply pattern rewrite rules to a fixed point",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			progTree, err := readTree(args[0])
			if err != nil {
				return err
			}
			rulesTree, err := readTree(args[1])
			if err != nil {
				return err
			}
			program, err := asSequence(progTree)
			if err != nil {
				return err
			}
			rules, err := amorph.ParseRules(rulesTree)
			if err != nil {
				return progErr{err}
			}
			rw := amorph.NewRewriter(rules)
			next, n := rw.Apply(program, limit)
			for _, w := range rw.Warnings {
				fmt.Fprintf(os.Stderr, "warning: %s\n", w)
			}
			if dryRun {
				return printJSON(map[string]any{"replacements": n, "preview": next})
			}
			if err := writeCanonicalFile(args[0], next); err != nil {
				return err
			}
			return printJSON(map[string]any{"replacements": n})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without writing")
	cmd.Flags().IntVar(&limit, "limit", 0, "cap total replacements (0 = to fixed point)")
	return cmd
}

func newAddUIDCmd() *cobra.Command {
	var inPlace, deep bool
	cmd := &cobra.Command{
		Use:   "add-uid <file>",
		Short: "Stamp missing stable ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			program, err := asSequence(tree)
			if err != nil {
				return err
			}
			added := amorph.AddUIDs(program, deep)
			if inPlace {
				if err := writeCanonicalFile(args[0], program); err != nil {
					return err
				}
			} else {
				b, err := amorph.Canonical(program)
				if err != nil {
					return progErr{err}
				}
				fmt.Print(string(b))
			}
			fmt.Fprintf(os.Stderr, "Added %d uid(s)\n", added)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&inPlace, "in-place", "i", false, "rewrite the file in place")
	cmd.Flags().BoolVar(&deep, "deep", false, "recurse into bodies and branches")
	return cmd
}

func newMigrateCallsCmd() *cobra.Command {
	var dryRun bool
	var to string
	cmd := &cobra.Command{
		Use:   "migrate-calls <file>",
		Short: "Normalize call style (name or id)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			program, err := asSequence(tree)
			if err != nil {
				return err
			}
			var changed int
			switch to {
			case "id":
				changed = amorph.MigrateCallsToID(program)
			case "name":
				changed = amorph.MigrateCallsToName(program)
			default:
				return usageErr{fmt.Errorf("unknown --to style: %q", to)}
			}
			if dryRun {
				return printJSON(map[string]any{"changed": changed, "preview": program})
			}
			if err := writeCanonicalFile(args[0], program); err != nil {
				return err
			}
			return printJSON(map[string]any{"changed": changed})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without writing")
	cmd.Flags().StringVar(&to, "to", "id", "target call style: id or name")
	return cmd
}

func newSuggestCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "suggest <file>",
		Short: "Suggest improvements and refactorings",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			tree, err := readTree(args[0])
			if err != nil {
				return err
			}
			program, err := asSequence(tree)
			if err != nil {
				return err
			}
			suggestions := amorph.SuggestImprovements(program)
			if asJSON {
				return printJSON(map[string]any{
					"total":       len(suggestions),
					"suggestions": suggestions,
				})
			}
			if len(suggestions) == 0 {
				fmt.Println("No suggestions found. Program looks good!")
				return nil
			}
			fmt.Printf("Found %d suggestions:\n\n", len(suggestions))
			for i, s := range suggestions {
				fmt.Printf("%d. [%s] %s\n", i+1, strings.ToUpper(s.Priority), s.Operation)
				fmt.Printf("   Reason: %s\n", s.Reason)
				fmt.Printf("   Impact: %s\n\n", s.Impact)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit suggestions as JSON")
	return cmd
}
