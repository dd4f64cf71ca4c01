// errors.go: runtime error kinds and rich-context rendering.
//
// Runtime failures carry a stable kind code (E_DIV_ZERO, E_UNDEFINED_VAR, ...)
// and, when the VM runs with rich errors enabled, an ErrorContext holding the
// canonical path of the offending node, a call-stack snapshot and a short
// excerpt of the subtree. FormatRich renders the multi-line form; the plain
// Error() string always includes kind and message.
package amorph

import (
	"fmt"
	"strings"
)

// Runtime error kinds.
const (
	ErrUndefinedVar    = "E_UNDEFINED_VAR"
	ErrUnknownFunc     = "E_UNKNOWN_FUNC"
	ErrArgCount        = "E_ARG_COUNT"
	ErrTypeRuntime     = "E_TYPE_RUNTIME"
	ErrDivZero         = "E_DIV_ZERO"
	ErrIndex           = "E_INDEX"
	ErrCapDenied       = "E_CAP_DENIED"
	ErrRecursion       = "E_RECURSION"
	ErrReturnOutsideFn = "E_RETURN_OUTSIDE_FN"
	ErrOverflow        = "E_OVERFLOW"
	ErrShape           = "E_SHAPE"
)

// ErrorContext is attached to runtime errors in rich mode.
type ErrorContext struct {
	Path      string   // canonical path of the offending node
	CallStack []string // function names in invocation order
	Excerpt   string   // short canonical rendering of the subtree
}

// RuntimeError is the error type returned by the VM.
type RuntimeError struct {
	Kind    string
	Msg     string
	Context *ErrorContext
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// FormatRich renders the error with its full context, one detail per line.
func (e *RuntimeError) FormatRich() string {
	var b strings.Builder
	fmt.Fprintf(&b, "RuntimeError [%s]: %s", e.Kind, e.Msg)
	if e.Context != nil {
		if e.Context.Path != "" {
			fmt.Fprintf(&b, "\n  at %s", e.Context.Path)
		}
		if len(e.Context.CallStack) > 0 {
			b.WriteString("\n  Call stack:")
			for i := len(e.Context.CallStack) - 1; i >= 0; i-- {
				fmt.Fprintf(&b, "\n    %s", e.Context.CallStack[i])
			}
		}
		if e.Context.Excerpt != "" {
			fmt.Fprintf(&b, "\n  Context:\n    %s", e.Context.Excerpt)
		}
	}
	return b.String()
}

func rtErr(kind, format string, args ...any) *RuntimeError {
	return &RuntimeError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
