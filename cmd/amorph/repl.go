// REPL: one JSON statement or expression per line against a persistent VM.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	amorph "github.com/elmisi/amorph-code"
)

const (
	replPrompt  = "amorph> "
	historyName = ".amorph_history"
)

func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Evaluate JSON statements/expressions interactively",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runRepl()
		},
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyName
	}
	return filepath.Join(home, historyName)
}

func runRepl() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyPath()); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath()); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	vm := amorph.NewVM(amorph.VMOptions{IO: amorph.NewStdIO()})
	fmt.Println("Amorph REPL. One JSON statement or expression per line; :quit exits.")

	for {
		src, err := line.Prompt(replPrompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return usageErr{err}
		}
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if src == ":quit" || src == ":q" {
			return nil
		}
		line.AppendHistory(src)

		tree, err := amorph.DecodeJSONBytes([]byte(src))
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse error: %s\n", err)
			continue
		}

		var result amorph.Value
		if stmt, ok := tree.(map[string]any); ok && amorph.IsStatement(stmt) {
			result, err = vm.ExecTop(stmt)
		} else {
			result, err = vm.EvalExprTree(tree)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
			continue
		}
		if result.Tag != amorph.VTNull {
			fmt.Println(result.String())
		}
	}
}
