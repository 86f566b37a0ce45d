package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const historyFile = ".objcore_history"

// lineReader is the part of liner.State the shell loop uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func newShellCmd(s *session, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run objcore commands interactively against the loaded images",
		Long: `Start an interactive shell. Each line is an objcore command without the
program name ("members Demo.Shape -k field"). The images are loaded once and
shared by every command. Type quit or press Ctrl-D to leave.`,
		Args: cobra.NoArgs,
		RunE: withSession(s, opts, func(cmd *cobra.Command, args []string) error {
			if s.inShell {
				return errors.New("already in a shell")
			}

			ln := liner.NewLiner()
			defer ln.Close()
			ln.SetCtrlCAborts(true)

			home, _ := os.UserHomeDir()
			histPath := filepath.Join(home, historyFile)
			if f, err := os.Open(histPath); err == nil {
				_, _ = ln.ReadHistory(f)
				_ = f.Close()
			}
			defer func() {
				if f, err := os.Create(histPath); err == nil {
					_, _ = ln.WriteHistory(f)
					_ = f.Close()
				}
			}()

			return runShell(cmd.Context(), s, ln, cmd.OutOrStdout(), cmd.ErrOrStderr())
		}),
	}
}

// runShell executes lines from ln until quit, end of input or Ctrl-C.
func runShell(ctx context.Context, s *session, ln lineReader, out, errOut io.Writer) error {
	s.inShell = true
	defer func() { s.inShell = false }()

	for {
		line, err := ln.Prompt("objcore> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		ln.AppendHistory(line)
		switch words[0] {
		case "quit", "exit":
			return nil
		}

		root := newRootCmd(s)
		root.SetArgs(words)
		root.SetOut(out)
		root.SetErr(errOut)
		if err := root.ExecuteContext(ctx); err != nil {
			log.Debugf("shell command %q: %v", line, err)
		}
	}
}
