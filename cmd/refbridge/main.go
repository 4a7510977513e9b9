package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/feather-lang/refbridge"
	"github.com/feather-lang/refbridge/config"
	"github.com/feather-lang/refbridge/layout"
	"github.com/feather-lang/refbridge/mem"
	"github.com/feather-lang/refbridge/repl"
)

var version = "dev"

const historyFile = ".refbridge_history"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "refbridge",
		Short:        "Reference-counted native objects over a Go heap",
		SilenceUsage: true,
	}
	config.BindFlags(root.PersistentFlags())
	root.AddCommand(newShellCommand(), newLayoutCommand(), newVersionCommand())
	return root
}

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell [script...]",
		Short: "Run bridge commands interactively or from scripts",
		Long: `Run bridge commands against a fresh mapper.

With script arguments, each file is run in order. Otherwise commands are
read from stdin: interactively with line editing when stdin is a terminal,
line by line when it is not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := cfg.Logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			heap, err := mem.NewHeap(ctx, cfg.MemConfig(logger))
			if err != nil {
				return err
			}
			defer heap.Close()
			m, err := refbridge.New(ctx, refbridge.WithHeap(heap), refbridge.WithLogger(logger))
			if err != nil {
				return err
			}
			defer m.Close()

			s := repl.New(m, cmd.OutOrStdout())
			if len(args) > 0 {
				for _, path := range args {
					if err := runFile(s, path); err != nil {
						return err
					}
				}
				return nil
			}
			if term.IsTerminal(int(os.Stdin.Fd())) {
				return runInteractive(s, cmd.OutOrStdout())
			}
			return runScript(s, cmd.InOrStdin(), "stdin")
		},
	}
}

func runFile(s *repl.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return runScript(s, f, path)
}

// runScript executes one command per line and stops at the first failure.
func runScript(s *repl.Session, r io.Reader, name string) error {
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		err := s.Exec(scanner.Text())
		if errors.Is(err, repl.ErrQuit) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s:%d: %w", name, n, err)
		}
	}
	return scanner.Err()
}

func runInteractive(s *repl.Session, out io.Writer) error {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(func(line string) []string {
		var c []string
		for _, name := range repl.Commands() {
			if strings.HasPrefix(name, strings.TrimLeft(line, " ")) {
				c = append(c, name+" ")
			}
		}
		return c
	})

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			ln.ReadHistory(f)
			f.Close()
		}
	}
	defer func() {
		if histPath == "" {
			return
		}
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(out, "refbridge shell, type help for commands")
	for {
		line, err := ln.Prompt("refbridge> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(line) != "" {
			ln.AppendHistory(line)
		}

		err = s.Exec(line)
		if errors.Is(err, repl.ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func newLayoutCommand() *cobra.Command {
	var declPath string
	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print native struct offsets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			structs := layout.All
			if declPath != "" {
				f, err := os.Open(declPath)
				if err != nil {
					return err
				}
				defer f.Close()
				decls, err := layout.ReadDecls(f)
				if err != nil {
					return err
				}
				structs = nil
				for _, d := range decls.Structs {
					structs = append(structs, layout.Compute(d))
				}
			}
			return printLayouts(cmd.OutOrStdout(), structs)
		},
	}
	cmd.Flags().StringVar(&declPath, "decls", "", "lay out a struct declaration file instead of the built-in tables")
	return cmd
}

func printLayouts(w io.Writer, structs []*layout.Struct) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, s := range structs {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s\t(%d bytes)\n", s.Name, s.Size)
		for _, f := range s.Fields {
			fmt.Fprintf(tw, "  %d\t%s\t%v\n", f.Offset, f.Name, f.Kind)
		}
	}
	return tw.Flush()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "refbridge %s (%s)\n", version, layout.Target)
		},
	}
}
