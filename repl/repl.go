// Package repl is a line-oriented shell for poking at a Mapper the way
// native code would: creating lists, moving references around and
// watching the tracking table.
package repl

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/feather-lang/refbridge"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

type command struct {
	args  string
	help  string
	nargs int // minimum number of arguments
	run   func(s *Session, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"new":      {"N", "create a list of N null slots", 1, (*Session).cmdNew},
		"list":     {"V...", "store a host list of integers and strings", 0, (*Session).cmdList},
		"str":      {"TEXT", "store a string", 0, (*Session).cmdStr},
		"append":   {"L I", "append item I to list L", 2, (*Session).cmdAppend},
		"setitem":  {"L N I", "put item I at index N of list L, stealing I", 3, (*Session).cmdSetItem},
		"slice":    {"L A B", "new list of L[A:B]", 3, (*Session).cmdSlice},
		"incref":   {"H", "add a reference", 1, (*Session).cmdIncRef},
		"decref":   {"H", "drop a reference", 1, (*Session).cmdDecRef},
		"refcount": {"H", "print the reference count", 1, (*Session).cmdRefCount},
		"show":     {"H", "print the host value", 1, (*Session).cmdShow},
		"table":    {"", "print every tracked handle", 0, (*Session).cmdTable},
		"stats":    {"", "print heap usage", 0, (*Session).cmdStats},
		"error":    {"", "print and clear the pending error", 0, (*Session).cmdError},
		"help":     {"", "list commands", 0, (*Session).cmdHelp},
		"quit":     {"", "leave the shell", 0, func(*Session, []string) error { return ErrQuit }},
	}
}

// Commands returns the command names in sorted order.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Session executes shell commands against one mapper.
type Session struct {
	m   *refbridge.Mapper
	out io.Writer
}

func New(m *refbridge.Mapper, out io.Writer) *Session {
	return &Session{m: m, out: out}
}

// Exec runs one command line. Blank lines and lines starting with # do
// nothing.
func (s *Session) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	name, args := fields[0], fields[1:]
	if name == "exit" {
		name = "quit"
	}
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q, try help", name)
	}
	if len(args) < cmd.nargs {
		return fmt.Errorf("usage: %s %s", name, cmd.args)
	}
	if name == "str" {
		args = []string{strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "str"))}
	}
	return cmd.run(s, args)
}

// boundary turns a failed native-style call into an error carrying the
// pending error, which it clears.
func (s *Session) boundary(op string) error {
	err := s.m.LastError()
	s.m.ClearError()
	if err == nil {
		return fmt.Errorf("%s failed", op)
	}
	return err
}

func (s *Session) printHandle(h refbridge.Handle) error {
	obj, err := s.m.Retrieve(h)
	if err != nil {
		fmt.Fprintf(s.out, "%v\n", h)
		return nil
	}
	fmt.Fprintf(s.out, "%v %s\n", h, refbridge.Format(obj))
	return nil
}

func (s *Session) cmdNew(args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}
	h := s.m.ListNew(n)
	if h == 0 {
		return s.boundary("new")
	}
	return s.printHandle(h)
}

func (s *Session) cmdList(args []string) error {
	l := refbridge.NewList()
	for _, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			l.Items = append(l.Items, n)
			continue
		}
		l.Items = append(l.Items, arg)
	}
	h, err := s.m.Store(l)
	if err != nil {
		return err
	}
	return s.printHandle(h)
}

func (s *Session) cmdStr(args []string) error {
	h, err := s.m.Store(args[0])
	if err != nil {
		return err
	}
	return s.printHandle(h)
}

func (s *Session) cmdAppend(args []string) error {
	hs, err := parseHandles(args[:2])
	if err != nil {
		return err
	}
	if s.m.ListAppend(hs[0], hs[1]) != 0 {
		return s.boundary("append")
	}
	return nil
}

func (s *Session) cmdSetItem(args []string) error {
	list, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	item, err := parseHandle(args[2])
	if err != nil {
		return err
	}
	if s.m.ListSetItem(list, index, item) != 0 {
		return s.boundary("setitem")
	}
	return nil
}

func (s *Session) cmdSlice(args []string) error {
	list, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	start, err1 := strconv.Atoi(args[1])
	stop, err2 := strconv.Atoi(args[2])
	if err := errors.Join(err1, err2); err != nil {
		return fmt.Errorf("bounds: %w", err)
	}
	h := s.m.ListGetSlice(list, start, stop)
	if h == 0 {
		return s.boundary("slice")
	}
	return s.printHandle(h)
}

func (s *Session) cmdIncRef(args []string) error {
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	return s.m.IncRef(h)
}

func (s *Session) cmdDecRef(args []string) error {
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	if err := s.m.DecRef(h); err != nil {
		return err
	}
	if err := s.m.LastError(); err != nil {
		s.m.ClearError()
		return fmt.Errorf("dealloc: %w", err)
	}
	return nil
}

func (s *Session) cmdRefCount(args []string) error {
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	n, err := s.m.RefCount(h)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, n)
	return nil
}

func (s *Session) cmdShow(args []string) error {
	h, err := parseHandle(args[0])
	if err != nil {
		return err
	}
	obj, err := s.m.Retrieve(h)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, refbridge.Format(obj))
	return nil
}

func (s *Session) cmdTable([]string) error {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tTYPE\tREFS\tVALUE")
	for _, h := range s.m.Handles() {
		typ, _ := s.m.TypeOf(h)
		n, _ := s.m.RefCount(h)
		value := "<incomplete>"
		if obj, err := s.m.Retrieve(h); err == nil {
			value = refbridge.Format(obj)
		}
		typeName := "-"
		if typ != nil {
			typeName = typ.Name
		}
		fmt.Fprintf(tw, "%v\t%s\t%d\t%s\n", h, typeName, n, value)
	}
	return tw.Flush()
}

func (s *Session) cmdStats([]string) error {
	st := s.m.Heap().Stats()
	fmt.Fprintf(s.out, "blocks=%d in-use=%d free=%d top=%d pages=%d\n",
		st.Blocks, st.InUse, st.Free, st.Top, st.Pages)
	return nil
}

func (s *Session) cmdError([]string) error {
	err := s.m.LastError()
	s.m.ClearError()
	if err == nil {
		fmt.Fprintln(s.out, "none")
		return nil
	}
	fmt.Fprintln(s.out, err)
	return nil
}

func (s *Session) cmdHelp([]string) error {
	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, name := range Commands() {
		c := commands[name]
		fmt.Fprintf(tw, "%s %s\t%s\n", name, c.args, c.help)
	}
	return tw.Flush()
}

func parseHandle(s string) (refbridge.Handle, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("handle %q: %w", s, err)
	}
	return refbridge.Handle(n), nil
}

func parseHandles(args []string) ([]refbridge.Handle, error) {
	hs := make([]refbridge.Handle, len(args))
	for i, arg := range args {
		h, err := parseHandle(arg)
		if err != nil {
			return nil, err
		}
		hs[i] = h
	}
	return hs, nil
}
