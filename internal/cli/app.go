// Package cli provides a small subcommand dispatcher with colored help and
// "did you mean?" suggestions for mistyped command names.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rybkr/gitplumb/internal/termcolor"
)

// Command describes a single CLI subcommand.
type Command struct {
	Name     string
	Summary  string   // one-line description for the help listing
	Usage    string   // full usage string for per-command help
	Examples []string // example invocations
	Run      func(args []string) int
}

// App dispatches subcommands registered against it.
type App struct {
	Name    string
	Version string
	Stderr  io.Writer
	cmds    []*Command
}

// NewApp creates an App with the given name and version.
func NewApp(name, version string) *App {
	return &App{Name: name, Version: version, Stderr: os.Stderr}
}

// Register adds a command. Registration order is the help listing order.
// It panics on a duplicate name, which is always a programming error.
func (a *App) Register(cmd *Command) {
	if a.lookup(cmd.Name) != nil {
		panic(fmt.Sprintf("cli: duplicate command %q", cmd.Name))
	}
	a.cmds = append(a.cmds, cmd)
}

func (a *App) lookup(name string) *Command {
	for _, c := range a.cmds {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (a *App) names() []string {
	out := make([]string, len(a.cmds))
	for i, c := range a.cmds {
		out[i] = c.Name
	}
	return out
}

// Run dispatches args to the matching command and returns an exit code.
// Empty args and "help"/-h/--help render help; an unknown command name gets
// an error with a spelling suggestion when one is close enough.
func (a *App) Run(args []string, cw *termcolor.Writer) int {
	if len(args) == 0 {
		formatAppHelp(a, cw)
		return 1
	}

	name, subArgs := args[0], args[1:]

	if name == "help" || name == "-h" || name == "--help" {
		if len(subArgs) > 0 {
			cmd := a.lookup(subArgs[0])
			if cmd == nil {
				fpf(a.Stderr, "%s help: unknown command %q\n", a.Name, subArgs[0])
				return 1
			}
			formatCommandHelp(a, cmd, cw)
			return 0
		}
		formatAppHelp(a, cw)
		return 0
	}

	if cmd := a.lookup(name); cmd != nil {
		for _, arg := range subArgs {
			if arg == "-h" || arg == "--help" {
				formatCommandHelp(a, cmd, cw)
				return 0
			}
		}
		return cmd.Run(subArgs)
	}

	fpf(a.Stderr, "%s: %q is not a command\n", a.Name, name)
	if s := suggest(name, a.names()); s != "" {
		fpf(a.Stderr, "\n\tDid you mean %q?\n", s)
	}
	fpf(a.Stderr, "\nRun '%s help' for a list of commands.\n", a.Name)
	return 1
}

// suggest returns the candidate closest to input by edit distance, or "" if
// nothing is within max(2, len(input)/3).
func suggest(input string, candidates []string) string {
	if input == "" {
		return ""
	}
	best, bestDist := "", max(2, len(input)/3)+1
	for _, c := range candidates {
		if d := editDistance(input, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// editDistance is the Levenshtein distance, computed over a single row.
func editDistance(a, b string) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	row := make([]int, len(a)+1)
	for i := range row {
		row[i] = i
	}
	for j := 1; j <= len(b); j++ {
		prev := row[0]
		row[0] = j
		for i := 1; i <= len(a); i++ {
			cur := row[i]
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			row[i] = min(row[i]+1, min(row[i-1]+1, prev+cost))
			prev = cur
		}
	}
	return row[len(a)]
}
