package main

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rybkr/gitplumb/internal/gitcore"
	"github.com/rybkr/gitplumb/internal/termcolor"
)

type globalFlags struct {
	colorMode termcolor.ColorMode
	dir       string
}

// parseGlobalFlags extracts --color, --no-color, and -C <dir> from anywhere
// in args, returning the parsed flags and the remaining arguments.
func parseGlobalFlags(args []string) (globalFlags, []string) {
	gf := globalFlags{colorMode: termcolor.ColorAuto, dir: "."}
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if arg == "--no-color" {
			gf.colorMode = termcolor.ColorNever
			continue
		}

		if arg == "--color" && i+1 < len(args) {
			mode, err := termcolor.ParseColorMode(args[i+1])
			if err != nil {
				fmt.Fprintf(os.Stderr, "gitpack: %v\n", err)
				os.Exit(1)
			}
			gf.colorMode = mode
			i++
			continue
		}

		if val, ok := strings.CutPrefix(arg, "--color="); ok {
			mode, err := termcolor.ParseColorMode(val)
			if err != nil {
				fmt.Fprintf(os.Stderr, "gitpack: %v\n", err)
				os.Exit(1)
			}
			gf.colorMode = mode
			continue
		}

		if arg == "-C" && i+1 < len(args) {
			gf.dir = args[i+1]
			i++
			continue
		}

		remaining = append(remaining, arg)
	}

	return gf, remaining
}

func openStore(gf globalFlags) (*gitcore.Store, error) {
	return gitcore.OpenStore(gf.dir)
}

var fullHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// resolveRev turns a user-supplied revision (full hex id, branch, tag, or
// HEAD) into an object id.
func resolveRev(store *gitcore.Store, rev string) (gitcore.Hash, error) {
	if fullHashRe.MatchString(rev) {
		return gitcore.NewHash(rev)
	}
	return store.ResolveRef(rev)
}
