package main

import (
	"fmt"
	"os"

	"github.com/rybkr/gitplumb/internal/gitcore"
)

func runLsFiles(gf globalFlags, args []string) int {
	stage := false
	for _, arg := range args {
		if arg == "--stage" {
			stage = true
			continue
		}
		fmt.Fprintln(os.Stderr, "usage: gitpack ls-files [--stage]")
		return 1
	}

	store, err := openStore(gf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}
	defer store.Close() //nolint:errcheck // process exits right after

	cache, err := gitcore.ReadDirCache(store.GitDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	for _, e := range cache.Entries {
		if stage {
			fmt.Printf("%06o %s %d\t%s\n", e.Mode, e.Hash, e.Stage, e.Path)
		} else {
			fmt.Println(e.Path)
		}
	}
	return 0
}
