package main

import (
	"fmt"
	"os"

	"github.com/rybkr/gitplumb/internal/gitcore"
)

func runMergeBase(gf globalFlags, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gitpack merge-base <rev> <rev>...")
		return 1
	}

	store, err := openStore(gf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}
	defer store.Close() //nolint:errcheck // process exits right after

	ids := make([]gitcore.Hash, len(args))
	for i, rev := range args {
		id, err := resolveRev(store, rev)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 128
		}
		ids[i] = id
	}

	gen, err := gitcore.NewRevWalk(store).MergeBase(ids...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	found := false
	for {
		base, err := gen.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 128
		}
		if base == nil {
			break
		}
		found = true
		fmt.Println(base.Hash)
	}
	if !found {
		return 1
	}
	return 0
}
