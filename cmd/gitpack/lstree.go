package main

import (
	"fmt"
	"os"

	"github.com/rybkr/gitplumb/internal/gitcore"
)

func runLsTree(gf globalFlags, args []string) int {
	recursive := false
	var rev string
	for _, arg := range args {
		if arg == "-r" {
			recursive = true
			continue
		}
		rev = arg
	}
	if rev == "" {
		fmt.Fprintln(os.Stderr, "usage: gitpack ls-tree [-r] <rev>")
		return 1
	}

	store, err := openStore(gf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}
	defer store.Close() //nolint:errcheck // process exits right after

	tree, err := resolveTree(store, rev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	walk := gitcore.NewTreeWalkFromTrees(store, []*gitcore.Tree{tree}, recursive, false, nil)
	for {
		e, err := walk.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 128
		}
		if e == nil {
			break
		}
		if recursive && e.IsTree {
			continue
		}
		typeName := "blob"
		if e.IsTree {
			typeName = "tree"
		}
		mode := e.Mode
		if len(mode) == 5 {
			mode = "0" + mode
		}
		fmt.Printf("%s %s %s\t%s\n", mode, typeName, e.Entries[0].ID, e.Path)
	}
	return 0
}

// resolveTree resolves rev to a tree: directly if it names a tree object,
// through the commit's tree field if it names a commit.
func resolveTree(store *gitcore.Store, rev string) (*gitcore.Tree, error) {
	id, err := resolveRev(store, rev)
	if err != nil {
		return nil, err
	}
	obj, err := store.ParseAny(id)
	if err != nil {
		return nil, err
	}
	switch o := obj.(type) {
	case *gitcore.Tree:
		return o, nil
	case *gitcore.Commit:
		return store.ParseTree(o.Tree)
	default:
		return nil, fmt.Errorf("%s is a %s, not a tree or commit", id.Short(), obj.Type())
	}
}
