package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/rybkr/gitplumb/internal/cli"
	"github.com/rybkr/gitplumb/internal/termcolor"
)

// Build-time variables set via -ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	gf, args := parseGlobalFlags(os.Args[1:])

	for _, a := range args {
		if a == "--version" {
			printVersion()
			os.Exit(0)
		}
	}

	cw := termcolor.NewWriter(os.Stdout, gf.colorMode)

	app := cli.NewApp("gitpack", version)
	app.Stderr = os.Stderr

	app.Register(&cli.Command{
		Name:    "index-pack",
		Summary: "Parse a pack stream and publish the pack/index pair",
		Usage:   "gitpack index-pack [--thin] [--check] [--max-size <bytes>] <pack-file | ->",
		Examples: []string{
			"gitpack index-pack incoming.pack",
			"gitpack index-pack --thin - < incoming.pack",
		},
		Run: func(args []string) int { return runIndexPack(gf, args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "verify-pack",
		Summary:  "Check a pack/index pair's hashes and structure",
		Usage:    "gitpack verify-pack [-v] <idx-file>",
		Examples: []string{"gitpack verify-pack .git/objects/pack/pack-abc.idx"},
		Run:      func(args []string) int { return runVerifyPack(args, cw) },
	})

	app.Register(&cli.Command{
		Name:     "merge-base",
		Summary:  "Print the best common ancestors of two or more commits",
		Usage:    "gitpack merge-base <rev> <rev>...",
		Examples: []string{"gitpack merge-base main feature"},
		Run:      func(args []string) int { return runMergeBase(gf, args) },
	})

	app.Register(&cli.Command{
		Name:     "ls-tree",
		Summary:  "List the contents of a tree object",
		Usage:    "gitpack ls-tree [-r] <rev>",
		Examples: []string{"gitpack ls-tree HEAD", "gitpack ls-tree -r main"},
		Run:      func(args []string) int { return runLsTree(gf, args) },
	})

	app.Register(&cli.Command{
		Name:    "ls-files",
		Summary: "List paths recorded in the index",
		Usage:   "gitpack ls-files [--stage]",
		Run:     func(args []string) int { return runLsFiles(gf, args) },
	})

	app.Register(&cli.Command{
		Name:    "watch",
		Summary: "Watch the pack directory and report index rescans",
		Usage:   "gitpack watch",
		Run:     func(args []string) int { return runWatch(gf, args) },
	})

	os.Exit(app.Run(args, cw))
}

func printVersion() {
	fmt.Printf("gitpack %s\n", version)
	fmt.Printf("  commit:     %s\n", commit)
	fmt.Printf("  built:      %s\n", buildDate)
	fmt.Printf("  go version: %s\n", runtime.Version())
}
