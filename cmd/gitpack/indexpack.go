package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rybkr/gitplumb/internal/gitcore"
	"github.com/rybkr/gitplumb/internal/progress"
	"github.com/rybkr/gitplumb/internal/termcolor"
)

func runIndexPack(gf globalFlags, args []string, cw *termcolor.Writer) int {
	cfg := gitcore.ParserConfig{EOFPolicy: gitcore.EOFStrict}
	var input string

	for i := 0; i < len(args); i++ {
		switch arg := args[i]; arg {
		case "--thin":
			cfg.AllowThin = true
		case "--check":
			cfg.CheckObjects = true
		case "--max-size":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "error: --max-size requires a value")
				return 1
			}
			n, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || n <= 0 {
				fmt.Fprintf(os.Stderr, "error: invalid --max-size %q\n", args[i+1])
				return 1
			}
			cfg.MaxObjectSize = n
			i++
		default:
			if input != "" {
				fmt.Fprintln(os.Stderr, "usage: gitpack index-pack [--thin] [--check] [--max-size <bytes>] <pack-file | ->")
				return 1
			}
			input = arg
		}
	}
	if input == "" {
		fmt.Fprintln(os.Stderr, "usage: gitpack index-pack [--thin] [--check] [--max-size <bytes>] <pack-file | ->")
		return 1
	}

	store, err := openStore(gf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}
	defer store.Close() //nolint:errcheck // process exits right after

	var src io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			return 128
		}
		defer f.Close() //nolint:errcheck // read-only descriptor
		src = f
	}

	meter := progress.NewMeter("Indexing objects")
	cfg.Progress = meter.Update

	parser, err := store.NewPackParser(src, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	result, err := parser.Parse(store.PackDir(), "pack-incoming-"+strconv.Itoa(os.Getpid()))
	meter.Done()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	// The final name embeds the pack's own hash, known only after parsing.
	packPath, idxPath, err := renameToFinal(result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	fmt.Printf("%s %s\n", cw.Green("pack"), result.PackSHA)
	fmt.Printf("%s\n%s\n", packPath, idxPath)
	fmt.Printf("%d objects\n", len(result.ObjectIDs))
	return 0
}

func renameToFinal(result *gitcore.PackParseResult) (string, string, error) {
	dir := filepath.Dir(result.PackPath)
	stem := filepath.Join(dir, "pack-"+string(result.PackSHA))
	if err := os.Rename(result.PackPath, stem+".pack"); err != nil {
		return "", "", err
	}
	if err := os.Rename(result.IndexPath, stem+".idx"); err != nil {
		return "", "", err
	}
	return stem + ".pack", stem + ".idx", nil
}
