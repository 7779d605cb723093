package main

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // pack trailers are SHA-1 by format definition
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rybkr/gitplumb/internal/gitcore"
	"github.com/rybkr/gitplumb/internal/progress"
	"github.com/rybkr/gitplumb/internal/termcolor"
)

func runVerifyPack(args []string, cw *termcolor.Writer) int {
	verbose := false
	var idxPath string
	for _, arg := range args {
		if arg == "-v" {
			verbose = true
			continue
		}
		idxPath = arg
	}
	if idxPath == "" {
		fmt.Fprintln(os.Stderr, "usage: gitpack verify-pack [-v] <idx-file>")
		return 1
	}

	idx, err := gitcore.ReadPackIndex(idxPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}

	spinner := progress.NewSpinner("Hashing pack data")
	spinner.Start()
	trailerOK, err := verifyPackTrailer(idx.PackFile())
	spinner.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}
	if !trailerOK {
		fmt.Fprintf(os.Stderr, "%s: pack trailer does not match stream hash\n", cw.Red("error"))
		return 1
	}

	if verbose {
		offsets := idx.Offsets()
		ids := make([]gitcore.Hash, 0, len(offsets))
		for id := range offsets {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Printf("%s %s\n", id, cw.Dim(fmt.Sprintf("offset %d", offsets[id])))
		}
	}

	fmt.Printf("%s: %d objects\n", cw.Green("ok"), idx.NumObjects())
	return 0
}

// verifyPackTrailer recomputes the SHA-1 of everything before the pack's
// 20-byte trailer and compares the two.
func verifyPackTrailer(packPath string) (bool, error) {
	f, err := os.Open(packPath)
	if err != nil {
		return false, err
	}
	defer f.Close() //nolint:errcheck // read-only descriptor

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() < 32 {
		return false, fmt.Errorf("pack file too short: %d bytes", info.Size())
	}

	h := sha1.New() //nolint:gosec // pack trailers are SHA-1 by format definition
	if _, err := io.CopyN(h, f, info.Size()-20); err != nil {
		return false, err
	}
	var trailer [20]byte
	if _, err := io.ReadFull(f, trailer[:]); err != nil {
		return false, err
	}
	return bytes.Equal(h.Sum(nil), trailer[:]), nil
}
