package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func runWatch(gf globalFlags, args []string) int {
	if len(args) != 0 {
		fmt.Fprintln(os.Stderr, "usage: gitpack watch")
		return 1
	}

	store, err := openStore(gf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}
	defer store.Close() //nolint:errcheck // process exits right after

	store.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))

	watcher, err := store.WatchPacks()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 128
	}
	defer watcher.Close() //nolint:errcheck // process exits right after

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return 0
}
