package gitcore

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// packRescanDebounce coalesces the burst of events a pack publication
// produces (temp write, idx rename, pack rename) into a single rescan.
const packRescanDebounce = 100 * time.Millisecond

// PackWatcher keeps a Store's pack index set current while other processes
// (a fetch, a repack) publish or remove pack pairs in the same repository.
// It watches the pack directory and triggers a debounced RescanPacks
// whenever an index file appears, changes, or disappears.
type PackWatcher struct {
	store   *Store
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// WatchPacks starts watching this store's pack directory. The returned
// watcher runs until Close is called.
func (s *Store) WatchPacks() (*PackWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, wrapErr(KindIO, "failed to create pack watcher", err)
	}
	if err := fw.Add(s.PackDir()); err != nil {
		fw.Close() //nolint:errcheck // already failing; Add error is authoritative
		return nil, wrapErr(KindIO, "failed to watch pack directory", err)
	}

	w := &PackWatcher{
		store:   s,
		watcher: fw,
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()

	s.logger.Info("watching pack directory", "dir", s.PackDir())
	return w, nil
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *PackWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *PackWatcher) loop() {
	defer w.wg.Done()

	var debounce *time.Timer

	for {
		select {
		case <-w.done:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if shouldIgnorePackEvent(event) {
				continue
			}
			w.store.logger.Debug("pack directory changed", "file", filepath.Base(event.Name), "op", event.Op.String())

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(packRescanDebounce, func() {
				select {
				case <-w.done:
					return
				default:
				}
				if err := w.store.RescanPacks(); err != nil {
					w.store.logger.Error("pack rescan failed", "err", err)
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Error("pack watcher error", "err", err)
		}
	}
}

// shouldIgnorePackEvent filters out events that cannot change the index set:
// anything but an .idx file, and the parser's own temporary files, which are
// renamed into place before the paired .idx becomes visible.
func shouldIgnorePackEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, "tmp_pack_") || strings.HasPrefix(base, "tmp_idx_") {
		return true
	}
	return !strings.HasSuffix(base, ".idx")
}
