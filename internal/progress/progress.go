// Package progress provides terminal progress indicators for long-running
// plumbing operations: an animated spinner for work of unknown length, and a
// counting meter fed by the pack parser's per-object progress callback.
// Both write to stderr and are silent when stderr is not a TTY, so piped
// output and CI logs stay clean.
package progress

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rybkr/gitplumb/internal/termcolor"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner displays an animated braille spinner on stderr while an operation
// of unknown length is in progress.
type Spinner struct {
	msg  string
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewSpinner creates a Spinner that will display msg alongside the animation.
func NewSpinner(msg string) *Spinner {
	return &Spinner{msg: msg, done: make(chan struct{})}
}

// Start begins the spinner animation in a background goroutine. It does
// nothing when stderr is not a terminal.
func (s *Spinner) Start() {
	if !termcolor.IsTerminal(os.Stderr.Fd()) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-s.done:
				fmt.Fprint(os.Stderr, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(os.Stderr, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.msg)
			}
		}
	}()
}

// Stop halts the spinner and clears its line. Safe to call more than once.
func (s *Spinner) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Meter renders a "label: done/total" counter on stderr, redrawn in place.
// Update is shaped to plug straight into a pack parser's progress callback.
// Renders are throttled so a pack with millions of objects doesn't spend its
// time repainting the terminal.
type Meter struct {
	label string
	tty   bool

	mu       sync.Mutex
	lastDraw time.Time
}

// NewMeter creates a Meter with the given label.
func NewMeter(label string) *Meter {
	return &Meter{label: label, tty: termcolor.IsTerminal(os.Stderr.Fd())}
}

// Update records that done of total units are complete and redraws the
// counter. The final update (done == total) always draws so the line never
// ends on a stale count.
func (m *Meter) Update(done, total uint32) {
	if !m.tty {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if done != total && now.Sub(m.lastDraw) < 50*time.Millisecond {
		return
	}
	m.lastDraw = now
	fmt.Fprintf(os.Stderr, "\r\033[K%s", formatCount(m.label, done, total))
}

// Done clears the meter's line.
func (m *Meter) Done() {
	if !m.tty {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fmt.Fprint(os.Stderr, "\r\033[K")
}

func formatCount(label string, done, total uint32) string {
	if total == 0 {
		return fmt.Sprintf("%s: %d", label, done)
	}
	return fmt.Sprintf("%s: %d/%d (%d%%)", label, done, total, uint64(done)*100/uint64(total))
}
