package cli

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/rybkr/gitplumb/internal/termcolor"
)

func testWriter(t *testing.T) *termcolor.Writer {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cli")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return termcolor.NewWriter(f, termcolor.ColorNever)
}

func newTestApp() (*App, *bytes.Buffer, *int) {
	app := NewApp("gitpack", "test")
	var stderr bytes.Buffer
	app.Stderr = &stderr
	ran := -1
	app.Register(&Command{
		Name:    "index-pack",
		Summary: "Index a pack stream",
		Run:     func(args []string) int { ran = len(args); return 0 },
	})
	app.Register(&Command{
		Name:    "verify-pack",
		Summary: "Verify a pack/index pair",
		Run:     func([]string) int { return 0 },
	})
	return app, &stderr, &ran
}

func TestRunDispatchesKnownCommand(t *testing.T) {
	app, _, ran := newTestApp()
	if code := app.Run([]string{"index-pack", "a", "b"}, testWriter(t)); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if *ran != 2 {
		t.Errorf("command received %d args, want 2", *ran)
	}
}

func TestRunUnknownCommandSuggests(t *testing.T) {
	app, stderr, _ := newTestApp()
	if code := app.Run([]string{"index-pakc"}, testWriter(t)); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), `Did you mean "index-pack"?`) {
		t.Errorf("missing suggestion in output: %q", stderr.String())
	}
}

func TestRunEmptyArgsShowsHelp(t *testing.T) {
	app, stderr, _ := newTestApp()
	if code := app.Run(nil, testWriter(t)); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	out := stderr.String()
	for _, want := range []string{"Usage:", "index-pack", "verify-pack"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestRunHelpForCommand(t *testing.T) {
	app, stderr, _ := newTestApp()
	if code := app.Run([]string{"help", "verify-pack"}, testWriter(t)); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stderr.String(), "Verify a pack/index pair") {
		t.Errorf("command help missing summary: %q", stderr.String())
	}
}

func TestSuggest(t *testing.T) {
	candidates := []string{"index-pack", "verify-pack", "merge-base"}
	tests := []struct {
		input string
		want  string
	}{
		{"index-pakc", "index-pack"},
		{"merge-bas", "merge-base"},
		{"completely-unrelated", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := suggest(tt.input, candidates); got != tt.want {
			t.Errorf("suggest(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"pack", "pack", 0},
		{"pakc", "pack", 2},
	}
	for _, tt := range tests {
		if got := editDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
