package termcolor

import (
	"os"
	"testing"
)

func TestParseColorMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ColorMode
		wantErr bool
	}{
		{"auto", ColorAuto, false},
		{"always", ColorAlways, false},
		{"never", ColorNever, false},
		{"", ColorAuto, true},
		{"yes", ColorAuto, true},
		{"Auto", ColorAuto, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseColorMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseColorMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseColorMode(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func tempFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "colortest")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func styleFuncs(w *Writer) map[string]func(string) string {
	return map[string]func(string) string{
		"Red":      w.Red,
		"Green":    w.Green,
		"Yellow":   w.Yellow,
		"Cyan":     w.Cyan,
		"Bold":     w.Bold,
		"BoldCyan": w.BoldCyan,
		"Dim":      w.Dim,
	}
}

func TestWriterColorNever(t *testing.T) {
	w := NewWriter(tempFile(t), ColorNever)
	if w.Enabled() {
		t.Error("expected Enabled() = false for ColorNever")
	}
	for name, fn := range styleFuncs(w) {
		if got := fn("text"); got != "text" {
			t.Errorf("%s(%q) = %q, want unstyled", name, "text", got)
		}
	}
}

func TestWriterColorAlways(t *testing.T) {
	w := NewWriter(tempFile(t), ColorAlways)
	if !w.Enabled() {
		t.Error("expected Enabled() = true for ColorAlways")
	}
	for name, fn := range styleFuncs(w) {
		got := fn("text")
		if got == "text" {
			t.Errorf("%s(%q) returned unstyled text with color forced on", name, "text")
		}
	}
}

func TestWriterAutoOnRegularFile(t *testing.T) {
	// A temp file is not a terminal, so auto mode must disable color.
	w := NewWriter(tempFile(t), ColorAuto)
	if w.Enabled() {
		t.Error("expected Enabled() = false for ColorAuto on a regular file")
	}
}

func TestNoColorEnvDisablesAuto(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if ShouldColorize(os.Stdout) {
		t.Error("ShouldColorize must be false when NO_COLOR is set")
	}
}
