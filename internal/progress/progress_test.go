package progress

import "testing"

func TestFormatCount(t *testing.T) {
	tests := []struct {
		label       string
		done, total uint32
		want        string
	}{
		{"objects", 0, 4, "objects: 0/4 (0%)"},
		{"objects", 2, 4, "objects: 2/4 (50%)"},
		{"objects", 4, 4, "objects: 4/4 (100%)"},
		{"objects", 3, 0, "objects: 3"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.label, tt.done, tt.total); got != tt.want {
			t.Errorf("formatCount(%q, %d, %d) = %q, want %q", tt.label, tt.done, tt.total, got, tt.want)
		}
	}
}

func TestSpinnerStopIsIdempotent(t *testing.T) {
	s := NewSpinner("working")
	s.Start()
	s.Stop()
	s.Stop()
}

func TestMeterNonTTYIsSilent(t *testing.T) {
	// Under `go test` stderr is not a terminal, so every call must be a no-op
	// rather than emitting control sequences into the test log.
	m := NewMeter("objects")
	if m.tty {
		t.Skip("stderr unexpectedly a terminal")
	}
	m.Update(1, 10)
	m.Update(10, 10)
	m.Done()
}
