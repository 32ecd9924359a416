package util

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExtractDateFromFilename(t *testing.T) {
	got, ok := ExtractDateFromFilename("vox-2025-03-14-101500-1a2b3c4d.wav")
	if !ok {
		t.Fatal("ExtractDateFromFilename() ok = false, want true")
	}
	if want := time.Date(2025, 3, 14, 0, 0, 0, 0, time.Local); !got.Equal(want) {
		t.Errorf("ExtractDateFromFilename() = %v, want %v", got, want)
	}

	for _, name := range []string{"vox-undated.wav", "vox-2025-13-40.wav"} {
		if _, ok := ExtractDateFromFilename(name); ok {
			t.Errorf("ExtractDateFromFilename(%q) ok = true, want false", name)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{800 * time.Millisecond, "800ms"},
		{45 * time.Second, "45s"},
		{154 * time.Second, "2m 34s"},
		{83 * time.Minute, "1h 23m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := FirstLine("\n\n  Invalid credentials \nmore"); got != "Invalid credentials" {
		t.Errorf("FirstLine() = %q, want %q", got, "Invalid credentials")
	}
	long := FirstLine(strings.Repeat("x", 500))
	if len(long) != maxErrorLineLength+3 || !strings.HasSuffix(long, "...") {
		t.Errorf("FirstLine(long) length = %d, want truncated with ellipsis", len(long))
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("op", nil) != nil {
		t.Error("WrapError(nil) != nil")
	}
	base := errors.New("boom")
	err := WrapError("write recording", base)
	if !errors.Is(err, base) || err.Error() != "failed to write recording: boom" {
		t.Errorf("WrapError() = %v", err)
	}
}
