package recording

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleanupLocal(t *testing.T) {
	dir := t.TempDir()
	files := map[string]bool{ // name -> expected to survive
		"vox-2020-01-01-120000-aaaaaaaa.wav":      false,
		"vox-2020-01-02-120000-bbbbbbbb.wav":      false,
		"vox-2099-01-01-120000-cccccccc.wav":      true,
		"notes-2020-01-01.txt":                    true,
		"vox-2020-01-01-120000-dddddddd.wav.part": true,
		"vox-undated.wav":                         true,
	}
	for name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local)
	deleted, err := CleanupLocal(dir, cutoff)
	if err != nil {
		t.Fatalf("CleanupLocal() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	for name, survive := range files {
		_, err := os.Stat(filepath.Join(dir, name))
		if exists := err == nil; exists != survive {
			t.Errorf("%s exists = %v, want %v", name, exists, survive)
		}
	}
}

func TestCleanupLocalMissingDir(t *testing.T) {
	if n, err := CleanupLocal("", time.Now()); n != 0 || err != nil {
		t.Errorf("CleanupLocal(\"\") = %d, %v, want 0, nil", n, err)
	}
	if _, err := CleanupLocal(filepath.Join(t.TempDir(), "missing"), time.Now()); err == nil {
		t.Error("CleanupLocal(missing) error = nil, want error")
	}
}

func TestRunCleanupReportsCounts(t *testing.T) {
	dir := t.TempDir()
	old := "vox-2020-01-01-120000-aaaaaaaa.wav"
	if err := os.WriteFile(filepath.Join(dir, old), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	var local, archived = -1, -1
	d := NewDispatcher(func() Settings {
		return Settings{Dir: dir, RetentionDays: 30}
	}, Options{OnCleanup: func(l, a int) { local, archived = l, a }})

	d.runCleanup()
	if local != 1 || archived != 0 {
		t.Errorf("OnCleanup(%d, %d), want (1, 0)", local, archived)
	}
	if _, err := os.Stat(filepath.Join(dir, old)); !os.IsNotExist(err) {
		t.Error("expired recording still present")
	}
}

func TestRunCleanupDisabled(t *testing.T) {
	called := false
	d := NewDispatcher(func() Settings {
		return Settings{Dir: t.TempDir()}
	}, Options{OnCleanup: func(int, int) { called = true }})

	d.runCleanup()
	if called {
		t.Error("OnCleanup called with retention disabled")
	}
}
