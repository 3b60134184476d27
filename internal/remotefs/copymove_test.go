package remotefs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestCopyFilesAndDirectories(t *testing.T) {
	svc, root := startService(t, nil)

	srcDir := filepath.Join(root, "src")
	mustWrite(t, filepath.Join(srcDir, "a.txt"), "alpha")
	mustWrite(t, filepath.Join(srcDir, "sub", "b.txt"), "bravo")
	loose := filepath.Join(root, "loose.txt")
	mustWrite(t, loose, "charlie")

	dest := filepath.Join(root, "dest")
	entries, err := svc.Copy([]string{srcDir, loose}, dest)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2 (one per destination)", len(entries))
	}

	if got := mustRead(t, filepath.Join(dest, "src", "a.txt")); got != "alpha" {
		t.Errorf("copied a.txt = %q", got)
	}
	if got := mustRead(t, filepath.Join(dest, "src", "sub", "b.txt")); got != "bravo" {
		t.Errorf("copied sub/b.txt = %q", got)
	}
	if got := mustRead(t, filepath.Join(dest, "loose.txt")); got != "charlie" {
		t.Errorf("copied loose.txt = %q", got)
	}

	// Copy leaves sources in place.
	if got := mustRead(t, loose); got != "charlie" {
		t.Errorf("source mutated: %q", got)
	}
}

func TestCopySkipsSelfTarget(t *testing.T) {
	svc, root := startService(t, nil)

	loose := filepath.Join(root, "loose.txt")
	mustWrite(t, loose, "charlie")

	// Destination resolves to the source path itself.
	entries, err := svc.Copy([]string{loose}, root)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %v, want none for a skipped self-copy", entries)
	}
	if got := mustRead(t, loose); got != "charlie" {
		t.Errorf("file mutated by self-copy: %q", got)
	}
}

func TestCopyStopsAtFirstFailure(t *testing.T) {
	svc, root := startService(t, nil)

	good := filepath.Join(root, "good.txt")
	mustWrite(t, good, "fine")
	dest := filepath.Join(root, "dest")

	_, err := svc.Copy([]string{filepath.Join(root, "ghost"), good}, dest)
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if _, statErr := os.Stat(filepath.Join(dest, "good.txt")); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("sources after the failed one must not be processed")
	}
}

func TestMoveRenamesIntoDestination(t *testing.T) {
	svc, root := startService(t, nil)

	loose := filepath.Join(root, "loose.txt")
	mustWrite(t, loose, "charlie")
	dest := filepath.Join(root, "dest")

	entries, err := svc.Move([]string{loose}, dest)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if len(entries) != 1 || entries[0].Filename != "loose.txt" {
		t.Fatalf("entries = %+v, want one loose.txt", entries)
	}
	if _, err := os.Stat(loose); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("source still present after move")
	}
	if got := mustRead(t, filepath.Join(dest, "loose.txt")); got != "charlie" {
		t.Errorf("moved content = %q", got)
	}
}

func TestMoveRejectsExistingTarget(t *testing.T) {
	svc, root := startService(t, nil)

	dest := filepath.Join(root, "dest")
	mustWrite(t, filepath.Join(dest, "c.txt"), "old")
	src := filepath.Join(root, "c.txt")
	mustWrite(t, src, "new")

	_, err := svc.Move([]string{src}, dest)
	if err == nil || !strings.Contains(err.Error(), "target already exists") {
		t.Fatalf("err = %v, want target-already-exists", err)
	}
	if got := mustRead(t, src); got != "new" {
		t.Errorf("source mutated by refused move: %q", got)
	}
	if got := mustRead(t, filepath.Join(dest, "c.txt")); got != "old" {
		t.Errorf("target clobbered by refused move: %q", got)
	}
}
