package vfs

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestCommitAppliesOverlay(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{
		"keep.txt":   "unchanged",
		"mod.txt":    "old",
		"gone.txt":   "bye",
		"d/kid.txt":  "child",
		"d/kid2.txt": "child2",
	})

	if err := v.Write("mod.txt", []byte("new")); err != nil {
		t.Fatal(err)
	}
	if err := v.Write("made/deep/file.txt", []byte("created")); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("gone.txt"); err != nil {
		t.Fatal(err)
	}
	if err := v.Delete("d"); err != nil {
		t.Fatal(err)
	}

	if err := v.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := map[string]string{
		"keep.txt":           "unchanged",
		"mod.txt":            "new",
		"made/deep/file.txt": "created",
	}
	if got := readTree(t, root); !reflect.DeepEqual(got, want) {
		t.Errorf("committed tree = %v, want %v", got, want)
	}
	if _, err := os.Stat(filepath.Join(root, "d")); !os.IsNotExist(err) {
		t.Errorf("expected directory d removed, stat err = %v", err)
	}

	// Overlay is re-based: nothing pending, snapshot 0.
	if v.PendingChanges() != 0 {
		t.Errorf("pending changes after commit = %d", v.PendingChanges())
	}
	if v.Snapshot() != 0 {
		t.Errorf("snapshot after commit = %d, want 0", v.Snapshot())
	}
}

func TestCommitNoChangesIsNoop(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{"a.txt": "x"})
	before := readTree(t, root)
	if err := v.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := readTree(t, root); !reflect.DeepEqual(got, before) {
		t.Errorf("noop commit changed tree")
	}
}

func TestCommitConflictOnExternalModification(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{"a.txt": "base"})

	if err := v.Write("a.txt", []byte("mine")); err != nil {
		t.Fatal(err)
	}

	// Someone else modifies the real file between base capture and commit.
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("theirs"), 0644); err != nil {
		t.Fatal(err)
	}

	err := v.Commit()
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Real tree untouched by the failed commit.
	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "theirs" {
		t.Errorf("real file clobbered by failed commit: %q", data)
	}

	// Overlay intact: the write is still pending.
	if v.PendingChanges() != 1 {
		t.Errorf("overlay lost after conflict, pending = %d", v.PendingChanges())
	}

	// After a fresh base the retried commit succeeds.
	v.Reset()
	if err := v.Write("a.txt", []byte("mine")); err != nil {
		t.Fatal(err)
	}
	if err := v.Commit(); err != nil {
		t.Fatalf("retried commit failed: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "mine" {
		t.Errorf("retried commit wrote %q", data)
	}
}

func TestCommitConflictOnAppearedFile(t *testing.T) {
	v, root := newTestVFS(t, nil)

	if err := v.Write("new.txt", []byte("mine")); err != nil {
		t.Fatal(err)
	}
	// The target appears on disk before commit.
	if err := os.WriteFile(filepath.Join(root, "new.txt"), []byte("theirs"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := v.Commit(); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCommitConflictOnDeletedTarget(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{"a.txt": "base"})

	if err := v.Delete("a.txt"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("rewritten"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := v.Commit(); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); err != nil {
		t.Errorf("file should survive the failed commit: %v", err)
	}
}

func TestCommitMatchesDiffRoundTrip(t *testing.T) {
	files := map[string]string{"a.txt": "one\n", "b.txt": "two\n"}
	v, root := newTestVFS(t, files)

	s0 := v.Snapshot()
	v.Write("a.txt", []byte("one changed\n"))
	v.Write("c.txt", []byte("three\n"))
	v.Delete("b.txt")
	s1 := v.Snapshot()

	// Apply the recorded states directly to a copy of the original tree.
	applied := map[string]string{}
	for p, content := range files {
		applied[p] = content
	}
	for _, p := range v.ChangedPaths(s0, s1) {
		st, err := v.StateAt(p, s1)
		if err != nil {
			t.Fatal(err)
		}
		if !st.Exists {
			delete(applied, p)
		} else if !st.IsDir {
			applied[p] = string(st.Content)
		}
	}

	if err := v.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if got := readTree(t, root); !reflect.DeepEqual(got, applied) {
		t.Errorf("committed tree %v != applied-diff tree %v", got, applied)
	}
}

func TestWatcherFlagsExternalChanges(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{"a.txt": "x"})
	if err := v.StartWatcher(); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	defer v.StopWatcher()

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("external"), 0644); err != nil {
		t.Fatal(err)
	}

	// fsnotify delivery is asynchronous; poll briefly.
	deadline := 50
	for i := 0; i < deadline; i++ {
		if len(v.DirtyPaths()) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	dirty := v.DirtyPaths()
	found := false
	for _, p := range dirty {
		if p == "a.txt" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a.txt in dirty set, got %v", dirty)
	}

	v.Reset()
	if len(v.DirtyPaths()) != 0 {
		t.Errorf("dirty set should clear on reset, got %v", v.DirtyPaths())
	}
}

func TestCommitReplacesDeletedDirWithFile(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{
		"d/child.txt":        "child",
		"d/nested/inner.txt": "inner",
	})

	if err := v.Delete("d"); err != nil {
		t.Fatal(err)
	}
	if err := v.Write("d", []byte("now a file")); err != nil {
		t.Fatal(err)
	}

	if err := v.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, "d"))
	if err != nil {
		t.Fatalf("replacement missing: %v", err)
	}
	if info.IsDir() {
		t.Fatal("d should be a regular file after commit")
	}
	data, _ := os.ReadFile(filepath.Join(root, "d"))
	if string(data) != "now a file" {
		t.Errorf("d = %q", data)
	}
}

func TestCommitReplacesDeletedFileWithDir(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{"f": "plain"})

	if err := v.Delete("f"); err != nil {
		t.Fatal(err)
	}
	if err := v.Mkdir("f"); err != nil {
		t.Fatal(err)
	}
	if err := v.Write("f/x.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}

	if err := v.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	info, err := os.Stat(filepath.Join(root, "f"))
	if err != nil || !info.IsDir() {
		t.Fatalf("f should be a directory after commit: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "f", "x.txt"))
	if string(data) != "x" {
		t.Errorf("f/x.txt = %q", data)
	}
}

func TestCommitReplacedDirWithUntrackedEntryConflicts(t *testing.T) {
	v, root := newTestVFS(t, map[string]string{"d/child.txt": "child"})

	if err := v.Delete("d"); err != nil {
		t.Fatal(err)
	}
	if err := v.Write("d", []byte("now a file")); err != nil {
		t.Fatal(err)
	}

	// A file the overlay never saw appears inside the doomed directory.
	if err := os.WriteFile(filepath.Join(root, "d", "surprise.txt"), []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}

	err := v.Commit()
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Rollback leaves the real tree exactly as before the commit attempt.
	got := readTree(t, root)
	want := map[string]string{"d/child.txt": "child", "d/surprise.txt": "new"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("real tree after failed commit = %v, want %v", got, want)
	}
}
