package snapshot

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/testutil"
)

func newTestStore(t *testing.T, files map[string]string, exclude ...string) *Store {
	t.Helper()
	dir := testutil.SetupProject(t, files)
	s, err := NewStore(Options{ProjectDir: dir, Dir: ".snapshots", Exclude: exclude}, nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return s
}

func TestNewStore_CreatesDir(t *testing.T) {
	s := newTestStore(t, nil)

	if fi, err := os.Stat(s.Dir()); err != nil || !fi.IsDir() {
		t.Fatalf("snapshot dir not created: %v", err)
	}
	if filepath.Dir(s.Dir()) != s.ProjectDir() {
		t.Errorf("Dir() = %s, want it inside %s", s.Dir(), s.ProjectDir())
	}
}

func TestTakeRestoreComplete_RoundTrip(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"data/input.csv":       "a,b\n1,2\n",
		"data/nested/deep.txt": "deep",
		"README.md":            "# project",
		"empty/":               "",
		"workflow_state.json":  `{"s1":"completed"}`,
	}, "workflow_state.json")
	root := s.ProjectDir()
	before := testutil.ReadTree(t, root, ".snapshots")

	if err := s.TakeComplete("s1_run_1"); err != nil {
		t.Fatalf("TakeComplete failed: %v", err)
	}
	if !s.Exists("s1_run_1") {
		t.Fatal("Exists() = false after TakeComplete")
	}

	// Mutate the tree: edit, add, delete, and touch the excluded file.
	testutil.WriteFiles(t, root, map[string]string{
		"data/input.csv":      "changed",
		"data/output.csv":     "new",
		"extra/file.txt":      "new dir",
		"workflow_state.json": `{"s1":"pending"}`,
	})
	if err := os.Remove(filepath.Join(root, "README.md")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(filepath.Join(root, "empty")); err != nil {
		t.Fatal(err)
	}

	if err := s.RestoreComplete("s1_run_1"); err != nil {
		t.Fatalf("RestoreComplete failed: %v", err)
	}

	after := testutil.ReadTree(t, root, ".snapshots")
	before["workflow_state.json"] = `{"s1":"pending"}`
	if !reflect.DeepEqual(before, after) {
		t.Errorf("restored tree mismatch:\nwant: %v\ngot:  %v", before, after)
	}

	// Staging dirs must not be left behind.
	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if len(e.Name()) > len(stagingPrefix) && e.Name()[:len(stagingPrefix)] == stagingPrefix {
			t.Errorf("staging dir %s left behind", e.Name())
		}
	}
}

func TestTakeComplete_ExcludesSnapshotDir(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.txt": "a"})

	if err := s.TakeComplete("first"); err != nil {
		t.Fatal(err)
	}
	if err := s.TakeComplete("second"); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFiles(t, s.ProjectDir(), map[string]string{"a.txt": "changed"})

	if err := s.RestoreComplete("first"); err != nil {
		t.Fatalf("RestoreComplete failed: %v", err)
	}
	if !s.Exists("second") {
		t.Error("restoring must not remove archives taken later")
	}
	testutil.AssertFileContent(t, filepath.Join(s.ProjectDir(), "a.txt"), "a")
}

func TestRestoreComplete_PreservesModeAndMtime(t *testing.T) {
	s := newTestStore(t, map[string]string{"run.sh": "#!/bin/sh\n"})
	path := filepath.Join(s.ProjectDir(), "run.sh")
	if err := os.Chmod(path, 0750); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	if err := s.TakeComplete("snap"); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.RestoreComplete("snap"); err != nil {
		t.Fatal(err)
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if fi.Mode().Perm() != 0750 {
		t.Errorf("mode = %v, want 0750", fi.Mode().Perm())
	}
	if !fi.ModTime().Equal(mtime) {
		t.Errorf("mtime = %v, want %v", fi.ModTime(), mtime)
	}
}

func TestRestoreComplete_NotFound(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.txt": "a"})

	err := s.RestoreComplete("missing")
	if !sferrors.Is(err, sferrors.ErrSnapshotNotFound) {
		t.Fatalf("RestoreComplete() error = %v, want ErrSnapshotNotFound", err)
	}
	testutil.AssertFileContent(t, filepath.Join(s.ProjectDir(), "a.txt"), "a")
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.txt": "a"})

	if err := s.TakeComplete("snap"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("snap"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Exists("snap") {
		t.Error("Exists() = true after Delete")
	}
	if err := s.Delete("snap"); err != nil {
		t.Errorf("deleting a missing snapshot should succeed, got %v", err)
	}
}

func TestInvalidNames(t *testing.T) {
	s := newTestStore(t, nil)

	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := s.TakeComplete(name); err == nil {
			t.Errorf("TakeComplete(%q) should fail", name)
		}
		if s.Exists(name) {
			t.Errorf("Exists(%q) should be false", name)
		}
	}
}

func TestSelective_RoundTrip(t *testing.T) {
	s := newTestStore(t, map[string]string{
		"out/result.txt": "original",
		"config.ini":     "x=1",
		"other.txt":      "untouched",
	})
	root := s.ProjectDir()

	if err := s.TakeSelective("s1", []string{"out", "config.ini", "missing.txt"}); err != nil {
		t.Fatalf("TakeSelective failed: %v", err)
	}
	if !s.SelectiveExists("s1") {
		t.Fatal("SelectiveExists() = false")
	}

	testutil.WriteFiles(t, root, map[string]string{
		"out/result.txt": "modified",
		"out/new.txt":    "created by step",
		"config.ini":     "x=2",
		"other.txt":      "edited elsewhere",
	})

	if err := s.RestoreSelective("s1", []string{"out", "config.ini", "missing.txt"}); err != nil {
		t.Fatalf("RestoreSelective failed: %v", err)
	}

	testutil.AssertFileContent(t, filepath.Join(root, "out", "result.txt"), "original")
	testutil.AssertFileContent(t, filepath.Join(root, "config.ini"), "x=1")
	testutil.AssertNotExists(t, filepath.Join(root, "out", "new.txt"))
	testutil.AssertFileContent(t, filepath.Join(root, "other.txt"), "edited elsewhere")
}

func TestRestoreSelective_NotFound(t *testing.T) {
	s := newTestStore(t, nil)

	if err := s.RestoreSelective("s1", []string{"x"}); !sferrors.Is(err, sferrors.ErrSnapshotNotFound) {
		t.Errorf("RestoreSelective() error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t, map[string]string{"a.txt": "a"})

	for _, name := range []string{"b", "a"} {
		if err := s.TakeComplete(name); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.TakeSelective("s1", []string{"a.txt"}); err != nil {
		t.Fatal(err)
	}

	infos, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
		if info.Size == 0 {
			t.Errorf("%s has zero size", info.Name)
		}
	}
	want := []string{"a_complete.zip", "b_complete.zip", "s1.zip"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List() names = %v, want %v", names, want)
	}
}

func TestTakeComplete_SkipsSymlinks(t *testing.T) {
	s := newTestStore(t, map[string]string{"target.txt": "t"})
	root := s.ProjectDir()
	if err := os.Symlink(filepath.Join(root, "target.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	if err := s.TakeComplete("snap"); err != nil {
		t.Fatalf("TakeComplete failed: %v", err)
	}
	if err := s.RestoreComplete("snap"); err != nil {
		t.Fatalf("RestoreComplete failed: %v", err)
	}

	testutil.AssertFileContent(t, filepath.Join(root, "target.txt"), "t")
	testutil.AssertNotExists(t, filepath.Join(root, "link.txt"))
}
