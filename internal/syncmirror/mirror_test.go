package syncmirror

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Iron-Ham/stepflow/internal/event"
	"github.com/Iron-Ham/stepflow/internal/testutil"
)

func newTestMirror(t *testing.T, network, local map[string]string) *Mirror {
	t.Helper()
	root := t.TempDir()
	netDir := filepath.Join(root, "network")
	localDir := filepath.Join(root, "local")
	testutil.WriteFiles(t, netDir, network)
	if local != nil {
		testutil.WriteFiles(t, localDir, local)
	}
	m, err := New(Config{
		NetworkDir:     netDir,
		LocalDir:       localDir,
		MtimeTolerance: 2 * time.Second,
		Private:        []string{".workflow_logs"},
	}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m
}

func TestNew_RequiresBothDirs(t *testing.T) {
	if _, err := New(Config{NetworkDir: "/n"}, nil); err == nil {
		t.Error("expected error without a local dir")
	}
	if _, err := New(Config{LocalDir: "/l"}, nil); err == nil {
		t.Error("expected error without a network dir")
	}
}

func TestDiff(t *testing.T) {
	m := newTestMirror(t,
		map[string]string{
			"same.txt":                    "same",
			"changed.txt":                 "new content",
			"added/file.txt":              "added",
			"emptydir/":                   "",
			".workflow_status/s1.success": "",
			".DS_Store":                   "cruft",
		},
		map[string]string{
			"same.txt":     "same",
			"changed.txt":  "old",
			"gone/a.txt":   "a",
			"gone/b/c.txt": "c",
			"stale.txt":    "stale",
			".git/HEAD":    "ref",
		},
	)
	// Align mtimes of the unchanged file.
	mtime := time.Now().Add(-time.Hour)
	for _, dir := range []string{m.NetworkDir(), m.LocalDir()} {
		if err := os.Chtimes(filepath.Join(dir, "same.txt"), mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}

	ops, err := m.Diff(m.NetworkDir(), m.LocalDir())
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}

	want := []Operation{
		{Kind: OpCopy, Path: ".workflow_status", IsDir: true},
		{Kind: OpCopy, Path: ".workflow_status/s1.success"},
		{Kind: OpCopy, Path: "added", IsDir: true},
		{Kind: OpCopy, Path: "added/file.txt"},
		{Kind: OpCopy, Path: "changed.txt"},
		{Kind: OpCopy, Path: "emptydir", IsDir: true},
		{Kind: OpDelete, Path: "gone", IsDir: true},
		{Kind: OpDelete, Path: "stale.txt"},
	}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("Diff() =\n%v\nwant\n%v", ops, want)
	}
}

func TestDiff_MtimeTolerance(t *testing.T) {
	m := newTestMirror(t, map[string]string{"f.txt": "abc"}, map[string]string{"f.txt": "xyz"})
	base := time.Now().Add(-time.Hour)
	src := filepath.Join(m.NetworkDir(), "f.txt")
	dst := filepath.Join(m.LocalDir(), "f.txt")

	tests := []struct {
		name   string
		offset time.Duration
		want   int
	}{
		{"within tolerance", time.Second, 0},
		{"at tolerance", 2 * time.Second, 0},
		{"beyond tolerance", 3 * time.Second, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.Chtimes(src, base, base); err != nil {
				t.Fatal(err)
			}
			if err := os.Chtimes(dst, base.Add(tt.offset), base.Add(tt.offset)); err != nil {
				t.Fatal(err)
			}
			ops, err := m.Diff(m.NetworkDir(), m.LocalDir())
			if err != nil {
				t.Fatal(err)
			}
			if len(ops) != tt.want {
				t.Errorf("Diff() = %v, want %d ops", ops, tt.want)
			}
		})
	}
}

func TestDiff_MissingSource(t *testing.T) {
	m := newTestMirror(t, nil, nil)
	if _, err := m.Diff(filepath.Join(t.TempDir(), "missing"), m.LocalDir()); err == nil {
		t.Error("expected error for a missing source")
	}
}

func TestSyncDown_Idempotent(t *testing.T) {
	m := newTestMirror(t, map[string]string{
		"data/a.csv":                       "1,2",
		"scripts/run.py":                   "print('x')",
		".snapshots/s1_run_1_complete.zip": "zip",
		"workflow_state.json":              "{}",
	}, nil)

	if !m.InitialSync() {
		t.Fatal("InitialSync() = false")
	}
	want := testutil.ReadTree(t, m.NetworkDir())
	got := testutil.ReadTree(t, m.LocalDir(), SyncLogName)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("local tree = %v, want %v", got, want)
	}

	if !m.SyncDown() {
		t.Fatal("first SyncDown() = false")
	}
	ops, err := m.Diff(m.NetworkDir(), m.LocalDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 0 {
		t.Errorf("expected no operations after sync, got %v", ops)
	}
	if !m.SyncDown() {
		t.Fatal("second SyncDown() = false")
	}

	log := m.SyncLog()
	if len(log) != 3 {
		t.Fatalf("sync log has %d entries, want 3", len(log))
	}
	if log[2].Operation != "sync_down" || log[2].Details != "copied 0, deleted 0, failed 0" {
		t.Errorf("last log entry = %+v", log[2])
	}
}

func TestSyncUp_PropagatesChangesAndDeletes(t *testing.T) {
	m := newTestMirror(t, map[string]string{"keep.txt": "k", "old/x.txt": "x"}, nil)
	if !m.InitialSync() {
		t.Fatal("InitialSync() = false")
	}

	local := m.LocalDir()
	testutil.WriteFiles(t, local, map[string]string{
		"keep.txt":                 "changed size",
		"out/result.txt":           "result",
		".workflow_logs/debug.log": "private",
	})
	if err := os.RemoveAll(filepath.Join(local, "old")); err != nil {
		t.Fatal(err)
	}

	if !m.SyncUp() {
		t.Fatal("SyncUp() = false")
	}

	got := testutil.ReadTree(t, m.NetworkDir())
	want := map[string]string{"keep.txt": "changed size", "out/result.txt": "result"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("network tree = %v, want %v", got, want)
	}
}

func TestSync_ReplacesTypeMismatch(t *testing.T) {
	m := newTestMirror(t, map[string]string{"thing/inner.txt": "i"}, map[string]string{"thing": "was a file"})

	if !m.SyncDown() {
		t.Fatal("SyncDown() = false")
	}
	testutil.AssertFileContent(t, filepath.Join(m.LocalDir(), "thing", "inner.txt"), "i")
}

func TestSyncLog_Capped(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, filepath.Join(root, "n"), map[string]string{"a": "a"})
	m, err := New(Config{NetworkDir: filepath.Join(root, "n"), LocalDir: filepath.Join(root, "l"), LogLimit: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if !m.SyncDown() {
			t.Fatalf("SyncDown %d failed", i)
		}
	}
	log := m.SyncLog()
	if len(log) != 3 {
		t.Fatalf("sync log has %d entries, want 3", len(log))
	}
	for _, e := range log {
		if e.Timestamp == "" || e.Operation != "sync_down" {
			t.Errorf("unexpected entry %+v", e)
		}
	}
}

func TestSync_PublishesEvent(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, filepath.Join(root, "n"), map[string]string{"a": "a", "b": "b"})
	bus := event.NewBus(nil)
	m, err := New(Config{NetworkDir: filepath.Join(root, "n"), LocalDir: filepath.Join(root, "l"), Bus: bus}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var got []event.SyncFinishedEvent
	bus.Subscribe(event.TypeSyncFinished, func(e event.Event) {
		got = append(got, e.(event.SyncFinishedEvent))
	})

	if !m.SyncDown() {
		t.Fatal("SyncDown() = false")
	}
	if len(got) != 1 || got[0].Direction != DirectionDown || got[0].Copied != 2 || !got[0].Succeeded {
		t.Errorf("events = %+v", got)
	}
}

func TestSyncDown_UnreachableNetwork(t *testing.T) {
	root := t.TempDir()
	m, err := New(Config{NetworkDir: filepath.Join(root, "offline"), LocalDir: filepath.Join(root, "l")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if m.SyncDown() {
		t.Error("SyncDown() should report failure when the network tree is missing")
	}
}
