package workspace

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFSStore(filepath.Join(t.TempDir(), "workspace"))
	if err != nil {
		t.Fatalf("new fs store: %v", err)
	}
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "workspace.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() {
		fsStore.Close()
		sqliteStore.Close()
	})
	return map[string]Store{"fs": fsStore, "sqlite": sqliteStore}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Read("app/x.ts"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound before write, got %v", err)
			}
			if err := store.Write("app/x.ts", "console.log(1)"); err != nil {
				t.Fatalf("write: %v", err)
			}
			content, err := store.Read("app/x.ts")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if content != "console.log(1)" {
				t.Fatalf("unexpected content %q", content)
			}
			exists, err := store.Exists("app/x.ts")
			if err != nil || !exists {
				t.Fatalf("expected file to exist, got %v %v", exists, err)
			}
			if err := store.Write("app/x.ts", "console.log(2)"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			content, err = store.Read("app/x.ts")
			if err != nil || content != "console.log(2)" {
				t.Fatalf("expected overwrite visible, got %q %v", content, err)
			}
			if err := store.Delete("app/x.ts"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			exists, err = store.Exists("app/x.ts")
			if err != nil || exists {
				t.Fatalf("expected file gone, got %v %v", exists, err)
			}
			if err := store.Delete("app/x.ts"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for repeated delete, got %v", err)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			files := map[string]string{
				"a/b.ts":   "b",
				"a/c/d.ts": "d",
				"x.ts":     "x",
			}
			for p, content := range files {
				if err := store.Write(p, content); err != nil {
					t.Fatalf("write %s: %v", p, err)
				}
			}
			all, err := store.List("")
			if err != nil {
				t.Fatalf("list root: %v", err)
			}
			wantAll := []string{"a/b.ts", "a/c/d.ts", "x.ts"}
			if len(all) != len(wantAll) {
				t.Fatalf("expected %d entries, got %d", len(wantAll), len(all))
			}
			for i, entry := range all {
				if entry.Path != wantAll[i] {
					t.Fatalf("entry %d: expected %s, got %s", i, wantAll[i], entry.Path)
				}
				if entry.Size != int64(len(files[entry.Path])) {
					t.Fatalf("entry %s: unexpected size %d", entry.Path, entry.Size)
				}
			}
			under, err := store.List("a")
			if err != nil {
				t.Fatalf("list a: %v", err)
			}
			if len(under) != 2 || under[0].Path != "a/b.ts" || under[1].Path != "a/c/d.ts" {
				t.Fatalf("unexpected dir listing: %+v", under)
			}
			missing, err := store.List("nope")
			if err != nil {
				t.Fatalf("list missing dir: %v", err)
			}
			if len(missing) != 0 {
				t.Fatalf("expected empty listing for missing dir, got %+v", missing)
			}
		})
	}
}

func TestStoreNormalizesUIRelativePaths(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Write("./workspace/app/x.ts", "one"); err != nil {
				t.Fatalf("write: %v", err)
			}
			content, err := store.Read("app/x.ts")
			if err != nil || content != "one" {
				t.Fatalf("expected bare path to resolve, got %q %v", content, err)
			}
			exists, err := store.Exists("./app/x.ts")
			if err != nil || !exists {
				t.Fatalf("expected ./ form to resolve, got %v %v", exists, err)
			}
		})
	}
}

func TestStoreRejectsBadPaths(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			bad := []string{"", "../evil", "/etc/passwd", "a/../../b", "a\\b"}
			for _, p := range bad {
				if err := store.Write(p, "x"); !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("write %q: expected ErrInvalidPath, got %v", p, err)
				}
				if _, err := store.Read(p); !errors.Is(err, ErrInvalidPath) {
					t.Fatalf("read %q: expected ErrInvalidPath, got %v", p, err)
				}
			}
		})
	}
}

func TestStoreClear(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Write("a/b.ts", "b"); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := store.Clear(); err != nil {
				t.Fatalf("clear: %v", err)
			}
			all, err := store.List("")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(all) != 0 {
				t.Fatalf("expected empty workspace, got %+v", all)
			}
			if err := store.Write("a/b.ts", "again"); err != nil {
				t.Fatalf("write after clear: %v", err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"app/x.ts":             "app/x.ts",
		"./app/x.ts":           "app/x.ts",
		"workspace/app/x.ts":   "app/x.ts",
		"./workspace/app/x.ts": "app/x.ts",
		"  app/x.ts  ":         "app/x.ts",
		"a/./b.ts":             "a/b.ts",
	}
	for input, want := range cases {
		got, err := Normalize(input)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
	for _, bad := range []string{"", ".", "./", "..", "../x", "a/../../b", "/abs", "a\\b", "workspace/"} {
		if _, err := Normalize(bad); err == nil {
			t.Fatalf("Normalize(%q): expected error", bad)
		}
	}
}

func TestSamePath(t *testing.T) {
	if !SamePath("./app/x.ts", "workspace/app/x.ts") {
		t.Fatal("expected UI forms to match")
	}
	if SamePath("./app/x.ts", "./app/y.ts") {
		t.Fatal("expected distinct files to differ")
	}
}

func TestAutosaverDebounce(t *testing.T) {
	store, err := NewFSStore(filepath.Join(t.TempDir(), "workspace"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	saver := NewAutosaver(store, 25*time.Millisecond)
	if err := saver.Set("notes.md", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := saver.Set("notes.md", "v2"); err != nil {
		t.Fatalf("set: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		content, err := store.Read("notes.md")
		if err == nil {
			if content != "v2" {
				t.Fatalf("expected last write to win, got %q", content)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("autosave never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if saver.Pending() != 0 {
		t.Fatalf("expected no pending writes, got %d", saver.Pending())
	}
}

func TestAutosaverFlushAndClose(t *testing.T) {
	store, err := NewFSStore(filepath.Join(t.TempDir(), "workspace"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	saver := NewAutosaver(store, time.Minute)
	if err := saver.Set("a.txt", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := saver.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if content, err := store.Read("a.txt"); err != nil || content != "a" {
		t.Fatalf("expected flushed content, got %q %v", content, err)
	}
	if err := saver.Set("b.txt", "b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := saver.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if content, err := store.Read("b.txt"); err != nil || content != "b" {
		t.Fatalf("expected close to flush, got %q %v", content, err)
	}
}

func TestAutosaverRejectsBadPath(t *testing.T) {
	store, err := NewFSStore(filepath.Join(t.TempDir(), "workspace"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	saver := NewAutosaver(store, time.Minute)
	if err := saver.Set("../evil", "x"); !errors.Is(err, ErrInvalidPath) {
		t.Fatalf("expected ErrInvalidPath, got %v", err)
	}
}
