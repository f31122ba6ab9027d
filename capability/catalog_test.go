package capability

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuiltinCatalog(t *testing.T) {
	descs, err := BuiltinCatalog()
	if err != nil {
		t.Fatalf("BuiltinCatalog failed: %v", err)
	}
	byID := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		byID[d.ID] = d
	}
	for _, id := range []string{"read-file", "write-file", "count-lines", "jq", "expr", "llm", "http-request"} {
		if _, ok := byID[id]; !ok {
			t.Errorf("builtin catalog is missing %q", id)
		}
	}
	rf := byID["read-file"]
	if !rf.HasOutput("content") || !rf.Accepts("file_path") || !rf.Accepts("encoding") {
		t.Errorf("read-file descriptor incomplete: %+v", rf)
	}
}

func TestParseCatalogDuplicate(t *testing.T) {
	_, err := ParseCatalog([]byte("capabilities:\n  - id: a\n  - id: a\n"))
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

const watchCatalogV1 = "capabilities:\n  - id: one\n    impl: echo\n"
const watchCatalogV2 = "capabilities:\n  - id: one\n    impl: echo\n  - id: two\n    impl: echo\n"

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(watchCatalogV1), 0o600); err != nil {
		t.Fatal(err)
	}

	factories := FactoryMap{"echo": echoFactory}
	descs, err := LoadCatalogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	if err := reg.LoadCatalog(descs, factories); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan error, 4)
	w := NewWatcher(path, reg, factories,
		WithWatchDebounce(20*time.Millisecond),
		WithReloadHook(func(err error) { reloaded <- err }))
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := os.WriteFile(path, []byte(watchCatalogV2), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if reg.Len() != 2 {
		t.Fatalf("expected 2 capabilities after reload, got %d", reg.Len())
	}
}

func TestWatcherKeepsCatalogOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(watchCatalogV1), 0o600); err != nil {
		t.Fatal(err)
	}
	factories := FactoryMap{"echo": echoFactory}
	reg := NewRegistry()
	descs, _ := LoadCatalogFile(path)
	if err := reg.LoadCatalog(descs, factories); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan error, 4)
	w := NewWatcher(path, reg, factories,
		WithWatchDebounce(20*time.Millisecond),
		WithReloadHook(func(err error) { reloaded <- err }))
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = w.Stop() }()

	if err := os.WriteFile(path, []byte("capabilities:\n  - id: one\n    impl: missing\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-reloaded:
		if err == nil {
			t.Fatal("expected reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
	if _, _, err := reg.Bind("one"); err != nil {
		t.Fatalf("previous catalog should be kept: %v", err)
	}
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w := NewWatcher("catalog.yaml", NewRegistry(), nil)
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop without Start: %v", err)
	}
}
