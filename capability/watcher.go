package capability

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce duration for file change events.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithReloadHook registers a function called after every reload attempt.
// err is nil when the new catalog was applied.
func WithReloadHook(fn func(err error)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// Watcher reloads a catalog file into a Registry when its content changes.
// It watches the directory containing the file so atomic saves are seen.
type Watcher struct {
	path      string
	registry  *Registry
	factories FactoryMap
	debounce  time.Duration
	logger    *slog.Logger
	onReload  func(error)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lastHash  string

	mu      sync.Mutex
	pending time.Time
}

// NewWatcher creates a Watcher for the catalog at path.
func NewWatcher(path string, registry *Registry, factories FactoryMap, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		path:      filepath.Clean(path),
		registry:  registry,
		factories: factories,
		debounce:  300 * time.Millisecond,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start records the current content hash and begins watching.
func (w *Watcher) Start() error {
	hash, err := fileHash(w.path)
	if err != nil {
		return fmt.Errorf("catalog watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: create fsnotify: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("catalog watcher: watch %s: %w", dir, err)
	}
	w.fsWatcher = fsw
	w.done = make(chan struct{})

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the background goroutine to exit.
// It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	if w.done == nil {
		return nil
	}
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	return w.fsWatcher.Close()
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("catalog watcher error", "error", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := !w.pending.IsZero() && time.Since(w.pending) >= w.debounce
			if ready {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if ready {
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	hash, err := fileHash(w.path)
	if err != nil {
		w.logger.Error("catalog watcher: failed to hash catalog", "path", w.path, "error", err)
		w.notify(err)
		return
	}
	if hash == w.lastHash {
		w.logger.Debug("catalog watcher: content unchanged, skipping", "path", w.path)
		return
	}

	descs, err := LoadCatalogFile(w.path)
	if err == nil {
		err = w.registry.LoadCatalog(descs, w.factories)
	}
	if err != nil {
		w.logger.Error("catalog watcher: reload failed, keeping previous catalog", "path", w.path, "error", err)
		w.notify(err)
		return
	}

	w.logger.Info("Catalog reloaded", "path", w.path, "capabilities", len(descs), "old_hash", w.lastHash[:8], "new_hash", hash[:8])
	w.lastHash = hash
	w.notify(nil)
}

func (w *Watcher) notify(err error) {
	if w.onReload != nil {
		w.onReload(err)
	}
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
