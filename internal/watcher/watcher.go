// Package watcher watches the photo library with fsnotify and ingests new
// or rewritten images while the server runs.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches a directory tree and invokes a callback for changed image
// files. There is no remove callback: the similarity index is append-only,
// deleted files simply stop being served.
type Watcher struct {
	root        string
	extensions  []string
	onAdd       func(path string)
	debounce    time.Duration
	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	started     bool
	stopOnce    sync.Once
	done        chan struct{}
	logger      *zap.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher over root. onAdd is called, debounced, for each new
// or modified file whose extension is in extensions (empty = all files).
func New(root string, extensions []string, onAdd func(path string), opts ...Option) *Watcher {
	w := &Watcher{
		root:        root,
		extensions:  extensions,
		onAdd:       onAdd,
		debounce:    defaultDebounce,
		debounceMap: make(map[string]*time.Timer),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if err := w.addTreeLocked(w.root); err != nil {
		_ = w.watcher.Close()
		w.watcher = nil
		w.started = false
		w.mu.Unlock()
		return err
	}
	if w.logger != nil {
		w.logger.Debug("watcher started", zap.String("root", w.root), zap.Strings("extensions", w.extensions))
	}
	w.mu.Unlock()
	go w.run(ctx)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
		for _, timer := range w.debounceMap {
			timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("watch error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		// New subdirectory: watch it and pick up anything already inside.
		if event.Op&fsnotify.Create != 0 {
			w.mu.Lock()
			_ = w.addTreeLocked(event.Name)
			w.mu.Unlock()
			w.scanDir(event.Name)
		}
		return
	}
	if !w.matchesExtension(event.Name) {
		return
	}
	w.scheduleAdd(event.Name)
}

// scheduleAdd debounces per path so a file still being written is ingested
// once, after writes settle.
func (w *Watcher) scheduleAdd(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.debounceMap[path]; ok {
		timer.Stop()
	}
	w.debounceMap[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.debounceMap, path)
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.Debug("file event settled", zap.String("path", path))
		}
		w.onAdd(path)
	})
}

func (w *Watcher) scanDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.matchesExtension(path) {
			w.scheduleAdd(path)
		}
		return nil
	})
}

func (w *Watcher) addTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) matchesExtension(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range w.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
